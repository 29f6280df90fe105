package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"credence/internal/checklist"
	"credence/internal/config"
	"credence/internal/evidence"
	"credence/internal/extraction"
	"credence/internal/logging"
	"credence/internal/review"
	"credence/internal/session"
	"credence/internal/testsupport"
	"credence/internal/validation"
	"credence/internal/workflow"
)

func testChecklist() *checklist.Checklist {
	return &checklist.Checklist{
		Methodology: "VM0007",
		Requirements: []checklist.Requirement{
			{ID: "land-tenure", Text: "Demonstrate clear land tenure.", Category: "eligibility", Fields: []string{"holder_name"}},
			{ID: "start-date", Text: "Evidence the project start date.", Category: "eligibility", Fields: []string{"grant_date"}},
			{ID: "registration", Text: "Confirm the registry identifier.", Category: "registration", Fields: []string{"project_id"}},
		},
	}
}

func testDocuments() []session.Document {
	return []session.Document{
		{ID: "doc-registry", Classification: "registry", Confidence: 0.95, SourcePath: "/in/registry.pdf", Health: "ok",
			Text: "Registry export: VCS-1234, holder John Smith, granted 2024-01-01."},
		{ID: "doc-deed", Classification: "narrative", Confidence: 0.9, SourcePath: "/in/deed.pdf", Health: "ok",
			Text: "Deed narrative naming John Smith, project VCS-1234, dated 2024-01-05."},
	}
}

// fakeExtractionServer answers with one field per requested name from a
// fixed answer table.
func fakeExtractionServer(t *testing.T, answers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Fields  []string `json:"fields"`
			Context string   `json:"context"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		type field struct {
			Name       string  `json:"name"`
			Value      string  `json:"value"`
			Confidence float64 `json:"confidence"`
		}
		resp := struct {
			Fields []field `json:"fields"`
		}{Fields: []field{}}
		for _, name := range req.Fields {
			if value, ok := answers[name]; ok {
				resp.Fields = append(resp.Fields, field{Name: name, Value: value, Confidence: 0.9})
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestManager(t *testing.T, cfg *config.Config, url string) (*workflow.Manager, *session.Store, *review.Ledger) {
	t.Helper()
	cfg.Extraction.BaseURL = url
	cfg.Extraction.RetryMaxAttempts = 2
	store := testsupport.MustOpenStore(t, cfg)
	ledger := testsupport.MustOpenLedger(t, cfg)
	client := extraction.NewClient(cfg.Extraction,
		extraction.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	manager := workflow.NewManager(cfg, store, ledger, client, testChecklist(), logging.NewNop())
	return manager, store, ledger
}

func TestWorkflowEndToEnd(t *testing.T) {
	srv := fakeExtractionServer(t, map[string]string{
		"holder_name": "John Smith",
		"grant_date":  "2024-01-01",
		"project_id":  "VCS-1234",
	})
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	manager, store, _ := newTestManager(t, cfg, srv.URL)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	if err := manager.RegisterDocuments(ctx, sess.ID, testDocuments(), workflow.RunOptions{}); err != nil {
		t.Fatalf("RegisterDocuments: %v", err)
	}
	if err := manager.Advance(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != session.StageReportGenerated {
		t.Fatalf("stage = %s, want %s", got.Stage, session.StageReportGenerated)
	}

	var report workflow.Report
	if err := store.Read(sess.ID, session.KeyReport, &report); err != nil {
		t.Fatalf("read report: %v", err)
	}
	if report.Partial {
		t.Fatalf("report unexpectedly partial: %+v", report.Failures)
	}
	if len(report.Evidence) != len(testChecklist().Requirements) {
		t.Fatalf("evidence for %d requirements, want %d", len(report.Evidence), len(testChecklist().Requirements))
	}
	for _, item := range report.Evidence {
		if item.Status != evidence.StatusCovered {
			t.Fatalf("requirement %s status = %s, want covered", item.RequirementID, item.Status)
		}
		if !item.Corroborated {
			t.Fatalf("requirement %s not corroborated despite two agreeing documents", item.RequirementID)
		}
	}
	if len(report.Conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %+v", report.Conflicts)
	}
	if report.Usage.Calls == 0 {
		t.Fatal("usage accounting missing from report")
	}

	// No conflicts, so review completes without any recorded decision.
	if err := manager.CompleteReview(ctx, sess.ID, "reviewer-a", workflow.RunOptions{}); err != nil {
		t.Fatalf("CompleteReview: %v", err)
	}
	if err := manager.Complete(ctx, sess.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, _ = store.Get(sess.ID)
	if got.Stage != session.StageCompleted {
		t.Fatalf("stage = %s, want %s", got.Stage, session.StageCompleted)
	}
}

func TestAdvanceRequiresDocuments(t *testing.T) {
	srv := fakeExtractionServer(t, nil)
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	manager, store, _ := newTestManager(t, cfg, srv.URL)
	sess := testsupport.NewSession(t, store, cfg)

	if err := manager.Advance(context.Background(), sess.ID, workflow.RunOptions{}); err == nil {
		t.Fatal("Advance on an empty session must fail")
	}
}

func TestExtractEvidenceRecordsPerRequirementFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Fields []string `json:"fields"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		for _, f := range req.Fields {
			if f == "grant_date" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"fields": []map[string]any{
			{"name": req.Fields[0], "value": "John Smith", "confidence": 0.9},
		}})
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	manager, store, _ := newTestManager(t, cfg, srv.URL)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	if err := manager.RegisterDocuments(ctx, sess.ID, testDocuments(), workflow.RunOptions{}); err != nil {
		t.Fatalf("RegisterDocuments: %v", err)
	}
	if err := manager.ExtractEvidence(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("ExtractEvidence: %v", err)
	}

	var ev workflow.EvidenceArtifact
	if err := store.Read(sess.ID, session.KeyEvidence, &ev); err != nil {
		t.Fatalf("read evidence: %v", err)
	}
	if _, ok := ev.Failures["start-date"]; !ok {
		t.Fatalf("start-date failure not recorded: %+v", ev.Failures)
	}
	// The failed requirement must not abort the others.
	if len(ev.Items) != len(testChecklist().Requirements) {
		t.Fatalf("evidence items = %d, want %d", len(ev.Items), len(testChecklist().Requirements))
	}

	got, _ := store.Get(sess.ID)
	if got.Stage != session.StageEvidenceExtracted {
		t.Fatalf("stage = %s, want %s", got.Stage, session.StageEvidenceExtracted)
	}
}

func TestValidateResumesFromCheckpoint(t *testing.T) {
	srv := fakeExtractionServer(t, map[string]string{
		"holder_name": "John Smith",
		"grant_date":  "2024-01-01",
		"project_id":  "VCS-1234",
	})
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	manager, store, _ := newTestManager(t, cfg, srv.URL)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	if err := manager.RegisterDocuments(ctx, sess.ID, testDocuments(), workflow.RunOptions{}); err != nil {
		t.Fatalf("RegisterDocuments: %v", err)
	}
	if err := manager.ExtractEvidence(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("ExtractEvidence: %v", err)
	}

	// Simulate an interrupted run: one validator already completed with a
	// recognizable result id.
	seeded := validation.Result{
		ID:          "seeded-result",
		ValidatorID: "date_alignment",
		Type:        "date_alignment",
		Status:      validation.StatusPass,
		Field:       "grant_date",
	}
	type checkpoint struct {
		RunID     string                         `json:"run_id"`
		Completed []string                       `json:"completed"`
		Results   map[string][]validation.Result `json:"results"`
	}
	err := store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		_, err := tx.Write(session.KeyValidationCheckpoint, checkpoint{
			RunID:     "interrupted-run",
			Completed: []string{"date_alignment"},
			Results:   map[string][]validation.Result{"date_alignment": {seeded}},
		}, session.WriteOptions{})
		return err
	})
	if err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if err := manager.Validate(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var artifact workflow.ValidationArtifact
	if err := store.Read(sess.ID, session.KeyValidation, &artifact); err != nil {
		t.Fatalf("read validation: %v", err)
	}
	run, ok := artifact.Active()
	if !ok {
		t.Fatal("no active validation run")
	}
	if run.RunID != "interrupted-run" {
		t.Fatalf("run id = %s, want the interrupted run resumed", run.RunID)
	}

	// The completed validator's results are reused, the remaining ones run.
	foundSeeded := false
	validators := map[string]bool{}
	for _, r := range run.Results {
		validators[r.ValidatorID] = true
		if r.ID == "seeded-result" {
			foundSeeded = true
		}
	}
	if !foundSeeded {
		t.Fatal("checkpointed result was re-run instead of reused")
	}
	for _, id := range []string{"land_tenure", "project_id"} {
		if !validators[id] {
			t.Fatalf("validator %s did not run on resume", id)
		}
	}
}

func TestReRunSupersedesPriorValidationRun(t *testing.T) {
	srv := fakeExtractionServer(t, map[string]string{
		"holder_name": "John Smith",
		"grant_date":  "2024-01-01",
		"project_id":  "VCS-1234",
	})
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	manager, store, _ := newTestManager(t, cfg, srv.URL)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	if err := manager.RegisterDocuments(ctx, sess.ID, testDocuments(), workflow.RunOptions{}); err != nil {
		t.Fatalf("RegisterDocuments: %v", err)
	}
	if err := manager.ExtractEvidence(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("ExtractEvidence: %v", err)
	}
	if err := manager.Validate(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("first Validate: %v", err)
	}
	if err := manager.Validate(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("second Validate: %v", err)
	}

	var artifact workflow.ValidationArtifact
	if err := store.Read(sess.ID, session.KeyValidation, &artifact); err != nil {
		t.Fatalf("read validation: %v", err)
	}
	if len(artifact.Runs) != 2 {
		t.Fatalf("runs = %d, want 2 (append, never overwrite)", len(artifact.Runs))
	}
	if !artifact.Runs[0].Superseded {
		t.Fatal("first run must be superseded")
	}
	if artifact.Runs[1].Superseded {
		t.Fatal("second run must be active")
	}
}

func TestCompleteReviewBlocksOnUnresolvedConflict(t *testing.T) {
	srv := fakeExtractionServer(t, nil)
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	manager, store, ledger := newTestManager(t, cfg, srv.URL)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	// Stage the session at REPORT_GENERATED with one conflict on record.
	run := workflow.ValidationRun{
		RunID: "run-1",
		Results: []validation.Result{
			{ID: "res-structured", ValidatorID: "date_alignment", Field: "grant_date", Status: validation.StatusPass, Basis: validation.BasisStructured},
			{ID: "res-narrative", ValidatorID: "land_tenure", Field: "grant_date", Status: validation.StatusFail, Basis: validation.BasisNarrative},
		},
		Conflicts: []validation.Conflict{{
			ID:                    "conf-1",
			ResultIDs:             []string{"res-narrative", "res-structured"},
			Severity:              validation.SeverityHigh,
			Rule:                  "contradictory_status_same_field",
			RecommendedPrecedence: "res-structured",
			PrecedenceKnown:       true,
		}},
	}
	err := store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		if _, err := tx.Write(session.KeyDocuments, session.DocumentSet{Documents: testDocuments()}, session.WriteOptions{}); err != nil {
			return err
		}
		if err := tx.Transition(session.StageInitialized, session.StageDocumentsDiscovered, session.TransitionOptions{}); err != nil {
			return err
		}
		if _, err := tx.Write(session.KeyEvidence, workflow.EvidenceArtifact{}, session.WriteOptions{}); err != nil {
			return err
		}
		if err := tx.Transition(session.StageDocumentsDiscovered, session.StageEvidenceExtracted, session.TransitionOptions{}); err != nil {
			return err
		}
		if _, err := tx.Write(session.KeyValidation, workflow.ValidationArtifact{Runs: []workflow.ValidationRun{run}}, session.WriteOptions{}); err != nil {
			return err
		}
		if err := tx.Transition(session.StageEvidenceExtracted, session.StageValidated, session.TransitionOptions{}); err != nil {
			return err
		}
		if _, err := tx.Write(session.KeyReport, workflow.Report{SessionID: sess.ID}, session.WriteOptions{}); err != nil {
			return err
		}
		return tx.Transition(session.StageValidated, session.StageReportGenerated, session.TransitionOptions{})
	})
	if err != nil {
		t.Fatalf("stage setup: %v", err)
	}

	err = manager.CompleteReview(ctx, sess.ID, "reviewer-a", workflow.RunOptions{})
	if !errors.Is(err, review.ErrConflictUnresolved) {
		t.Fatalf("err = %v, want ErrConflictUnresolved", err)
	}

	// Deciding the conflict unblocks completion.
	_, err = ledger.RecordDecision(ctx, review.Request{
		SessionID:          sess.ID,
		Target:             review.Target{ID: "conf-1", Kind: review.TargetConflict},
		Kind:               review.KindAccept,
		Actor:              "reviewer-a",
		PrecedenceResultID: "res-structured",
	})
	if err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if err := manager.CompleteReview(ctx, sess.ID, "reviewer-a", workflow.RunOptions{}); err != nil {
		t.Fatalf("CompleteReview after decision: %v", err)
	}

	var art workflow.ReviewArtifact
	if err := store.Read(sess.ID, session.KeyReview, &art); err != nil {
		t.Fatalf("read review artifact: %v", err)
	}
	if art.Partial || len(art.Decisions) != 1 {
		t.Fatalf("review artifact = %+v", art)
	}
}

func TestCompleteReviewAllowPartialCarriesUnresolved(t *testing.T) {
	srv := fakeExtractionServer(t, nil)
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	manager, store, _ := newTestManager(t, cfg, srv.URL)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	run := workflow.ValidationRun{
		RunID:     "run-1",
		Conflicts: []validation.Conflict{{ID: "conf-1", Severity: validation.SeverityHigh, Rule: "contradictory_status_same_field"}},
	}
	err := store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		if _, err := tx.Write(session.KeyDocuments, session.DocumentSet{Documents: testDocuments()}, session.WriteOptions{}); err != nil {
			return err
		}
		if err := tx.Transition(session.StageInitialized, session.StageDocumentsDiscovered, session.TransitionOptions{}); err != nil {
			return err
		}
		if _, err := tx.Write(session.KeyEvidence, workflow.EvidenceArtifact{}, session.WriteOptions{}); err != nil {
			return err
		}
		if err := tx.Transition(session.StageDocumentsDiscovered, session.StageEvidenceExtracted, session.TransitionOptions{}); err != nil {
			return err
		}
		if _, err := tx.Write(session.KeyValidation, workflow.ValidationArtifact{Runs: []workflow.ValidationRun{run}}, session.WriteOptions{}); err != nil {
			return err
		}
		if err := tx.Transition(session.StageEvidenceExtracted, session.StageValidated, session.TransitionOptions{}); err != nil {
			return err
		}
		if _, err := tx.Write(session.KeyReport, workflow.Report{SessionID: sess.ID}, session.WriteOptions{}); err != nil {
			return err
		}
		return tx.Transition(session.StageValidated, session.StageReportGenerated, session.TransitionOptions{})
	})
	if err != nil {
		t.Fatalf("stage setup: %v", err)
	}

	if err := manager.CompleteReview(ctx, sess.ID, "reviewer-a", workflow.RunOptions{AllowPartial: true}); err != nil {
		t.Fatalf("CompleteReview with AllowPartial: %v", err)
	}

	var art workflow.ReviewArtifact
	if err := store.Read(sess.ID, session.KeyReview, &art); err != nil {
		t.Fatalf("read review artifact: %v", err)
	}
	if !art.Partial {
		t.Fatal("review artifact must record the partial outcome")
	}
	if len(art.UnresolvedConflicts) != 1 || art.UnresolvedConflicts[0] != "conf-1" {
		t.Fatalf("unresolved = %v", art.UnresolvedConflicts)
	}
}

func TestReRunExtractionAfterReportRewindsSession(t *testing.T) {
	srv := fakeExtractionServer(t, map[string]string{
		"holder_name": "John Smith",
		"grant_date":  "2024-01-01",
		"project_id":  "VCS-1234",
	})
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	manager, store, _ := newTestManager(t, cfg, srv.URL)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	if err := manager.RegisterDocuments(ctx, sess.ID, testDocuments(), workflow.RunOptions{}); err != nil {
		t.Fatalf("RegisterDocuments: %v", err)
	}
	if err := manager.Advance(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	err := manager.ExtractEvidence(ctx, sess.ID, workflow.RunOptions{})
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("re-run without supersede: err = %v, want ErrInvalidTransition", err)
	}
	if !store.HasArtifact(sess.ID, session.KeyReport) {
		t.Fatal("refused re-run must leave the report intact")
	}

	if err := manager.ExtractEvidence(ctx, sess.ID, workflow.RunOptions{Supersede: true}); err != nil {
		t.Fatalf("ExtractEvidence with supersede: %v", err)
	}
	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != session.StageEvidenceExtracted {
		t.Fatalf("stage = %s, want %s", got.Stage, session.StageEvidenceExtracted)
	}
	if store.HasArtifact(sess.ID, session.KeyValidation) {
		t.Fatal("validation artifact must be superseded by the re-run")
	}
	if store.HasArtifact(sess.ID, session.KeyReport) {
		t.Fatal("report artifact must be superseded by the re-run")
	}

	// The rewound session advances through the later stages again.
	if err := manager.Advance(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("Advance after rewind: %v", err)
	}
	got, err = store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != session.StageReportGenerated {
		t.Fatalf("stage after rewind = %s, want %s", got.Stage, session.StageReportGenerated)
	}
	var report workflow.Report
	if err := store.Read(sess.ID, session.KeyReport, &report); err != nil {
		t.Fatalf("read regenerated report: %v", err)
	}
}

func TestReExtractionKeepsPriorSnippetsStale(t *testing.T) {
	srv := fakeExtractionServer(t, map[string]string{
		"holder_name": "John Smith",
		"grant_date":  "2024-01-01",
		"project_id":  "VCS-1234",
	})
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	manager, store, _ := newTestManager(t, cfg, srv.URL)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	if err := manager.RegisterDocuments(ctx, sess.ID, testDocuments(), workflow.RunOptions{}); err != nil {
		t.Fatalf("RegisterDocuments: %v", err)
	}
	if err := manager.ExtractEvidence(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("first ExtractEvidence: %v", err)
	}
	if err := manager.ExtractEvidence(ctx, sess.ID, workflow.RunOptions{}); err != nil {
		t.Fatalf("second ExtractEvidence: %v", err)
	}

	var ev workflow.EvidenceArtifact
	if err := store.Read(sess.ID, session.KeyEvidence, &ev); err != nil {
		t.Fatalf("read evidence: %v", err)
	}
	if len(ev.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(ev.Items))
	}
	for _, item := range ev.Items {
		// Both documents contribute one snippet per run, so a second pass
		// leaves two stale snippets beneath two fresh ones.
		if len(item.Snippets) != 4 {
			t.Fatalf("%s: snippets = %d, want 4", item.RequirementID, len(item.Snippets))
		}
		stale := 0
		for _, s := range item.Snippets {
			if s.Stale {
				stale++
			}
		}
		if stale != 2 {
			t.Fatalf("%s: stale snippets = %d, want 2", item.RequirementID, stale)
		}
		if item.Status != evidence.StatusCovered {
			t.Fatalf("%s: status = %s, want %s", item.RequirementID, item.Status, evidence.StatusCovered)
		}
	}
}
