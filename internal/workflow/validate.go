package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"credence/internal/logging"
	"credence/internal/session"
	"credence/internal/validation"
)

// validateCheckpoint records which validators have finished in the current
// run so an interrupted validation resumes with only the remaining ones.
type validateCheckpoint struct {
	RunID     string                         `json:"run_id"`
	Completed []string                       `json:"completed"`
	Results   map[string][]validation.Result `json:"results"`
}

// Validate runs the validator set over the extracted evidence and appends a
// new run to the validation artifact. A previous run is marked superseded,
// never removed.
func (m *Manager) Validate(ctx context.Context, sessionID string, opts RunOptions) error {
	sess, err := m.store.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Stage.AtOrPast(session.StageReportGenerated) && !opts.Supersede {
		return &session.TransitionError{
			SessionID: sessionID,
			From:      session.StageValidated,
			To:        session.StageValidated,
			Current:   sess.Stage,
			Reason:    "re-running validation invalidates later artifacts; pass the supersede flag",
		}
	}

	var ev EvidenceArtifact
	if err := m.store.Read(sessionID, session.KeyEvidence, &ev); err != nil {
		return m.stageError(sessionID, session.StageValidated, err)
	}
	var docs session.DocumentSet
	if err := m.store.Read(sessionID, session.KeyDocuments, &docs); err != nil {
		return m.stageError(sessionID, session.StageValidated, err)
	}

	input := buildValidationInput(ev, docs)
	if len(input.Fields) == 0 {
		return m.stageError(sessionID, session.StageValidated,
			fmt.Errorf("no evidence fields to validate: %w", validation.ErrMissingField))
	}
	engine := validation.NewEngine(sess.Config.Validation)

	checkpoint := validateCheckpoint{
		RunID:   uuid.NewString(),
		Results: map[string][]validation.Result{},
	}
	if m.store.HasArtifact(sessionID, session.KeyValidationCheckpoint) {
		var prior validateCheckpoint
		if err := m.store.Read(sessionID, session.KeyValidationCheckpoint, &prior); err == nil && prior.RunID != "" {
			checkpoint = prior
			if checkpoint.Results == nil {
				checkpoint.Results = map[string][]validation.Result{}
			}
		}
	}
	done := make(map[string]struct{}, len(checkpoint.Completed))
	for _, id := range checkpoint.Completed {
		done[id] = struct{}{}
	}

	for _, id := range engine.Validators() {
		if _, ok := done[id]; ok {
			continue
		}
		results, err := engine.RunValidator(id, input)
		if err != nil {
			return m.stageError(sessionID, session.StageValidated, err)
		}
		checkpoint.Completed = append(checkpoint.Completed, id)
		checkpoint.Results[id] = results

		err = m.store.WithLock(ctx, sessionID, func(tx *session.Tx) error {
			_, werr := tx.Write(session.KeyValidationCheckpoint, &checkpoint, session.WriteOptions{})
			return werr
		})
		if err != nil {
			return m.stageError(sessionID, session.StageValidated, err)
		}
	}

	var results []validation.Result
	for _, id := range engine.Validators() {
		results = append(results, checkpoint.Results[id]...)
	}
	conflicts := engine.DetectConflicts(results)

	run := ValidationRun{
		RunID:     checkpoint.RunID,
		Results:   results,
		Conflicts: conflicts,
	}
	if run.Conflicts == nil {
		run.Conflicts = []validation.Conflict{}
	}

	err = m.store.WithLock(ctx, sessionID, func(tx *session.Tx) error {
		var artifact ValidationArtifact
		if m.store.HasArtifact(sessionID, session.KeyValidation) {
			if err := tx.Read(session.KeyValidation, &artifact); err != nil {
				return err
			}
		}
		for i := range artifact.Runs {
			artifact.Runs[i].Superseded = true
		}
		artifact.Runs = append(artifact.Runs, run)
		if _, err := tx.Write(session.KeyValidation, &artifact, session.WriteOptions{}); err != nil {
			return err
		}

		// The checkpoint belongs to the finished run; clear it so the next
		// validation pass starts a fresh run.
		reset := validateCheckpoint{Results: map[string][]validation.Result{}}
		if _, err := tx.Write(session.KeyValidationCheckpoint, &reset, session.WriteOptions{}); err != nil {
			return err
		}

		if tx.Session().Stage == session.StageEvidenceExtracted {
			return tx.Transition(session.StageEvidenceExtracted, session.StageValidated, session.TransitionOptions{})
		}
		return tx.Transition(session.StageValidated, session.StageValidated, session.TransitionOptions{Supersede: opts.Supersede})
	})
	if err != nil {
		return m.stageError(sessionID, session.StageValidated, err)
	}

	m.logger.Info("validation complete",
		logging.String(logging.FieldSession, sessionID),
		logging.String("run_id", run.RunID),
		logging.Int("results", len(run.Results)),
		logging.Int("conflicts", len(run.Conflicts)))
	return nil
}

// buildValidationInput flattens aggregated evidence into field refs, tagging
// each with its source document's basis.
func buildValidationInput(ev EvidenceArtifact, docs session.DocumentSet) validation.Input {
	basisByDoc := make(map[string]string, len(docs.Documents))
	for _, d := range docs.Documents {
		basisByDoc[d.ID] = documentBasis(d.Classification)
	}
	var in validation.Input
	for _, item := range ev.Items {
		for _, sn := range item.Snippets {
			if sn.Stale || sn.Fact == "" {
				continue
			}
			basis := basisByDoc[sn.DocumentID]
			if basis == "" {
				basis = validation.BasisNarrative
			}
			in.Fields = append(in.Fields, validation.FieldRef{
				Name:       sn.Fact,
				Value:      sn.Value,
				DocumentID: sn.DocumentID,
				Basis:      basis,
				Locator:    sn.Locator,
			})
		}
	}
	return in
}

// documentBasis maps a document classification onto a validation basis.
// Registry exports, forms, and other tabular sources count as structured;
// everything else reads as narrative.
func documentBasis(classification string) string {
	switch strings.ToLower(classification) {
	case "registry", "form", "structured", "tabular", "certificate":
		return validation.BasisStructured
	default:
		return validation.BasisNarrative
	}
}
