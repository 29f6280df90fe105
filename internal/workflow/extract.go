package workflow

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"credence/internal/checklist"
	"credence/internal/evidence"
	"credence/internal/extraction"
	"credence/internal/logging"
	"credence/internal/session"
)

// EvidenceArtifact is the aggregated evidence for every requirement, plus
// the per-requirement failures of a partially successful run.
type EvidenceArtifact struct {
	Items []evidence.RequirementEvidence `json:"items"`
	// Failures maps requirement id to the failure detail for extraction
	// calls that exhausted their retries. Failed requirements do not abort
	// the stage; they are reported individually.
	Failures map[string]string `json:"failures,omitempty"`
}

// extractCheckpoint records which requirements have finished so an
// interrupted stage resumes from where it stopped.
type extractCheckpoint struct {
	Completed []string          `json:"completed"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// ExtractEvidence runs extraction for every requirement with bounded
// parallelism, aggregates the snippets, and advances the session. A re-run
// after an interruption only processes requirements the checkpoint has not
// seen.
func (m *Manager) ExtractEvidence(ctx context.Context, sessionID string, opts RunOptions) error {
	sess, err := m.store.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Stage.AtOrPast(session.StageValidated) && !opts.Supersede {
		return &session.TransitionError{
			SessionID: sessionID,
			From:      session.StageEvidenceExtracted,
			To:        session.StageEvidenceExtracted,
			Current:   sess.Stage,
			Reason:    "re-running extraction invalidates later artifacts; pass the supersede flag",
		}
	}

	var docs session.DocumentSet
	if err := m.store.Read(sessionID, session.KeyDocuments, &docs); err != nil {
		return m.stageError(sessionID, session.StageEvidenceExtracted, err)
	}

	checkpoint := extractCheckpoint{Failures: map[string]string{}}
	if m.store.HasArtifact(sessionID, session.KeyEvidenceCheckpoint) {
		_ = m.store.Read(sessionID, session.KeyEvidenceCheckpoint, &checkpoint)
		if checkpoint.Failures == nil {
			checkpoint.Failures = map[string]string{}
		}
	}
	done := make(map[string]struct{}, len(checkpoint.Completed))
	for _, id := range checkpoint.Completed {
		done[id] = struct{}{}
	}

	existing := EvidenceArtifact{}
	if m.store.HasArtifact(sessionID, session.KeyEvidence) {
		_ = m.store.Read(sessionID, session.KeyEvidence, &existing)
	}
	byRequirement := make(map[string]evidence.RequirementEvidence, len(existing.Items))
	for _, item := range existing.Items {
		byRequirement[item.RequirementID] = item
	}

	// Snippets of requirements about to be re-extracted stay in the artifact
	// as a stale audit trail beneath the fresh results. Requirements the
	// checkpoint already finished keep their current snippets untouched.
	stale := make(map[string][]evidence.Snippet, len(existing.Items))
	for _, item := range evidence.Invalidate(existing.Items) {
		if _, ok := done[item.RequirementID]; ok {
			continue
		}
		stale[item.RequirementID] = item.Snippets
	}

	var (
		mu  sync.Mutex
		sem = semaphore.NewWeighted(int64(m.workers))
	)
	group, groupCtx := errgroup.WithContext(ctx)

	for _, req := range m.checklist.Requirements {
		if _, ok := done[req.ID]; ok {
			continue
		}
		req := req
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			fresh, failure := m.extractRequirement(groupCtx, req, docs.Documents)
			snippets := append(append([]evidence.Snippet(nil), stale[req.ID]...), fresh...)
			aggregated := evidence.Aggregate(req.ID, snippets, sess.Config.Bands)

			mu.Lock()
			byRequirement[req.ID] = aggregated
			checkpoint.Completed = append(checkpoint.Completed, req.ID)
			if failure != "" {
				checkpoint.Failures[req.ID] = failure
			} else {
				delete(checkpoint.Failures, req.ID)
			}
			mu.Unlock()

			// Checkpoint after every requirement, partial evidence included,
			// so a cancelled run resumes here instead of restarting.
			return m.store.WithLock(groupCtx, sessionID, func(tx *session.Tx) error {
				mu.Lock()
				defer mu.Unlock()
				partial := assembleEvidence(byRequirement, checkpoint.Failures)
				if _, err := tx.Write(session.KeyEvidence, &partial, session.WriteOptions{}); err != nil {
					return err
				}
				_, err := tx.Write(session.KeyEvidenceCheckpoint, &checkpoint, session.WriteOptions{})
				return err
			})
		})
	}
	if err := group.Wait(); err != nil {
		return m.stageError(sessionID, session.StageEvidenceExtracted, err)
	}

	artifact := assembleEvidence(byRequirement, checkpoint.Failures)

	err = m.store.WithLock(ctx, sessionID, func(tx *session.Tx) error {
		if _, err := tx.Write(session.KeyEvidence, &artifact, session.WriteOptions{}); err != nil {
			return err
		}
		if _, err := tx.Write(session.KeyUsage, m.client.Usage().Snapshot(), session.WriteOptions{}); err != nil {
			return err
		}
		// The checkpoint belongs to the finished pass; clear it so the next
		// extraction run covers every requirement again.
		reset := extractCheckpoint{Failures: map[string]string{}}
		if _, err := tx.Write(session.KeyEvidenceCheckpoint, &reset, session.WriteOptions{}); err != nil {
			return err
		}
		if tx.Session().Stage == session.StageDocumentsDiscovered {
			return tx.Transition(session.StageDocumentsDiscovered, session.StageEvidenceExtracted, session.TransitionOptions{})
		}
		return tx.Transition(session.StageEvidenceExtracted, session.StageEvidenceExtracted, session.TransitionOptions{Supersede: opts.Supersede})
	})
	if err != nil {
		return m.stageError(sessionID, session.StageEvidenceExtracted, err)
	}

	m.logger.Info("evidence extracted",
		logging.String(logging.FieldSession, sessionID),
		logging.Int("requirements", len(artifact.Items)),
		logging.Int("failures", len(artifact.Failures)))
	return nil
}

// assembleEvidence orders the per-requirement results deterministically so
// repeated runs over the same inputs produce identical artifacts.
func assembleEvidence(byRequirement map[string]evidence.RequirementEvidence, failures map[string]string) EvidenceArtifact {
	var artifact EvidenceArtifact
	ids := make([]string, 0, len(byRequirement))
	for id := range byRequirement {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		artifact.Items = append(artifact.Items, byRequirement[id])
	}
	if len(failures) > 0 {
		artifact.Failures = make(map[string]string, len(failures))
		for id, msg := range failures {
			artifact.Failures[id] = msg
		}
	}
	return artifact
}

// extractRequirement calls the extraction service once per document and
// converts the returned fields into evidence snippets. Individual failures
// produce a failure note, not an aborted stage.
func (m *Manager) extractRequirement(ctx context.Context, req checklist.Requirement, docs []session.Document) ([]evidence.Snippet, string) {
	var snippets []evidence.Snippet
	var failure string
	for _, doc := range docs {
		if doc.Text == "" {
			continue
		}
		result, err := m.client.Extract(ctx, extraction.Input{
			Fields:        req.Fields,
			Context:       doc.Text,
			RequirementID: req.ID,
			DocumentID:    doc.ID,
		})
		if err != nil {
			failure = err.Error()
			m.logger.Warn("extraction failed",
				logging.String("requirement", req.ID),
				logging.String("document", doc.ID),
				logging.Error(err))
			continue
		}
		for _, field := range result.Fields {
			snippets = append(snippets, evidence.Snippet{
				Text:       field.Value,
				DocumentID: doc.ID,
				Locator:    field.Name,
				Confidence: field.Confidence,
				Fact:       field.Name,
				Value:      field.Value,
			})
		}
	}
	return snippets, failure
}
