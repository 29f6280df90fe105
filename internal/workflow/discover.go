package workflow

import (
	"context"
	"fmt"

	"credence/internal/logging"
	"credence/internal/session"
)

// RegisterDocuments records externally discovered documents in the session
// and moves it to DOCUMENTS_DISCOVERED. Calling it again merges new
// documents into the existing set; documents are referenced, never mutated.
func (m *Manager) RegisterDocuments(ctx context.Context, sessionID string, docs []session.Document, opts RunOptions) error {
	if len(docs) == 0 {
		return fmt.Errorf("session %s: no documents to register", sessionID)
	}
	err := m.store.WithLock(ctx, sessionID, func(tx *session.Tx) error {
		if stage := tx.Session().Stage; stage.AtOrPast(session.StageEvidenceExtracted) && !opts.Supersede {
			return &session.TransitionError{
				SessionID: sessionID,
				From:      session.StageDocumentsDiscovered,
				To:        session.StageDocumentsDiscovered,
				Current:   stage,
				Reason:    "registering documents after extraction invalidates later artifacts; pass the supersede flag",
			}
		}

		var set session.DocumentSet
		if m.store.HasArtifact(sessionID, session.KeyDocuments) {
			if err := tx.Read(session.KeyDocuments, &set); err != nil {
				return err
			}
		}
		existing := make(map[string]struct{}, len(set.Documents))
		for _, d := range set.Documents {
			existing[d.ID] = struct{}{}
		}
		added := 0
		for _, d := range docs {
			if d.ID == "" {
				return fmt.Errorf("document without id (source %s)", d.SourcePath)
			}
			if _, ok := existing[d.ID]; ok {
				continue
			}
			set.Documents = append(set.Documents, d)
			existing[d.ID] = struct{}{}
			added++
		}
		if _, err := tx.Write(session.KeyDocuments, &set, session.WriteOptions{}); err != nil {
			return err
		}

		if tx.Session().Stage == session.StageInitialized {
			if err := tx.Transition(session.StageInitialized, session.StageDocumentsDiscovered, session.TransitionOptions{}); err != nil {
				return err
			}
		} else {
			if err := tx.Transition(session.StageDocumentsDiscovered, session.StageDocumentsDiscovered, session.TransitionOptions{Supersede: opts.Supersede}); err != nil {
				return err
			}
		}
		m.logger.Info("documents registered",
			logging.String(logging.FieldSession, sessionID),
			logging.Int("added", added),
			logging.Int("total", len(set.Documents)))
		return nil
	})
	return m.stageError(sessionID, session.StageDocumentsDiscovered, err)
}
