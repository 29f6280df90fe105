package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"credence/internal/logging"
	"credence/internal/review"
	"credence/internal/session"
)

// ReviewArtifact summarizes the review that closed a session's report.
type ReviewArtifact struct {
	CompletedAt time.Time         `json:"completed_at"`
	Reviewer    string            `json:"reviewer,omitempty"`
	Decisions   []review.Decision `json:"decisions"`
	// Partial is set when unresolved conflicts were explicitly carried into
	// the review outcome.
	Partial             bool     `json:"partial,omitempty"`
	UnresolvedConflicts []string `json:"unresolved_conflicts,omitempty"`
}

// CompleteReview closes the review stage. Every detected conflict must have
// a ledger decision unless the caller explicitly accepts a partial outcome.
func (m *Manager) CompleteReview(ctx context.Context, sessionID, reviewer string, opts RunOptions) error {
	sess, err := m.store.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Stage.AtOrPast(session.StageCompleted) && !opts.Supersede {
		return &session.TransitionError{
			SessionID: sessionID,
			From:      session.StageReviewed,
			To:        session.StageReviewed,
			Current:   sess.Stage,
			Reason:    "re-running review on a completed session requires the supersede flag",
		}
	}

	var va ValidationArtifact
	if err := m.store.Read(sessionID, session.KeyValidation, &va); err != nil {
		return m.stageError(sessionID, session.StageReviewed, err)
	}
	run, ok := va.Active()
	if !ok {
		return m.stageError(sessionID, session.StageReviewed,
			fmt.Errorf("session %s has no active validation run", sessionID))
	}

	conflictIDs := make([]string, 0, len(run.Conflicts))
	for _, c := range run.Conflicts {
		conflictIDs = append(conflictIDs, c.ID)
	}
	unresolved, err := m.ledger.UnresolvedConflicts(ctx, sessionID, conflictIDs)
	if err != nil {
		return m.stageError(sessionID, session.StageReviewed, err)
	}
	if len(unresolved) > 0 && !opts.AllowPartial {
		return fmt.Errorf("session %s: conflicts %s need a decision before review can complete (record one or re-run with partial completion): %w",
			sessionID, strings.Join(unresolved, ", "), review.ErrConflictUnresolved)
	}

	decisions, err := m.ledger.DecisionsForSession(ctx, sessionID)
	if err != nil {
		return m.stageError(sessionID, session.StageReviewed, err)
	}

	artifact := ReviewArtifact{
		CompletedAt:         time.Now().UTC(),
		Reviewer:            reviewer,
		Decisions:           decisions,
		Partial:             len(unresolved) > 0,
		UnresolvedConflicts: unresolved,
	}

	err = m.store.WithLock(ctx, sessionID, func(tx *session.Tx) error {
		if _, err := tx.Write(session.KeyReview, &artifact, session.WriteOptions{}); err != nil {
			return err
		}
		if tx.Session().Stage == session.StageReportGenerated {
			return tx.Transition(session.StageReportGenerated, session.StageReviewed, session.TransitionOptions{})
		}
		return tx.Transition(session.StageReviewed, session.StageReviewed, session.TransitionOptions{Supersede: opts.Supersede})
	})
	if err != nil {
		return m.stageError(sessionID, session.StageReviewed, err)
	}

	m.logger.Info("review complete",
		logging.String(logging.FieldSession, sessionID),
		logging.Int("decisions", len(decisions)),
		logging.Bool("partial", artifact.Partial))
	return nil
}

// Complete moves a reviewed session to its terminal stage.
func (m *Manager) Complete(ctx context.Context, sessionID string) error {
	err := m.store.WithLock(ctx, sessionID, func(tx *session.Tx) error {
		return tx.Transition(session.StageReviewed, session.StageCompleted, session.TransitionOptions{})
	})
	if err != nil {
		return m.stageError(sessionID, session.StageCompleted, err)
	}
	m.logger.Info("session completed", logging.String(logging.FieldSession, sessionID))
	return nil
}
