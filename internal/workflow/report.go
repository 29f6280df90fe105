package workflow

import (
	"context"
	"time"

	"credence/internal/evidence"
	"credence/internal/extraction"
	"credence/internal/logging"
	"credence/internal/session"
	"credence/internal/validation"
)

// Report is the session report artifact: the aggregated evidence, the active
// validation run, and extraction accounting, assembled for a reviewer.
type Report struct {
	SessionID   string                         `json:"session_id"`
	GeneratedAt time.Time                      `json:"generated_at"`
	Mode        string                         `json:"mode"`
	Evidence    []evidence.RequirementEvidence `json:"evidence"`
	Results     []validation.Result            `json:"results"`
	Conflicts   []validation.Conflict          `json:"conflicts"`
	Usage       extraction.UsageSnapshot       `json:"usage"`
	// Partial is set when any requirement failed extraction; the failures
	// map names the affected requirements.
	Partial  bool              `json:"partial,omitempty"`
	Failures map[string]string `json:"failures,omitempty"`
	// FlaggedForReview counts results a reviewer must look at.
	FlaggedForReview int `json:"flagged_for_review"`
	// BlocksApproval counts results severe enough to block session approval
	// until a reviewer records an explicit decision.
	BlocksApproval int `json:"blocks_approval"`
}

// GenerateReport assembles the report artifact from the evidence and
// validation artifacts and advances the session to REPORT_GENERATED.
func (m *Manager) GenerateReport(ctx context.Context, sessionID string, opts RunOptions) error {
	sess, err := m.store.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Stage.AtOrPast(session.StageReviewed) && !opts.Supersede {
		return &session.TransitionError{
			SessionID: sessionID,
			From:      session.StageReportGenerated,
			To:        session.StageReportGenerated,
			Current:   sess.Stage,
			Reason:    "regenerating the report invalidates the recorded review; pass the supersede flag",
		}
	}

	var ev EvidenceArtifact
	if err := m.store.Read(sessionID, session.KeyEvidence, &ev); err != nil {
		return m.stageError(sessionID, session.StageReportGenerated, err)
	}
	var va ValidationArtifact
	if err := m.store.Read(sessionID, session.KeyValidation, &va); err != nil {
		return m.stageError(sessionID, session.StageReportGenerated, err)
	}
	run, ok := va.Active()
	if !ok {
		return m.stageError(sessionID, session.StageReportGenerated,
			&session.TransitionError{
				SessionID: sessionID,
				From:      sess.Stage,
				To:        session.StageReportGenerated,
				Current:   sess.Stage,
				Reason:    "no active validation run",
			})
	}

	report := Report{
		SessionID:   sessionID,
		GeneratedAt: time.Now().UTC(),
		Mode:        sess.Config.Mode,
		Evidence:    ev.Items,
		Results:     run.Results,
		Conflicts:   run.Conflicts,
		Usage:       m.client.Usage().Snapshot(),
		Partial:     len(ev.Failures) > 0,
		Failures:    ev.Failures,
	}
	for _, r := range run.Results {
		if r.FlaggedForReview {
			report.FlaggedForReview++
		}
		if r.BlocksApproval {
			report.BlocksApproval++
		}
	}

	err = m.store.WithLock(ctx, sessionID, func(tx *session.Tx) error {
		if _, err := tx.Write(session.KeyReport, &report, session.WriteOptions{}); err != nil {
			return err
		}
		if tx.Session().Stage == session.StageValidated {
			return tx.Transition(session.StageValidated, session.StageReportGenerated, session.TransitionOptions{})
		}
		return tx.Transition(session.StageReportGenerated, session.StageReportGenerated, session.TransitionOptions{Supersede: opts.Supersede})
	})
	if err != nil {
		return m.stageError(sessionID, session.StageReportGenerated, err)
	}

	m.logger.Info("report generated",
		logging.String(logging.FieldSession, sessionID),
		logging.Int("flagged", report.FlaggedForReview),
		logging.Bool("partial", report.Partial))
	return nil
}
