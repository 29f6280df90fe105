package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"credence/internal/checklist"
	"credence/internal/config"
	"credence/internal/extraction"
	"credence/internal/logging"
	"credence/internal/review"
	"credence/internal/session"
	"credence/internal/validation"
)

// Manager coordinates stage execution for sessions.
type Manager struct {
	cfg       *config.Config
	store     *session.Store
	ledger    *review.Ledger
	client    *extraction.Client
	checklist *checklist.Checklist
	logger    *slog.Logger
	workers   int
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *session.Store, ledger *review.Ledger, client *extraction.Client, cl *checklist.Checklist, logger *slog.Logger) *Manager {
	workers := cfg.Extraction.Workers
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		ledger:    ledger,
		client:    client,
		checklist: cl,
		logger:    logging.NewComponentLogger(logger, "workflow"),
		workers:   workers,
	}
}

// RunOptions tune a workflow run.
type RunOptions struct {
	// Supersede marks downstream artifacts superseded when a stage re-runs.
	Supersede bool
	// AllowPartial lets review completion proceed past unresolved conflicts
	// into an explicitly degraded report.
	AllowPartial bool
}

// Advance runs every stage that can proceed without human input, stopping
// after the report is generated. Review completion requires decisions and is
// driven separately.
func (m *Manager) Advance(ctx context.Context, sessionID string, opts RunOptions) error {
	for {
		sess, err := m.store.Get(sessionID)
		if err != nil {
			return err
		}
		switch sess.Stage {
		case session.StageDocumentsDiscovered:
			if err := m.ExtractEvidence(ctx, sessionID, opts); err != nil {
				return err
			}
		case session.StageEvidenceExtracted:
			if err := m.Validate(ctx, sessionID, opts); err != nil {
				return err
			}
		case session.StageValidated:
			if err := m.GenerateReport(ctx, sessionID, opts); err != nil {
				return err
			}
		case session.StageInitialized:
			return fmt.Errorf("session %s has no documents registered; run document intake first", sessionID)
		default:
			return nil
		}
	}
}

// stageError attaches stage context to infrastructure failures.
func (m *Manager) stageError(sessionID string, stage session.Stage, err error) error {
	if err == nil {
		return nil
	}
	var terr *session.TransitionError
	if errors.As(err, &terr) {
		return err
	}
	return fmt.Errorf("session %s: stage %s: %w", sessionID, stage, err)
}

// ValidationRun is one complete validator pass. Runs are appended, never
// overwritten: a re-run supersedes the previous one but leaves it in the
// artifact for audit.
type ValidationRun struct {
	RunID      string                `json:"run_id"`
	Superseded bool                  `json:"superseded,omitempty"`
	Results    []validation.Result   `json:"results"`
	Conflicts  []validation.Conflict `json:"conflicts"`
}

// ValidationArtifact is the validation artifact payload.
type ValidationArtifact struct {
	Runs []ValidationRun `json:"runs"`
}

// Active returns the latest non-superseded run, if any.
func (a ValidationArtifact) Active() (ValidationRun, bool) {
	for i := len(a.Runs) - 1; i >= 0; i-- {
		if !a.Runs[i].Superseded {
			return a.Runs[i], true
		}
	}
	return ValidationRun{}, false
}
