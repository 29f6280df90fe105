package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"credence/internal/config"
)

// Kind is a human decision outcome.
type Kind string

const (
	KindAccept   Kind = "accept"
	KindDefer    Kind = "defer"
	KindEscalate Kind = "escalate"
)

// Target kinds a decision can point at.
const (
	TargetValidation = "validation"
	TargetConflict   = "conflict"
)

// ErrConflictUnresolved blocks downstream completion while a conflict lacks
// a recorded decision.
var ErrConflictUnresolved = errors.New("conflict unresolved")

// Decision is one recorded human judgment. Decisions are append-only: a new
// decision supersedes but never deletes a prior one.
type Decision struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session_id"`
	TargetID           string    `json:"target_id"`
	TargetKind         string    `json:"target_kind"`
	Kind               Kind      `json:"kind"`
	Rationale          string    `json:"rationale,omitempty"`
	Actor              string    `json:"actor"`
	PrecedenceResultID string    `json:"precedence_result_id,omitempty"`
	ValidatorID        string    `json:"validator_id,omitempty"`
	Band               string    `json:"band,omitempty"`
	Supersedes         string    `json:"supersedes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Target identifies what a decision is being recorded against, with the
// validator/band denormalized for precedent statistics.
type Target struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ValidatorID string `json:"validator_id,omitempty"`
	Band        string `json:"band,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

// Request carries everything needed to record one decision.
type Request struct {
	SessionID string
	Target    Target
	Kind      Kind
	Rationale string
	Actor     string
	// PrecedenceResultID names the prevailing validation result when the
	// target is a conflict.
	PrecedenceResultID string
}

// Ledger is the SQLite-backed decision audit log.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the decision database and applies
// migrations.
func Open(cfg *config.Config) (*Ledger, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	dbPath := filepath.Join(cfg.Paths.StateDir, "decisions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	ledger := &Ledger{db: db, path: dbPath}
	if err := ledger.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ledger, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string { return l.path }

// RecordDecision validates and appends one decision. Defer and escalate
// require a non-empty rationale; a decision on a conflict must name the
// prevailing validation result.
func (l *Ledger) RecordDecision(ctx context.Context, req Request) (Decision, error) {
	if err := validateRequest(req); err != nil {
		return Decision{}, err
	}

	prior, err := l.LatestForTarget(ctx, req.SessionID, req.Target.ID)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		ID:                 uuid.NewString(),
		SessionID:          req.SessionID,
		TargetID:           req.Target.ID,
		TargetKind:         req.Target.Kind,
		Kind:               req.Kind,
		Rationale:          strings.TrimSpace(req.Rationale),
		Actor:              strings.TrimSpace(req.Actor),
		PrecedenceResultID: req.PrecedenceResultID,
		ValidatorID:        req.Target.ValidatorID,
		Band:               req.Target.Band,
		CreatedAt:          time.Now().UTC(),
	}
	if prior != nil {
		decision.Supersedes = prior.ID
	}

	if err := l.insert(ctx, decision); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return errors.New("decision requires a session id")
	}
	if strings.TrimSpace(req.Target.ID) == "" {
		return errors.New("decision requires a target id")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return errors.New("decision requires an actor")
	}
	switch req.Kind {
	case KindAccept:
	case KindDefer, KindEscalate:
		if strings.TrimSpace(req.Rationale) == "" {
			return fmt.Errorf("%s decisions require a rationale", req.Kind)
		}
	default:
		return fmt.Errorf("unknown decision kind %q", req.Kind)
	}
	if req.Target.Kind == TargetConflict && strings.TrimSpace(req.PrecedenceResultID) == "" {
		return errors.New("a decision on a conflict must name the prevailing validation result")
	}
	return nil
}

func (l *Ledger) insert(ctx context.Context, d Decision) error {
	_, err := l.db.ExecContext(
		ctx,
		`INSERT INTO decisions (
            id, session_id, target_id, target_kind, kind, rationale, actor,
            precedence_result_id, validator_id, band, supersedes, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.SessionID,
		d.TargetID,
		d.TargetKind,
		string(d.Kind),
		nullableString(d.Rationale),
		d.Actor,
		nullableString(d.PrecedenceResultID),
		nullableString(d.ValidatorID),
		nullableString(d.Band),
		nullableString(d.Supersedes),
		d.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

const decisionColumns = `id, session_id, target_id, target_kind, kind, rationale, actor,
    precedence_result_id, validator_id, band, supersedes, created_at`

// DecisionsForSession returns the session's full audit log in timestamp
// order.
func (l *Ledger) DecisionsForSession(ctx context.Context, sessionID string) ([]Decision, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE session_id = ? ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// LatestForTarget returns the newest decision for a target, or nil.
func (l *Ledger) LatestForTarget(ctx context.Context, sessionID, targetID string) (*Decision, error) {
	row := l.db.QueryRowContext(
		ctx,
		`SELECT `+decisionColumns+` FROM decisions
         WHERE session_id = ? AND target_id = ?
         ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID,
		targetID,
	)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest decision: %w", err)
	}
	return &d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (Decision, error) {
	var (
		d          Decision
		kind       string
		rationale  sql.NullString
		precedence sql.NullString
		validator  sql.NullString
		band       sql.NullString
		supersedes sql.NullString
		createdAt  string
	)
	if err := row.Scan(
		&d.ID, &d.SessionID, &d.TargetID, &d.TargetKind, &kind, &rationale,
		&d.Actor, &precedence, &validator, &band, &supersedes, &createdAt,
	); err != nil {
		return Decision{}, err
	}
	d.Kind = Kind(kind)
	d.Rationale = rationale.String
	d.PrecedenceResultID = precedence.String
	d.ValidatorID = validator.String
	d.Band = band.String
	d.Supersedes = supersedes.String
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Decision{}, fmt.Errorf("parse decision timestamp: %w", err)
	}
	d.CreatedAt = parsed
	return d, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// UnresolvedConflicts filters the given conflict ids down to those without
// any recorded decision.
func (l *Ledger) UnresolvedConflicts(ctx context.Context, sessionID string, conflictIDs []string) ([]string, error) {
	var unresolved []string
	for _, id := range conflictIDs {
		latest, err := l.LatestForTarget(ctx, sessionID, id)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			unresolved = append(unresolved, id)
		}
	}
	return unresolved, nil
}
