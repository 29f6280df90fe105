package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Batch is the confirmation list for a batch decision. Callers must obtain
// it (and therefore see every affected target) before the batch can be
// applied.
type Batch struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Targets   []Target `json:"targets"`
}

// PrepareBatch builds the confirmation list for a batch decision over the
// given targets.
func PrepareBatch(sessionID string, targets []Target) (Batch, error) {
	if len(targets) == 0 {
		return Batch{}, errors.New("batch requires at least one target")
	}
	copied := make([]Target, len(targets))
	copy(copied, targets)
	return Batch{ID: uuid.NewString(), SessionID: sessionID, Targets: copied}, nil
}

// ApplyBatch records one decision per batch target, skipping the exception
// list. The same rationale rules apply as for single decisions.
func (l *Ledger) ApplyBatch(ctx context.Context, batch Batch, kind Kind, rationale, actor string, exceptions []string) ([]Decision, error) {
	if batch.ID == "" || len(batch.Targets) == 0 {
		return nil, errors.New("batch must be prepared before it is applied")
	}
	excluded := make(map[string]struct{}, len(exceptions))
	for _, id := range exceptions {
		excluded[id] = struct{}{}
	}

	decisions := make([]Decision, 0, len(batch.Targets))
	for _, target := range batch.Targets {
		if _, skip := excluded[target.ID]; skip {
			continue
		}
		if target.Kind == TargetConflict {
			// Conflicts need an explicit precedence choice; they cannot be
			// swept up in a batch.
			return decisions, fmt.Errorf("conflict %s cannot be decided in a batch; record it individually", target.ID)
		}
		decision, err := l.RecordDecision(ctx, Request{
			SessionID: batch.SessionID,
			Target:    target,
			Kind:      kind,
			Rationale: rationale,
			Actor:     actor,
		})
		if err != nil {
			return decisions, fmt.Errorf("batch target %s: %w", target.ID, err)
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}
