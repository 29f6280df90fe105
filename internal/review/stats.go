package review

import (
	"context"
	"fmt"
)

// PrecedentStats summarizes past decisions for one validator+band
// combination.
type PrecedentStats struct {
	ValidatorID    string  `json:"validator_id"`
	Band           string  `json:"band"`
	Total          int     `json:"total"`
	Accepted       int     `json:"accepted"`
	Deferred       int     `json:"deferred"`
	Escalated      int     `json:"escalated"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// StatsFor aggregates decisions recorded against a validator+band across
// all sessions. Superseded decisions are excluded so each target counts
// once, by its latest judgment.
func (l *Ledger) StatsFor(ctx context.Context, validatorID, band string) (PrecedentStats, error) {
	stats := PrecedentStats{ValidatorID: validatorID, Band: band}
	rows, err := l.db.QueryContext(
		ctx,
		`SELECT kind, COUNT(1) FROM decisions d
         WHERE validator_id = ? AND band = ?
           AND NOT EXISTS (
               SELECT 1 FROM decisions newer
               WHERE newer.supersedes = d.id
           )
         GROUP BY kind`,
		validatorID,
		band,
	)
	if err != nil {
		return stats, fmt.Errorf("query precedent stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return stats, fmt.Errorf("scan precedent stats: %w", err)
		}
		stats.Total += count
		switch Kind(kind) {
		case KindAccept:
			stats.Accepted = count
		case KindDefer:
			stats.Deferred = count
		case KindEscalate:
			stats.Escalated = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	if stats.Total > 0 {
		stats.AcceptanceRate = float64(stats.Accepted) / float64(stats.Total)
	}
	return stats, nil
}

// Suggestion proposes a band-threshold adjustment based on precedent. It is
// advisory only: nothing applies it automatically.
type Suggestion struct {
	ValidatorID    string  `json:"validator_id"`
	Band           string  `json:"band"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	Samples        int     `json:"samples"`
	Proposal       string  `json:"proposal"`
}

// ThresholdSuggestions surfaces validator+band combinations whose decision
// history suggests the band boundary sits in the wrong place.
func (l *Ledger) ThresholdSuggestions(ctx context.Context, minSamples int) ([]Suggestion, error) {
	if minSamples < 1 {
		minSamples = 1
	}
	rows, err := l.db.QueryContext(
		ctx,
		`SELECT validator_id, band,
                SUM(CASE WHEN kind = 'accept' THEN 1 ELSE 0 END) AS accepted,
                COUNT(1) AS total
         FROM decisions d
         WHERE validator_id IS NOT NULL AND band IS NOT NULL
           AND NOT EXISTS (
               SELECT 1 FROM decisions newer
               WHERE newer.supersedes = d.id
           )
         GROUP BY validator_id, band
         HAVING COUNT(1) >= ?`,
		minSamples,
	)
	if err != nil {
		return nil, fmt.Errorf("query threshold suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []Suggestion
	for rows.Next() {
		var (
			validatorID string
			band        string
			accepted    int
			total       int
		)
		if err := rows.Scan(&validatorID, &band, &accepted, &total); err != nil {
			return nil, fmt.Errorf("scan threshold suggestion: %w", err)
		}
		rate := float64(accepted) / float64(total)
		suggestion := Suggestion{
			ValidatorID:    validatorID,
			Band:           band,
			AcceptanceRate: rate,
			Samples:        total,
		}
		switch {
		case rate >= 0.9:
			suggestion.Proposal = fmt.Sprintf(
				"reviewers accept %.0f%% of %s/%s findings; consider relaxing this band's boundary", rate*100, validatorID, band)
		case rate <= 0.1:
			suggestion.Proposal = fmt.Sprintf(
				"reviewers almost never accept %s/%s findings; consider tightening this band's boundary", validatorID, band)
		default:
			continue
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, rows.Err()
}
