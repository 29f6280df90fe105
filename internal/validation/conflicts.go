package validation

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Conflict is a detected logical contradiction between validation results.
// Detection never resolves: a Conflict stays unresolved until a reviewer
// records a Decision naming the prevailing result.
type Conflict struct {
	ID        string   `json:"id"`
	ResultIDs []string `json:"result_ids"`
	Severity  Severity `json:"severity"`
	Rule      string   `json:"rule"`
	// RecommendedPrecedence names the result id the matching rule suggests
	// should win. PrecedenceKnown is false when no registered rule supplies
	// a recommendation; there is no silent default.
	RecommendedPrecedence string `json:"recommended_precedence,omitempty"`
	PrecedenceKnown       bool   `json:"precedence_known"`
	Rationale             string `json:"rationale"`
	Resolution            string `json:"resolution,omitempty"`
}

// conflictRule matches a pair of results and optionally recommends which
// one takes precedence.
type conflictRule struct {
	name       string
	severity   Severity
	applies    func(a, b Result) bool
	precedence func(a, b Result) (string, bool)
	rationale  func(a, b Result) string
}

// ConflictDetector holds the registered conflict rules. The rule set is
// closed: extending it means registering a rule here.
type ConflictDetector struct {
	rules []conflictRule
}

// NewConflictDetector registers the built-in conflict rules.
func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{
		rules: []conflictRule{
			{
				name:     "contradictory_status_same_field",
				severity: SeverityHigh,
				applies: func(a, b Result) bool {
					if a.Field == "" || a.Field != b.Field {
						return false
					}
					return (a.Status == StatusPass && b.Status == StatusFail) ||
						(a.Status == StatusFail && b.Status == StatusPass)
				},
				precedence: structuredOutranksNarrative,
				rationale: func(a, b Result) string {
					return fmt.Sprintf("validators %s and %s disagree about field %q", a.ValidatorID, b.ValidatorID, a.Field)
				},
			},
			{
				name:     "ambiguity_contradicts_resolution",
				severity: SeverityMedium,
				applies: func(a, b Result) bool {
					if a.Field == "" || a.Field != b.Field {
						return false
					}
					return (a.Status == StatusAmbiguous && b.Status == StatusPass) ||
						(a.Status == StatusPass && b.Status == StatusAmbiguous)
				},
				precedence: func(a, b Result) (string, bool) { return "", false },
				rationale: func(a, b Result) string {
					return fmt.Sprintf("field %q is ambiguous to one validator but passed another", a.Field)
				},
			},
		},
	}
}

// structuredOutranksNarrative recommends the result grounded in structured
// data when the pair straddles structured and narrative sources.
func structuredOutranksNarrative(a, b Result) (string, bool) {
	if a.Basis == BasisStructured && b.Basis != BasisStructured {
		return a.ID, true
	}
	if b.Basis == BasisStructured && a.Basis != BasisStructured {
		return b.ID, true
	}
	return "", false
}

// Detect compares every result pair against the registered rules. It runs
// only after all validators of a run have completed. Each pair yields at
// most one conflict.
func (d *ConflictDetector) Detect(results []Result) []Conflict {
	var conflicts []Conflict
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			a, b := results[i], results[j]
			for _, rule := range d.rules {
				if !rule.applies(a, b) {
					continue
				}
				ids := []string{a.ID, b.ID}
				sort.Strings(ids)
				conflict := Conflict{
					ID:        uuid.NewString(),
					ResultIDs: ids,
					Severity:  rule.severity,
					Rule:      rule.name,
					Rationale: rule.rationale(a, b),
				}
				if winner, known := rule.precedence(a, b); known {
					conflict.RecommendedPrecedence = winner
					conflict.PrecedenceKnown = true
				}
				conflicts = append(conflicts, conflict)
				break
			}
		}
	}
	return conflicts
}
