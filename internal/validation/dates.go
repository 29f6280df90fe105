package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"credence/internal/config"
)

// DateAlignmentValidator compares dated fields that appear in both
// structured and narrative sources and checks their day delta against a
// configurable maximum, with a marginal band around the threshold instead
// of a hard cliff.
type DateAlignmentValidator struct {
	cfg config.Dates
}

// NewDateAlignmentValidator constructs the validator from session thresholds.
func NewDateAlignmentValidator(cfg config.Dates) *DateAlignmentValidator {
	return &DateAlignmentValidator{cfg: cfg}
}

// ID implements Validator.
func (v *DateAlignmentValidator) ID() string { return "date_alignment" }

// Validate implements Validator.
func (v *DateAlignmentValidator) Validate(in Input) []Result {
	grouped, order := in.fieldsByName()
	var results []Result
	for _, name := range order {
		if !strings.Contains(strings.ToLower(name), "date") {
			continue
		}
		refs := grouped[name]
		if len(refs) < 2 {
			continue
		}
		a, b, ok := comparablePair(refs)
		if !ok {
			continue
		}
		results = append(results, v.compare(name, a, b, in))
	}
	return results
}

// comparablePair prefers a structured/narrative pairing and falls back to
// the first two values of any provenance.
func comparablePair(refs []FieldRef) (FieldRef, FieldRef, bool) {
	var structured, narrative *FieldRef
	for i := range refs {
		switch refs[i].Basis {
		case BasisStructured:
			if structured == nil {
				structured = &refs[i]
			}
		case BasisNarrative:
			if narrative == nil {
				narrative = &refs[i]
			}
		}
	}
	if structured != nil && narrative != nil {
		return *structured, *narrative, true
	}
	if len(refs) >= 2 {
		return refs[0], refs[1], true
	}
	return FieldRef{}, FieldRef{}, false
}

func (v *DateAlignmentValidator) compare(field string, a, b FieldRef, in Input) Result {
	base := Result{
		ID:           newResultID(),
		ValidatorID:  v.ID(),
		Type:         "date_alignment",
		Field:        field,
		Basis:        BasisStructured,
		EvidenceRefs: []string{a.DocumentID, b.DocumentID},
	}

	dateA, ambiguousA := v.resolve(a, in)
	dateB, ambiguousB := v.resolve(b, in)
	if len(ambiguousA) > 0 || len(ambiguousB) > 0 {
		candidates := append(formatCandidates(ambiguousA), formatCandidates(ambiguousB)...)
		base.Status = StatusAmbiguous
		base.Band = "ambiguous"
		base.Severity = SeverityMedium
		base.FlaggedForReview = true
		base.Candidates = candidates
		base.Rationale = fmt.Sprintf(
			"field %q has locale-ambiguous date(s); %d candidate interpretations need contextual or human resolution",
			field, len(candidates))
		return base
	}
	if dateA.IsZero() || dateB.IsZero() {
		base.Status = StatusWarning
		base.Band = "unparseable"
		base.Severity = SeverityMedium
		base.FlaggedForReview = true
		base.Rationale = fmt.Sprintf("field %q could not be parsed as a date in one or both sources", field)
		return base
	}

	delta := dateA.Sub(dateB)
	if delta < 0 {
		delta = -delta
	}
	days := int(delta.Hours() / 24)
	maxDays := v.cfg.MaxDriftDays
	marginal := maxDays + v.cfg.MarginalDays

	switch {
	case days <= maxDays:
		base.Status = StatusPass
		base.Band = "within"
		base.Severity = SeverityLow
		base.Confidence = 1 - 0.5*float64(days)/float64(maxDays)
	case days <= marginal:
		base.Status = StatusWarning
		base.Band = "marginal"
		base.Severity = SeverityMedium
		base.FlaggedForReview = true
		base.Confidence = 0.4
	default:
		base.Status = StatusFail
		base.Band = "exceeded"
		base.Severity = SeverityHigh
		base.FlaggedForReview = true
		base.BlocksApproval = true
		base.Confidence = 0.2
	}
	base.Rationale = fmt.Sprintf(
		"dates %s and %s differ by %d days (limit %d, marginal to %d)",
		dateA.Format("2006-01-02"), dateB.Format("2006-01-02"), days, maxDays, marginal)
	return base
}

// resolve parses a date field. When the string parses under more than one
// locale convention, the candidates are checked against the other
// unambiguous dates in the same document: if exactly one candidate is
// consistent with all of them, it wins; otherwise every candidate is
// returned and no guess is made.
func (v *DateAlignmentValidator) resolve(ref FieldRef, in Input) (time.Time, []time.Time) {
	candidates := parseDateCandidates(ref.Value)
	switch len(candidates) {
	case 0:
		return time.Time{}, nil
	case 1:
		return candidates[0], nil
	}
	context := v.contextDates(ref, in)
	if len(context) > 0 {
		window := time.Duration(v.cfg.ContextWindowDays) * 24 * time.Hour
		var consistent []time.Time
		for _, cand := range candidates {
			if allWithin(cand, context, window) {
				consistent = append(consistent, cand)
			}
		}
		if len(consistent) == 1 {
			return consistent[0], nil
		}
	}
	return time.Time{}, candidates
}

func (v *DateAlignmentValidator) contextDates(ref FieldRef, in Input) []time.Time {
	var out []time.Time
	for _, other := range in.Fields {
		if other.DocumentID != ref.DocumentID || other.Name == ref.Name && other.Value == ref.Value {
			continue
		}
		if !strings.Contains(strings.ToLower(other.Name), "date") {
			continue
		}
		cands := parseDateCandidates(other.Value)
		if len(cands) == 1 {
			out = append(out, cands[0])
		}
	}
	return out
}

func allWithin(cand time.Time, context []time.Time, window time.Duration) bool {
	for _, ctx := range context {
		d := cand.Sub(ctx)
		if d < 0 {
			d = -d
		}
		if d > window {
			return false
		}
	}
	return true
}

// parseDateCandidates returns every distinct locale-valid reading of the
// string. Unambiguous formats yield exactly one candidate; day-first versus
// month-first slash dates yield two unless the day component rules one out.
func parseDateCandidates(value string) []time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	unambiguous := []string{"2006-01-02", "2 January 2006", "January 2, 2006", "2 Jan 2006", "Jan 2, 2006"}
	for _, layout := range unambiguous {
		if t, err := time.Parse(layout, value); err == nil {
			return []time.Time{t}
		}
	}

	var candidates []time.Time
	for _, layout := range []string{"01/02/2006", "02/01/2006", "1/2/2006", "2/1/2006"} {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		duplicate := false
		for _, existing := range candidates {
			if existing.Equal(t) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	return candidates
}

func formatCandidates(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format("2006-01-02")
	}
	return out
}
