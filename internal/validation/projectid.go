package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"credence/internal/config"
)

// ProjectIDValidator extracts identifier-shaped tokens from multiple
// sources and checks that they agree. Minority format variants are reported
// as warnings rather than hard failures when a dominant consistent value
// exists; year-like numbers are excluded as implausible identifiers.
type ProjectIDValidator struct {
	cfg config.ProjectID
}

// NewProjectIDValidator constructs the validator from session thresholds.
func NewProjectIDValidator(cfg config.ProjectID) *ProjectIDValidator {
	return &ProjectIDValidator{cfg: cfg}
}

// ID implements Validator.
func (v *ProjectIDValidator) ID() string { return "project_id" }

var idTokenPattern = regexp.MustCompile(`\b[A-Z]{0,4}-?\d{3,10}\b`)

func isIDField(field string) bool {
	lower := strings.ToLower(field)
	return strings.Contains(lower, "id") || strings.Contains(lower, "project") || strings.Contains(lower, "registry")
}

// Validate implements Validator.
func (v *ProjectIDValidator) Validate(in Input) []Result {
	type occurrence struct {
		value string
		doc   string
	}
	var occurrences []occurrence
	for _, f := range in.Fields {
		if !isIDField(f.Name) {
			continue
		}
		for _, token := range idTokenPattern.FindAllString(f.Value, -1) {
			canonical := canonicalID(token)
			if v.implausible(canonical) {
				continue
			}
			occurrences = append(occurrences, occurrence{value: canonical, doc: f.DocumentID})
		}
	}
	if len(occurrences) == 0 {
		return nil
	}

	counts := make(map[string]int)
	docs := make(map[string][]string)
	for _, occ := range occurrences {
		counts[occ.value]++
		docs[occ.value] = append(docs[occ.value], occ.doc)
	}

	var values []string
	for value := range counts {
		values = append(values, value)
	}
	sort.Slice(values, func(i, j int) bool {
		if counts[values[i]] != counts[values[j]] {
			return counts[values[i]] > counts[values[j]]
		}
		return values[i] < values[j]
	})

	dominant := values[0]
	dominantCount := counts[dominant]
	total := len(occurrences)
	confidence := float64(dominantCount) / float64(total)

	result := Result{
		ID:           newResultID(),
		ValidatorID:  v.ID(),
		Type:         "project_id",
		Field:        "project_id",
		Basis:        BasisStructured,
		Confidence:   confidence,
		EvidenceRefs: uniqueStrings(docs[dominant]),
	}

	switch {
	case len(values) == 1:
		result.Status = StatusPass
		result.Band = "consistent"
		result.Severity = SeverityLow
		result.Rationale = fmt.Sprintf("identifier %s consistent across %d occurrence(s)", dominant, total)
	case dominantCount*2 > total:
		result.Status = StatusWarning
		result.Band = "format_variation"
		result.Severity = SeverityMedium
		result.FlaggedForReview = true
		result.Rationale = fmt.Sprintf(
			"dominant identifier %s (%d of %d occurrences) with minority variants %s",
			dominant, dominantCount, total, strings.Join(values[1:], ", "))
	default:
		result.Status = StatusFail
		result.Band = "inconsistent"
		result.Severity = SeverityHigh
		result.FlaggedForReview = true
		result.BlocksApproval = true
		result.Rationale = fmt.Sprintf(
			"no dominant identifier among %s; sources disagree", strings.Join(values, ", "))
	}
	return []Result{result}
}

// canonicalID strips separators so "VCS-1234" and "VCS1234" count as the
// same identifier while plain-number variants stay distinct.
func canonicalID(token string) string {
	return strings.ReplaceAll(strings.ToUpper(token), "-", "")
}

// implausible reports whether a bare number falls in the configured
// year-like range.
func (v *ProjectIDValidator) implausible(token string) bool {
	n, err := strconv.Atoi(token)
	if err != nil {
		return false
	}
	return n >= v.cfg.ImplausibleMin && n <= v.cfg.ImplausibleMax
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
