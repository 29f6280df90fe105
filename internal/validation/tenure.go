package validation

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"credence/internal/config"
)

// Tenure bands in decreasing similarity order.
const (
	TenureBandExact    = "exact"
	TenureBandHigh     = "high"
	TenureBandMedium   = "medium"
	TenureBandLow      = "low"
	TenureBandMismatch = "mismatch"
)

// LandTenureValidator fuzzy-matches name fields across documents. Each
// similarity band carries its own flagging policy: exact and high matches
// are never flagged just for being non-identical strings; the medium band
// flags only below the configured match threshold; low and mismatch always
// flag.
type LandTenureValidator struct {
	cfg    config.Tenure
	folder cases.Caser
}

// NewLandTenureValidator constructs the validator from session thresholds.
func NewLandTenureValidator(cfg config.Tenure) *LandTenureValidator {
	return &LandTenureValidator{cfg: cfg, folder: cases.Fold()}
}

// ID implements Validator.
func (v *LandTenureValidator) ID() string { return "land_tenure" }

var nameFieldHints = []string{"name", "holder", "owner", "tenant", "grantee"}

func isNameField(field string) bool {
	lower := strings.ToLower(field)
	for _, hint := range nameFieldHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Validate implements Validator.
func (v *LandTenureValidator) Validate(in Input) []Result {
	grouped, order := in.fieldsByName()
	var results []Result
	for _, name := range order {
		if !isNameField(name) {
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
		results = append(results, v.compare(name, a, b))
	}
	return results
}

func (v *LandTenureValidator) compare(field string, a, b FieldRef) Result {
	normA := v.normalizeName(a.Value)
	normB := v.normalizeName(b.Value)

	similarity := similarityRatio(normA, normB)
	surnameMatched := surnameMatch(normA, normB)
	if surnameMatched && similarity < 1 {
		similarity += v.cfg.SurnameBoost
		if similarity > 1 {
			similarity = 1
		}
	}

	band := v.bandFor(similarity, normA == normB)
	result := Result{
		ID:           newResultID(),
		ValidatorID:  v.ID(),
		Type:         "land_tenure",
		Field:        field,
		Basis:        BasisMixed,
		Confidence:   similarity,
		Band:         band,
		EvidenceRefs: []string{a.DocumentID, b.DocumentID},
	}

	switch band {
	case TenureBandExact, TenureBandHigh:
		result.Status = StatusPass
		result.Severity = SeverityLow
	case TenureBandMedium:
		result.Status = StatusWarning
		result.Severity = SeverityMedium
		result.FlaggedForReview = similarity < v.cfg.MatchThreshold
	case TenureBandLow:
		result.Status = StatusWarning
		result.Severity = SeverityMedium
		result.FlaggedForReview = true
	default:
		result.Status = StatusFail
		result.Severity = SeverityHigh
		result.FlaggedForReview = true
		result.BlocksApproval = true
	}

	detail := fmt.Sprintf("names %q and %q similarity %.2f (band %s)", a.Value, b.Value, similarity, band)
	if surnameMatched {
		detail += ", surname matches"
	}
	result.Rationale = detail
	return result
}

func (v *LandTenureValidator) bandFor(similarity float64, identical bool) string {
	switch {
	case identical:
		return TenureBandExact
	case similarity >= v.cfg.HighBand:
		return TenureBandHigh
	case similarity >= v.cfg.MediumBand:
		return TenureBandMedium
	case similarity >= v.cfg.LowBand:
		return TenureBandLow
	default:
		return TenureBandMismatch
	}
}

// normalizeName lowers, strips diacritics and punctuation, and collapses
// whitespace so comparisons reflect the name, not its typesetting.
func (v *LandTenureValidator) normalizeName(name string) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		name,
	)
	if err != nil {
		stripped = name
	}
	folded := v.folder.String(stripped)

	var sb strings.Builder
	lastSpace := true
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '.' || r == ',' || r == '-' || r == '\'':
			if !lastSpace {
				sb.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// similarityRatio is a normalized edit-distance ratio in [0,1].
func similarityRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func surnameMatch(a, b string) bool {
	sa := lastToken(a)
	sb := lastToken(b)
	return sa != "" && sa == sb
}

func lastToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
