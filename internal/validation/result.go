package validation

import (
	"errors"

	"github.com/google/uuid"
)

// Status is a validator outcome.
type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
	// StatusAmbiguous marks input the validator refuses to guess about,
	// such as a date string with multiple locale-valid parses. The result
	// carries every candidate interpretation.
	StatusAmbiguous Status = "ambiguous"
)

// Severity grades how much a result should worry a reviewer.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Basis records what kind of source a result rests on, used by conflict
// precedence rules.
const (
	BasisStructured = "structured"
	BasisNarrative  = "narrative"
	BasisMixed      = "mixed"
)

// ErrMissingField indicates the validation input lacked the fields a run
// needs entirely. Per-field data-quality problems are result states, not
// errors.
var ErrMissingField = errors.New("validation input missing required fields")

// FieldRef is one named field value with its provenance.
type FieldRef struct {
	Name       string `json:"name"`
	Value      string `json:"value"`
	DocumentID string `json:"document_id"`
	// Basis is BasisStructured for machine-extracted fields and
	// BasisNarrative for values read out of narrative text.
	Basis   string `json:"basis"`
	Locator string `json:"locator,omitempty"`
}

// Input is the field set a validation run operates on.
type Input struct {
	Fields []FieldRef `json:"fields"`
}

// fieldsByName groups field refs by name preserving input order.
func (in Input) fieldsByName() (map[string][]FieldRef, []string) {
	grouped := make(map[string][]FieldRef)
	var order []string
	for _, f := range in.Fields {
		if _, ok := grouped[f.Name]; !ok {
			order = append(order, f.Name)
		}
		grouped[f.Name] = append(grouped[f.Name], f)
	}
	return grouped, order
}

// Result is one validator outcome. FlaggedForReview is derived from the
// band's flagging policy, never set independently.
type Result struct {
	ID               string   `json:"id"`
	ValidatorID      string   `json:"validator_id"`
	Type             string   `json:"type"`
	Status           Status   `json:"status"`
	Confidence       float64  `json:"confidence"`
	Band             string   `json:"band"`
	FlaggedForReview bool     `json:"flagged_for_review"`
	Severity         Severity `json:"severity"`
	BlocksApproval   bool     `json:"blocks_approval"`
	Field            string   `json:"field,omitempty"`
	Basis            string   `json:"basis,omitempty"`
	EvidenceRefs     []string `json:"evidence_refs,omitempty"`
	Rationale        string   `json:"rationale"`
	// Candidates holds every interpretation of an ambiguous value.
	Candidates []string `json:"candidates,omitempty"`
	// SupersededBy points at the result from a newer run that replaced
	// this one. Results are superseded, never overwritten.
	SupersededBy string `json:"superseded_by,omitempty"`
}

func newResultID() string { return uuid.NewString() }
