package validation

import (
	"fmt"

	"credence/internal/config"
)

// Validator is one cross-document check. Implementations are side-effect
// free: running them in any order yields the same results.
type Validator interface {
	ID() string
	Validate(in Input) []Result
}

// Engine owns the closed validator set and the conflict detector. Adding a
// validator means adding a variant here, not patching dispatch branches.
type Engine struct {
	validators []Validator
	detector   *ConflictDetector
}

// NewEngine constructs the engine from per-session validation thresholds.
func NewEngine(cfg config.Validation) *Engine {
	return &Engine{
		validators: []Validator{
			NewDateAlignmentValidator(cfg.Dates),
			NewLandTenureValidator(cfg.Tenure),
			NewProjectIDValidator(cfg.ProjectID),
		},
		detector: NewConflictDetector(),
	}
}

// Validators returns the registered validator ids.
func (e *Engine) Validators() []string {
	ids := make([]string, len(e.validators))
	for i, v := range e.validators {
		ids[i] = v.ID()
	}
	return ids
}

// Run executes every validator over the input and then, once all results
// are in, the conflict detector. Validator order does not affect outcomes.
func (e *Engine) Run(in Input) ([]Result, []Conflict, error) {
	if len(in.Fields) == 0 {
		return nil, nil, fmt.Errorf("validation run: %w", ErrMissingField)
	}
	var results []Result
	for _, v := range e.validators {
		results = append(results, v.Validate(in)...)
	}
	conflicts := e.detector.Detect(results)
	return results, conflicts, nil
}

// RunValidator executes a single validator by id, used for checkpointed
// re-runs that only need the remaining validators.
func (e *Engine) RunValidator(id string, in Input) ([]Result, error) {
	for _, v := range e.validators {
		if v.ID() == id {
			return v.Validate(in), nil
		}
	}
	return nil, fmt.Errorf("unknown validator %q", id)
}

// DetectConflicts runs only the conflict detector over a completed result
// set.
func (e *Engine) DetectConflicts(results []Result) []Conflict {
	return e.detector.Detect(results)
}
