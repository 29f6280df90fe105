package session

import (
	"time"

	"credence/internal/config"
)

// SchemaVersion is the current on-disk schema for session state and
// artifacts. Reads validate against it before trusting a file.
const SchemaVersion = 1

// Stage identifies where a session sits in the review workflow.
type Stage string

const (
	StageInitialized         Stage = "INITIALIZED"
	StageDocumentsDiscovered Stage = "DOCUMENTS_DISCOVERED"
	StageEvidenceExtracted   Stage = "EVIDENCE_EXTRACTED"
	StageValidated           Stage = "VALIDATED"
	StageReportGenerated     Stage = "REPORT_GENERATED"
	StageReviewed            Stage = "REVIEWED"
	StageCompleted           Stage = "COMPLETED"
)

var stageOrder = []Stage{
	StageInitialized,
	StageDocumentsDiscovered,
	StageEvidenceExtracted,
	StageValidated,
	StageReportGenerated,
	StageReviewed,
	StageCompleted,
}

// Stages returns the ordered stage list.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

func (s Stage) index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether the stage is a known workflow stage.
func (s Stage) Valid() bool { return s.index() >= 0 }

// AtOrPast reports whether s is other or any later stage.
func (s Stage) AtOrPast(other Stage) bool {
	return s.index() >= other.index() && other.index() >= 0
}

// Next returns the stage that follows s, if any.
func (s Stage) Next() (Stage, bool) {
	idx := s.index()
	if idx < 0 || idx+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[idx+1], true
}

// Artifact keys, one namespace per session.
const (
	KeyDocuments            = "documents"
	KeyEvidence             = "evidence"
	KeyEvidenceCheckpoint   = "evidence.checkpoint"
	KeyValidation           = "validation"
	KeyValidationCheckpoint = "validation.checkpoint"
	KeyReport               = "report"
	KeyReview               = "review"
	KeyUsage                = "usage"
)

// stagePrereqs lists the artifacts that must exist before a session may
// enter a stage. A transition into a stage asserts the previous stage
// actually produced its output.
var stagePrereqs = map[Stage][]string{
	StageDocumentsDiscovered: {KeyDocuments},
	StageEvidenceExtracted:   {KeyEvidence},
	StageValidated:           {KeyValidation},
	StageReportGenerated:     {KeyReport},
	StageReviewed:            {KeyReview},
}

// stageArtifacts lists the artifacts a stage produces, used when a re-run
// supersedes downstream output.
var stageArtifacts = map[Stage][]string{
	StageDocumentsDiscovered: {KeyDocuments},
	StageEvidenceExtracted:   {KeyEvidence, KeyEvidenceCheckpoint, KeyUsage},
	StageValidated:           {KeyValidation, KeyValidationCheckpoint},
	StageReportGenerated:     {KeyReport},
	StageReviewed:            {KeyReview},
}

// Config is the per-session snapshot of thresholds and mode taken at session
// creation. Components read it from the session rather than from any
// process-wide state, so two sessions can run with different bands.
type Config struct {
	Mode       string            `json:"mode"`
	Bands      config.Bands      `json:"bands"`
	Validation config.Validation `json:"validation"`
}

// Session is the root record for one review workflow run. It is owned by the
// Store and mutated only under the session lock.
type Session struct {
	ID            string    `json:"id"`
	SchemaVersion int       `json:"schema_version"`
	Stage         Stage     `json:"stage"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Config        Config    `json:"config"`
}

// Document references an externally produced document. The core reads
// documents but never mutates them.
type Document struct {
	ID             string  `json:"id"`
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	SourcePath     string  `json:"source_path"`
	Health         string  `json:"health"`
	// Text is the extracted document text supplied by the upstream
	// extraction collaborator.
	Text string `json:"text,omitempty"`
}

// DocumentSet is the documents artifact stored per session.
type DocumentSet struct {
	Documents []Document `json:"documents"`
}
