package extraction

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Input describes one extraction request: the fields wanted and the
// contextual text to extract them from.
type Input struct {
	// ContentHash identifies the input for caching. When empty it is
	// computed from the fields and context.
	ContentHash string
	Fields      []string
	Context     string
	// RequirementID tags the request for accounting and error reporting.
	RequirementID string
	// DocumentID names the source document the context came from.
	DocumentID string
}

// Hash returns the content hash for cache keying.
func (in Input) Hash() string {
	if in.ContentHash != "" {
		return in.ContentHash
	}
	h := sha256.New()
	h.Write([]byte(strings.Join(in.Fields, "\x1f")))
	h.Write([]byte{0x1e})
	h.Write([]byte(in.Context))
	return hex.EncodeToString(h.Sum(nil))
}

// Field is one extracted value with its confidence.
type Field struct {
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Result is a successful (or degraded) extraction outcome.
type Result struct {
	Fields []Field `json:"fields"`
	// Fallback marks results produced by the heuristic fallback while the
	// circuit is open.
	Fallback bool `json:"fallback,omitempty"`
	// FromCache marks results served from the response cache.
	FromCache bool `json:"from_cache,omitempty"`
}

// Field returns the named field, if present.
func (r Result) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var (
	// ErrTransient marks failures worth retrying: rate limits, server
	// errors, connection problems, timeouts.
	ErrTransient = errors.New("transient extraction failure")
	// ErrMalformedResponse marks unparseable responses. These are never
	// retried and never silently converted into an empty success.
	ErrMalformedResponse = errors.New("malformed extraction response")
)

// Error is a structured extraction failure naming the affected entity.
type Error struct {
	RequirementID string
	DocumentID    string
	Attempts      int
	Hint          string
	Err           error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.RequirementID != "" {
		parts = append(parts, "requirement "+e.RequirementID)
	}
	if e.DocumentID != "" {
		parts = append(parts, "document "+e.DocumentID)
	}
	detail := strings.Join(parts, ", ")
	if detail != "" {
		detail += ": "
	}
	msg := fmt.Sprintf("extraction failed: %s%v", detail, e.Err)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
