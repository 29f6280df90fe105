package extraction

import (
	"regexp"
	"strings"
)

// fallbackConfidence is the fixed confidence attached to heuristic results
// so downstream aggregation treats them as weak signal, not truth.
const fallbackConfidence = 0.2

var (
	datePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{4}\b`)
	idPattern   = regexp.MustCompile(`\b\d{4,8}\b`)
	namePattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z]\.?)?(?:\s+[A-Z][a-z]+)+\b`)
)

// heuristicExtract produces a deterministic degraded result from the
// contextual text alone. It runs when the circuit is open so aggregation can
// proceed instead of stalling on the external service.
func heuristicExtract(in Input) Result {
	fields := make([]Field, 0, len(in.Fields))
	for _, name := range in.Fields {
		value := heuristicValue(name, in.Context)
		if value == "" {
			continue
		}
		fields = append(fields, Field{Name: name, Value: value, Confidence: fallbackConfidence})
	}
	return Result{Fields: fields, Fallback: true}
}

func heuristicValue(fieldName, context string) string {
	lower := strings.ToLower(fieldName)
	switch {
	case strings.Contains(lower, "date"):
		return datePattern.FindString(context)
	case strings.Contains(lower, "id") || strings.Contains(lower, "number"):
		return idPattern.FindString(context)
	case strings.Contains(lower, "name") || strings.Contains(lower, "holder") || strings.Contains(lower, "owner"):
		return namePattern.FindString(context)
	default:
		return ""
	}
}
