package evidence

import (
	"sort"

	"credence/internal/config"
)

// Status is the aggregated coverage status of one requirement.
type Status string

const (
	StatusCovered Status = "covered"
	StatusPartial Status = "partial"
	StatusMissing Status = "missing"
	StatusFlagged Status = "flagged"
)

// Snippet is one piece of extracted evidence. Snippets are owned by the
// aggregator once ingested; re-extraction marks them stale rather than
// deleting them.
type Snippet struct {
	Text       string  `json:"text"`
	DocumentID string  `json:"document_id"`
	Locator    string  `json:"locator"`
	Confidence float64 `json:"confidence"`
	// Fact and Value identify what the snippet asserts, used for
	// corroboration and disagreement detection. Both may be empty for
	// free-text evidence.
	Fact  string `json:"fact,omitempty"`
	Value string `json:"value,omitempty"`
	Stale bool   `json:"stale,omitempty"`
}

// Disagreement records two high-confidence snippets asserting incompatible
// values for the same fact. The aggregator never resolves it; the conflict
// detector and ultimately a human decision do.
type Disagreement struct {
	Fact        string   `json:"fact"`
	Values      []string `json:"values"`
	DocumentIDs []string `json:"document_ids"`
}

// RequirementEvidence is the aggregated view of one requirement's evidence.
// It is a pure function of the snippet set and the band configuration:
// re-aggregating unchanged input yields byte-identical output.
type RequirementEvidence struct {
	RequirementID string         `json:"requirement_id"`
	Status        Status         `json:"status"`
	Confidence    float64        `json:"confidence"`
	Snippets      []Snippet      `json:"snippets"`
	Disagreements []Disagreement `json:"disagreements,omitempty"`
	Corroborated  bool           `json:"corroborated,omitempty"`
}

// Aggregate combines a requirement's snippets into a single calibrated
// status and confidence. Stale snippets stay listed but contribute nothing.
func Aggregate(requirementID string, snippets []Snippet, bands config.Bands) RequirementEvidence {
	ordered := canonicalOrder(snippets)
	out := RequirementEvidence{
		RequirementID: requirementID,
		Status:        StatusMissing,
		Snippets:      ordered,
	}

	active := make([]Snippet, 0, len(ordered))
	for _, s := range ordered {
		if !s.Stale {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return out
	}

	base := 0.0
	for _, s := range active {
		if s.Confidence > base {
			base = s.Confidence
		}
	}
	out.Confidence = base

	if disagreements := findDisagreements(active, bands.Pass); len(disagreements) > 0 {
		// Two credible sources contradict each other: do not pick the max.
		out.Status = StatusFlagged
		out.Disagreements = disagreements
		return out
	}

	if corroborated(active, bands.Pass) {
		out.Corroborated = true
		out.Confidence = base + bands.CorroborationBoost
		if out.Confidence > 1.0 {
			out.Confidence = 1.0
		}
	}

	switch {
	case out.Confidence >= bands.Pass:
		out.Status = StatusCovered
	case out.Confidence >= bands.Partial:
		out.Status = StatusPartial
	default:
		out.Status = StatusMissing
	}
	return out
}

// canonicalOrder sorts snippets deterministically so identical input sets
// always serialize identically.
func canonicalOrder(snippets []Snippet) []Snippet {
	ordered := make([]Snippet, len(snippets))
	copy(ordered, snippets)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		if a.Locator != b.Locator {
			return a.Locator < b.Locator
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Text < b.Text
	})
	return ordered
}

// corroborated reports whether at least two snippets from independent
// documents sit above the pass band and agree on what they assert.
func corroborated(snippets []Snippet, passBand float64) bool {
	seen := make(map[string]string)
	for _, s := range snippets {
		if s.Confidence < passBand {
			continue
		}
		key := s.Fact + "\x1f" + s.Value
		if doc, ok := seen[key]; ok && doc != s.DocumentID {
			return true
		}
		if _, ok := seen[key]; !ok {
			seen[key] = s.DocumentID
		}
	}
	return false
}

func findDisagreements(snippets []Snippet, passBand float64) []Disagreement {
	type assertion struct {
		value string
		doc   string
	}
	byFact := make(map[string][]assertion)
	var facts []string
	for _, s := range snippets {
		if s.Fact == "" || s.Value == "" || s.Confidence < passBand {
			continue
		}
		if _, ok := byFact[s.Fact]; !ok {
			facts = append(facts, s.Fact)
		}
		byFact[s.Fact] = append(byFact[s.Fact], assertion{value: s.Value, doc: s.DocumentID})
	}
	sort.Strings(facts)

	var out []Disagreement
	for _, fact := range facts {
		values := make([]string, 0, 2)
		docs := make([]string, 0, 2)
		seenValues := make(map[string]struct{})
		for _, a := range byFact[fact] {
			if _, ok := seenValues[a.value]; ok {
				continue
			}
			seenValues[a.value] = struct{}{}
			values = append(values, a.value)
			docs = append(docs, a.doc)
		}
		if len(values) > 1 {
			sort.Strings(values)
			sort.Strings(docs)
			out = append(out, Disagreement{Fact: fact, Values: values, DocumentIDs: docs})
		}
	}
	return out
}

// Invalidate marks every snippet stale, preserving the record while a
// re-extraction replaces it.
func Invalidate(evidence []RequirementEvidence) []RequirementEvidence {
	out := make([]RequirementEvidence, len(evidence))
	for i, re := range evidence {
		snippets := make([]Snippet, len(re.Snippets))
		copy(snippets, re.Snippets)
		for j := range snippets {
			snippets[j].Stale = true
		}
		re.Snippets = snippets
		out[i] = re
	}
	return out
}
