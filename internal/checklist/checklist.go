package checklist

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Requirement is a single checklist entry. Requirements are immutable once
// loaded; a session holds them for its whole lifetime.
type Requirement struct {
	ID       string `yaml:"id" json:"id"`
	Text     string `yaml:"text" json:"text"`
	Category string `yaml:"category" json:"category"`
	// Fields names the structured fields extraction should produce for this
	// requirement.
	Fields []string `yaml:"fields" json:"fields,omitempty"`
}

// Checklist is an ordered, immutable set of requirements for one methodology.
type Checklist struct {
	Methodology  string        `yaml:"methodology" json:"methodology"`
	Requirements []Requirement `yaml:"requirements" json:"requirements"`
}

// Load reads and validates a checklist definition from a YAML file.
func Load(path string) (*Checklist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checklist: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates checklist YAML.
func Parse(data []byte) (*Checklist, error) {
	var cl Checklist
	if err := yaml.Unmarshal(data, &cl); err != nil {
		return nil, fmt.Errorf("parse checklist: %w", err)
	}
	if err := cl.validate(); err != nil {
		return nil, err
	}
	return &cl, nil
}

func (c *Checklist) validate() error {
	if len(c.Requirements) == 0 {
		return errors.New("checklist has no requirements")
	}
	seen := make(map[string]struct{}, len(c.Requirements))
	for i, req := range c.Requirements {
		id := strings.TrimSpace(req.ID)
		if id == "" {
			return fmt.Errorf("requirement %d: id is required", i)
		}
		if strings.TrimSpace(req.Text) == "" {
			return fmt.Errorf("requirement %s: text is required", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("requirement %s: duplicate id", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Requirement returns the requirement with the given id, if present.
func (c *Checklist) Requirement(id string) (Requirement, bool) {
	for _, req := range c.Requirements {
		if req.ID == id {
			return req, true
		}
	}
	return Requirement{}, false
}
