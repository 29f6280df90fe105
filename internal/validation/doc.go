// Package validation runs the closed set of cross-document validators
// (date alignment, land tenure name matching, project identifier
// consistency) and detects logical conflicts between their results. Expected
// data-quality conditions (ambiguous dates, weak similarity) are modeled as
// result states, never as errors.
package validation
