// Package evidence aggregates extracted snippets per requirement into a
// calibrated confidence and coverage status using the session's
// confidence-band configuration.
package evidence
