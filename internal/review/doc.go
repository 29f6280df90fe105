// Package review records human accept/defer/escalate decisions against
// validation results and conflicts in an append-only, queryable ledger, and
// derives precedent statistics that can be surfaced as threshold-tuning
// suggestions.
package review
