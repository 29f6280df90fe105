// Package extraction wraps the external structured-extraction service with
// retry/backoff, a process-wide circuit breaker, response caching keyed by
// content hash, a deterministic heuristic fallback, and usage accounting.
package extraction
