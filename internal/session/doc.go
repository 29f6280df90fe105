// Package session provides the atomic, lockable, versioned store backing a
// review workflow: per-session artifact persistence with pre-write backups,
// an exclusive session lock with bounded wait, a linear stage machine with
// idempotent re-entry, and an idempotent operation log.
package session
