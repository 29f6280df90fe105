package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the session id has no state on disk.
	ErrNotFound = errors.New("session not found")
	// ErrLockTimeout indicates the session lock could not be acquired
	// within the configured wait.
	ErrLockTimeout = errors.New("session lock timeout")
	// ErrInvalidTransition indicates a stage transition that the state
	// machine does not permit.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrCorruptedState indicates persisted state failed schema validation
	// and could not be recovered from backup.
	ErrCorruptedState = errors.New("session state corrupted")
)

// CorruptionError carries the details a caller needs to act on corrupted
// state: which file, whether a backup existed, and whether recovery from it
// was attempted and failed. The store never deletes the corrupted file.
type CorruptionError struct {
	SessionID       string
	Path            string
	BackupAvailable bool
	BackupErr       error
	Cause           error
}

func (e *CorruptionError) Error() string {
	msg := fmt.Sprintf("session %s: state corrupted at %s", e.SessionID, e.Path)
	if !e.BackupAvailable {
		return msg + " (no backup available; inspect the file before deleting)"
	}
	if e.BackupErr != nil {
		return msg + fmt.Sprintf(" (backup recovery failed: %v)", e.BackupErr)
	}
	return msg
}

func (e *CorruptionError) Unwrap() error { return ErrCorruptedState }

// TransitionError describes a rejected stage transition.
type TransitionError struct {
	SessionID string
	From      Stage
	To        Stage
	Current   Stage
	Reason    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf(
		"session %s: cannot transition %s -> %s (current %s): %s",
		e.SessionID, e.From, e.To, e.Current, e.Reason,
	)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
