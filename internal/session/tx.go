package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tx provides scoped write access to one session while its lock is held.
type Tx struct {
	store   *Store
	session *Session
}

// Session returns the locked session record.
func (t *Tx) Session() *Session { return t.session }

// Read loads an artifact under the lock.
func (t *Tx) Read(key string, v any) error {
	return t.store.Read(t.session.ID, key, v)
}

// WriteOptions control artifact writes.
type WriteOptions struct {
	// OperationID makes the write idempotent: a repeated id returns the
	// previously recorded result without re-applying the mutation.
	OperationID string
}

// WriteResult records the outcome of an artifact write.
type WriteResult struct {
	Key       string    `json:"key"`
	Checksum  string    `json:"checksum"`
	WrittenAt time.Time `json:"written_at"`
	// Replayed is true when an operation id matched an earlier write and
	// the stored result was returned instead of mutating again.
	Replayed bool `json:"replayed,omitempty"`
}

// Write persists an artifact atomically (write-temp-then-rename), backing up
// any existing file first.
func (t *Tx) Write(key string, v any, opts WriteOptions) (WriteResult, error) {
	if opts.OperationID != "" {
		if prev, ok, err := t.store.lookupOperation(t.session.ID, opts.OperationID); err != nil {
			return WriteResult{}, err
		} else if ok {
			prev.Replayed = true
			return prev, nil
		}
	}

	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return WriteResult{}, fmt.Errorf("marshal artifact %s: %w", key, err)
	}
	env := &envelope{
		SchemaVersion: SchemaVersion,
		Key:           key,
		WrittenAt:     time.Now().UTC(),
		Payload:       payload,
	}
	if err := t.store.writeArtifact(t.session.ID, key, env); err != nil {
		return WriteResult{}, err
	}

	result := WriteResult{Key: key, Checksum: checksum(payload), WrittenAt: env.WrittenAt}
	if opts.OperationID != "" {
		if err := t.store.recordOperation(t.session.ID, opts.OperationID, result); err != nil {
			return WriteResult{}, err
		}
	}
	if err := t.store.saveSession(t.session); err != nil {
		return WriteResult{}, err
	}
	return result, nil
}

// UpdateConfig replaces the session's configuration snapshot.
func (t *Tx) UpdateConfig(cfg Config) error {
	t.session.Config = cfg
	return t.store.saveSession(t.session)
}
