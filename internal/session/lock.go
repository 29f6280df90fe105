package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"credence/internal/logging"
)

const (
	lockFile     = "session.lock"
	lockMetaFile = "session.lock.meta"
	lockPollStep = 25 * time.Millisecond
)

type lockMeta struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// WithLock runs fn with exclusive write access to the session. Acquisition
// waits up to the configured lock timeout and then fails with
// ErrLockTimeout. The lock is released on every exit path; a metadata file
// older than the stale grace period indicates a crashed holder and its
// reclaim is logged as a recovered-lock event.
func (s *Store) WithLock(ctx context.Context, id string, fn func(tx *Tx) error) error {
	dir := s.sessionDir(id)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	lockPath := filepath.Join(dir, lockFile)
	fl := flock.New(lockPath)

	waitCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(waitCtx, lockPollStep)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("session %s: lock not acquired within %s (retry once the holder finishes): %w",
			id, s.lockTimeout, ErrLockTimeout)
	}
	defer func() {
		_ = os.Remove(filepath.Join(dir, lockMetaFile))
		_ = fl.Unlock()
	}()

	s.noteStaleHolder(id, dir)
	if err := s.writeLockMeta(dir); err != nil {
		return err
	}

	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	return fn(&Tx{store: s, session: sess})
}

// noteStaleHolder logs when lock metadata from a dead holder is being
// reclaimed. The flock itself is released by the OS on process death, so the
// metadata is the only residue.
func (s *Store) noteStaleHolder(id, dir string) {
	data, err := os.ReadFile(filepath.Join(dir, lockMetaFile))
	if err != nil {
		return
	}
	var meta lockMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return
	}
	age := time.Since(meta.AcquiredAt)
	if age < s.staleAfter {
		return
	}
	s.logger.Warn("reclaimed stale session lock",
		logging.String(logging.FieldSession, id),
		logging.String(logging.FieldEventType, "lock_recovered"),
		logging.Int("holder_pid", meta.PID),
		logging.Duration("lock_age", age))
}

func (s *Store) writeLockMeta(dir string) error {
	meta := lockMeta{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal lock metadata: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, lockMetaFile), data)
}
