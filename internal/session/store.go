package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"credence/internal/config"
	"credence/internal/logging"
)

const (
	sessionFile = "session.json"
	backupDir   = "backups"
)

// Store manages per-session state directories under a common root.
type Store struct {
	root        string
	logger      *slog.Logger
	lockTimeout time.Duration
	staleAfter  time.Duration
}

// Open prepares the session root directory and returns a store.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	root := filepath.Join(cfg.Paths.StateDir, "sessions")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session root: %w", err)
	}
	return &Store{
		root:        root,
		logger:      logging.NewComponentLogger(logger, "session"),
		lockTimeout: time.Duration(cfg.Session.LockTimeoutSeconds) * time.Second,
		staleAfter:  time.Duration(cfg.Session.LockStaleAfterSeconds) * time.Second,
	}, nil
}

// Root returns the directory holding session namespaces.
func (s *Store) Root() string { return s.root }

func (s *Store) sessionDir(id string) string { return filepath.Join(s.root, id) }

func (s *Store) artifactPath(id, key string) string {
	return filepath.Join(s.sessionDir(id), key+".json")
}

func (s *Store) backupPath(id, key string) string {
	return filepath.Join(s.sessionDir(id), backupDir, key+".json")
}

// Create allocates a new session directory and persists the initial record.
func (s *Store) Create(cfg Config) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:            uuid.NewString(),
		SchemaVersion: SchemaVersion,
		Stage:         StageInitialized,
		CreatedAt:     now,
		UpdatedAt:     now,
		Config:        cfg,
	}
	dir := s.sessionDir(sess.ID)
	if err := os.MkdirAll(filepath.Join(dir, backupDir), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	if err := s.saveSession(sess); err != nil {
		return nil, err
	}
	s.logger.Info("session created",
		logging.String(logging.FieldSession, sess.ID),
		logging.String(logging.FieldStage, string(sess.Stage)))
	return sess, nil
}

// Get loads a session record. It is a snapshot read and does not take the
// session lock.
func (s *Store) Get(id string) (*Session, error) {
	path := filepath.Join(s.sessionDir(id), sessionFile)
	payload, err := s.readVerified(id, sessionFile, path, filepath.Join(s.sessionDir(id), backupDir, sessionFile))
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, &CorruptionError{SessionID: id, Path: path, Cause: err}
	}
	if sess.SchemaVersion != SchemaVersion {
		return nil, &CorruptionError{
			SessionID: id,
			Path:      path,
			Cause:     fmt.Errorf("schema version %d, expected %d", sess.SchemaVersion, SchemaVersion),
		}
	}
	return &sess, nil
}

// List returns all sessions ordered by creation time.
func (s *Store) List() ([]*Session, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]*Session, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sess, err := s.Get(entry.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Delete removes a session and all of its artifacts. Sessions are removed
// only through this explicit call.
func (s *Store) Delete(id string) error {
	dir := s.sessionDir(id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("stat session: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	s.logger.Info("session deleted", logging.String(logging.FieldSession, id))
	return nil
}

// Read loads an artifact into v. It is a snapshot read: callers that need
// strict freshness must read inside WithLock instead.
func (s *Store) Read(id, key string, v any) error {
	env, err := s.readArtifact(id, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return &CorruptionError{SessionID: id, Path: s.artifactPath(id, key), Cause: err}
	}
	return nil
}

// HasArtifact reports whether an artifact exists and is not superseded.
func (s *Store) HasArtifact(id, key string) bool {
	env, err := s.readArtifact(id, key)
	return err == nil && !env.Superseded
}

// ArtifactInfo describes an artifact's envelope without its payload.
type ArtifactInfo struct {
	Key          string     `json:"key"`
	WrittenAt    time.Time  `json:"written_at"`
	Superseded   bool       `json:"superseded"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
}

// Artifacts lists envelope metadata for every artifact in the session.
func (s *Store) Artifacts(id string) ([]ArtifactInfo, error) {
	entries, err := os.ReadDir(s.sessionDir(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	infos := make([]ArtifactInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == sessionFile || name == oplogFile || filepath.Ext(name) != ".json" {
			continue
		}
		key := name[:len(name)-len(".json")]
		env, err := s.readArtifact(id, key)
		if err != nil {
			continue
		}
		infos = append(infos, ArtifactInfo{
			Key:          env.Key,
			WrittenAt:    env.WrittenAt,
			Superseded:   env.Superseded,
			SupersededAt: env.SupersededAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Key           string          `json:"key"`
	WrittenAt     time.Time       `json:"written_at"`
	Superseded    bool            `json:"superseded,omitempty"`
	SupersededAt  *time.Time      `json:"superseded_at,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func (s *Store) readArtifact(id, key string) (*envelope, error) {
	path := s.artifactPath(id, key)
	payload, err := s.readVerified(id, key, path, s.backupPath(id, key))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &CorruptionError{SessionID: id, Path: path, Cause: err}
	}
	return &env, nil
}

// readVerified reads a state file and validates it parses as an envelope (or
// session record) with the expected schema version. On validation failure it
// attempts recovery from the most recent backup; the corrupted file is left
// in place either way.
func (s *Store) readVerified(id, key, path, backup string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session %s: artifact %s: %w", id, key, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if verr := verifySchema(data); verr == nil {
		return data, nil
	} else {
		backupData, berr := os.ReadFile(backup)
		if berr != nil {
			return nil, &CorruptionError{SessionID: id, Path: path, BackupAvailable: false, Cause: verr}
		}
		if bverr := verifySchema(backupData); bverr != nil {
			return nil, &CorruptionError{
				SessionID:       id,
				Path:            path,
				BackupAvailable: true,
				BackupErr:       bverr,
				Cause:           verr,
			}
		}
		s.logger.Warn("recovered state from backup",
			logging.String(logging.FieldSession, id),
			logging.String("key", key),
			logging.String(logging.FieldEventType, "state_recovered"),
			logging.Error(verr))
		if err := writeFileAtomic(path, backupData); err != nil {
			return nil, fmt.Errorf("restore backup for %s: %w", path, err)
		}
		return backupData, nil
	}
}

func verifySchema(data []byte) error {
	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema version %d, expected %d", probe.SchemaVersion, SchemaVersion)
	}
	return nil
}

func (s *Store) saveSession(sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	path := filepath.Join(s.sessionDir(sess.ID), sessionFile)
	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, filepath.Join(s.sessionDir(sess.ID), backupDir, sessionFile)); err != nil {
			return fmt.Errorf("backup session record: %w", err)
		}
	}
	return writeFileAtomic(path, data)
}

// writeArtifact persists an envelope atomically, backing up any existing
// file first.
func (s *Store) writeArtifact(id, key string, env *envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", key, err)
	}
	path := s.artifactPath(id, key)
	if err := os.MkdirAll(filepath.Join(s.sessionDir(id), backupDir), 0o755); err != nil {
		return fmt.Errorf("ensure backup directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, s.backupPath(id, key)); err != nil {
			return fmt.Errorf("backup artifact %s: %w", key, err)
		}
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes data to a temp file in the destination directory
// and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(dst, data)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
