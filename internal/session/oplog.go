package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const oplogFile = "oplog.json"

// oplog is the append-only record of applied operation ids. It is only
// touched while the session lock is held.
type oplog struct {
	SchemaVersion int                    `json:"schema_version"`
	Applied       map[string]WriteResult `json:"applied"`
}

func (s *Store) loadOplog(id string) (*oplog, error) {
	path := filepath.Join(s.sessionDir(id), oplogFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &oplog{SchemaVersion: SchemaVersion, Applied: map[string]WriteResult{}}, nil
		}
		return nil, fmt.Errorf("read oplog: %w", err)
	}
	var log oplog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, &CorruptionError{SessionID: id, Path: path, Cause: err}
	}
	if log.Applied == nil {
		log.Applied = map[string]WriteResult{}
	}
	return &log, nil
}

func (s *Store) lookupOperation(id, opID string) (WriteResult, bool, error) {
	log, err := s.loadOplog(id)
	if err != nil {
		return WriteResult{}, false, err
	}
	result, ok := log.Applied[opID]
	return result, ok, nil
}

func (s *Store) recordOperation(id, opID string, result WriteResult) error {
	log, err := s.loadOplog(id)
	if err != nil {
		return err
	}
	log.Applied[opID] = result
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal oplog: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.sessionDir(id), oplogFile), data)
}
