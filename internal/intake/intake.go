// Package intake watches a drop directory for document descriptors and
// registers their documents with the owning session.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"credence/internal/config"
	"credence/internal/logging"
	"credence/internal/session"
	"credence/internal/workflow"
)

// Descriptor is the JSON payload dropped into the intake directory. One
// descriptor names the session it belongs to and the documents to register.
type Descriptor struct {
	SessionID string             `json:"session_id"`
	Documents []session.Document `json:"documents"`
}

// Watcher feeds dropped descriptors into the workflow manager.
type Watcher struct {
	dir     string
	manager *workflow.Manager
	logger  *slog.Logger

	// settle is how long a descriptor must be quiet before it is read, so
	// partially written files are not consumed mid-copy.
	settle time.Duration
}

// NewWatcher builds a watcher over the configured intake directory.
func NewWatcher(cfg *config.Config, manager *workflow.Manager, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:     cfg.Paths.IntakeDir,
		manager: manager,
		logger:  logging.NewComponentLogger(logger, "intake"),
		settle:  500 * time.Millisecond,
	}
}

// Run processes any descriptors already present, then blocks handling
// filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create intake directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create intake watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	if err := w.sweep(ctx); err != nil {
		return err
	}
	w.logger.Info("intake watching", logging.String("dir", w.dir))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.settle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if !isDescriptor(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("intake watcher error", logging.Error(err))
		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				w.process(ctx, path)
			}
		}
	}
}

// sweep registers descriptors that were dropped before the watcher started.
func (w *Watcher) sweep(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read intake directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isDescriptor(entry.Name()) {
			continue
		}
		w.process(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

func isDescriptor(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".rejected.json")
}

// process registers one descriptor's documents. Successful descriptors are
// removed; malformed ones are renamed aside so they are not retried forever.
func (w *Watcher) process(ctx context.Context, path string) {
	desc, err := readDescriptor(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		w.logger.Warn("rejecting descriptor",
			logging.String("path", path),
			logging.Error(err))
		w.reject(path)
		return
	}

	err = w.manager.RegisterDocuments(ctx, desc.SessionID, desc.Documents, workflow.RunOptions{})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			w.logger.Warn("rejecting descriptor for unknown session",
				logging.String("path", path),
				logging.String(logging.FieldSession, desc.SessionID))
			w.reject(path)
			return
		}
		w.logger.Error("document registration failed",
			logging.String("path", path),
			logging.String(logging.FieldSession, desc.SessionID),
			logging.Error(err))
		return
	}

	if err := os.Remove(path); err != nil {
		w.logger.Warn("could not remove processed descriptor",
			logging.String("path", path),
			logging.Error(err))
	}
	w.logger.Info("descriptor processed",
		logging.String("path", path),
		logging.String(logging.FieldSession, desc.SessionID),
		logging.Int("documents", len(desc.Documents)))
}

func (w *Watcher) reject(path string) {
	target := strings.TrimSuffix(path, ".json") + ".rejected.json"
	if err := os.Rename(path, target); err != nil {
		w.logger.Warn("could not set aside descriptor",
			logging.String("path", path),
			logging.Error(err))
	}
}

func readDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}
	if desc.SessionID == "" {
		return Descriptor{}, errors.New("descriptor missing session_id")
	}
	if len(desc.Documents) == 0 {
		return Descriptor{}, errors.New("descriptor has no documents")
	}
	return desc, nil
}
