package testsupport

import (
	"testing"

	"credence/internal/config"
	"credence/internal/logging"
	"credence/internal/review"
	"credence/internal/session"
)

// MustOpenStore opens a session.Store for tests.
func MustOpenStore(t testing.TB, cfg *config.Config) *session.Store {
	t.Helper()

	store, err := session.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	return store
}

// MustOpenLedger opens a review.Ledger for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *review.Ledger {
	t.Helper()

	ledger, err := review.Open(cfg)
	if err != nil {
		t.Fatalf("review.Open: %v", err)
	}
	t.Cleanup(func() {
		ledger.Close()
	})
	return ledger
}

// NewSession creates a session for tests using the provided store.
func NewSession(t testing.TB, store *session.Store, cfg *config.Config) *session.Session {
	t.Helper()

	sess, err := store.Create(session.Config{
		Mode:       "standard",
		Bands:      cfg.Bands,
		Validation: cfg.Validation,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return sess
}
