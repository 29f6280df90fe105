package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"credence/internal/session"
	"credence/internal/testsupport"
)

func TestCreateGetRoundtrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	sess := testsupport.NewSession(t, store, cfg)
	if sess.Stage != session.StageInitialized {
		t.Fatalf("stage = %s, want %s", sess.Stage, session.StageInitialized)
	}

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != sess.ID || got.Stage != sess.Stage {
		t.Fatalf("Get returned %+v, want %+v", got, sess)
	}
	if got.Config.Bands.Pass != cfg.Bands.Pass {
		t.Fatalf("session config not persisted: %+v", got.Config)
	}
}

func TestGetUnknownSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Get("nope"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListOrdersByCreation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	first := testsupport.NewSession(t, store, cfg)
	second := testsupport.NewSession(t, store, cfg)

	sessions, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != first.ID || sessions[1].ID != second.ID {
		t.Fatalf("sessions out of order: %s, %s", sessions[0].ID, sessions[1].ID)
	}
}

func TestDeleteRemovesSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, cfg)

	if err := store.Delete(sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := store.Delete(sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

type counter struct {
	Value int `json:"value"`
}

func TestWriteReadArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, cfg)

	err := store.WithLock(context.Background(), sess.ID, func(tx *session.Tx) error {
		_, err := tx.Write("counter", counter{Value: 7}, session.WriteOptions{})
		return err
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}

	var got counter
	if err := store.Read(sess.ID, "counter", &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Value != 7 {
		t.Fatalf("value = %d, want 7", got.Value)
	}
	if !store.HasArtifact(sess.ID, "counter") {
		t.Fatal("HasArtifact = false after write")
	}
	if store.HasArtifact(sess.ID, "missing") {
		t.Fatal("HasArtifact = true for a missing key")
	}
}

func TestConcurrentLockedIncrements(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, cfg)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.WithLock(context.Background(), sess.ID, func(tx *session.Tx) error {
				var c counter
				if err := tx.Read("counter", &c); err != nil && !errors.Is(err, session.ErrNotFound) {
					return err
				}
				c.Value++
				_, err := tx.Write("counter", c, session.WriteOptions{})
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("locked increment: %v", err)
		}
	}

	var got counter
	if err := store.Read(sess.ID, "counter", &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Value != n {
		t.Fatalf("counter = %d, want %d (lost updates)", got.Value, n)
	}
}

func TestLockTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Session.LockTimeoutSeconds = 1
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, cfg)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.WithLock(context.Background(), sess.ID, func(tx *session.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := store.WithLock(context.Background(), sess.ID, func(tx *session.Tx) error { return nil })
	if !errors.Is(err, session.ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
}

func TestIdempotentOperationReplay(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, cfg)

	var first, second session.WriteResult
	err := store.WithLock(context.Background(), sess.ID, func(tx *session.Tx) error {
		var err error
		first, err = tx.Write("counter", counter{Value: 1}, session.WriteOptions{OperationID: "op-1"})
		if err != nil {
			return err
		}
		// Same operation id with different content must replay, not apply.
		second, err = tx.Write("counter", counter{Value: 99}, session.WriteOptions{OperationID: "op-1"})
		return err
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}

	if first.Replayed {
		t.Fatal("first write must not be a replay")
	}
	if !second.Replayed {
		t.Fatal("second write with the same operation id must replay")
	}
	if second.Checksum != first.Checksum {
		t.Fatalf("replay checksum %s != original %s", second.Checksum, first.Checksum)
	}

	var got counter
	if err := store.Read(sess.ID, "counter", &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Value != 1 {
		t.Fatalf("value = %d, want 1 (replayed write must not mutate)", got.Value)
	}
}

func TestCorruptionRecoversFromBackup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, cfg)

	ctx := context.Background()
	write := func(v int) {
		t.Helper()
		err := store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
			_, err := tx.Write("counter", counter{Value: v}, session.WriteOptions{})
			return err
		})
		if err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// The second write backs up the first, so a backup exists.
	write(1)
	write(2)

	path := filepath.Join(store.Root(), sess.ID, "counter.json")
	if err := os.WriteFile(path, []byte("{garbage"), 0o644); err != nil {
		t.Fatalf("corrupt artifact: %v", err)
	}

	var got counter
	if err := store.Read(sess.ID, "counter", &got); err != nil {
		t.Fatalf("Read after corruption: %v", err)
	}
	if got.Value != 1 {
		t.Fatalf("recovered value = %d, want backup value 1", got.Value)
	}
}

func TestCorruptionWithoutBackupFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, cfg)

	err := store.WithLock(context.Background(), sess.ID, func(tx *session.Tx) error {
		_, err := tx.Write("counter", counter{Value: 1}, session.WriteOptions{})
		return err
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	path := filepath.Join(store.Root(), sess.ID, "counter.json")
	if err := os.WriteFile(path, []byte("{garbage"), 0o644); err != nil {
		t.Fatalf("corrupt artifact: %v", err)
	}

	var got counter
	readErr := store.Read(sess.ID, "counter", &got)
	if !errors.Is(readErr, session.ErrCorruptedState) {
		t.Fatalf("err = %v, want ErrCorruptedState", readErr)
	}
	var cerr *session.CorruptionError
	if !errors.As(readErr, &cerr) {
		t.Fatalf("err = %T, want *CorruptionError", readErr)
	}
	if cerr.BackupAvailable {
		t.Fatal("no backup was ever written")
	}
}

func TestTransitionEnforcesOrderAndPrereqs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	// Skipping a stage is rejected.
	err := store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		return tx.Transition(session.StageInitialized, session.StageEvidenceExtracted, session.TransitionOptions{})
	})
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	// Advancing without the prerequisite artifact is rejected.
	err = store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		return tx.Transition(session.StageInitialized, session.StageDocumentsDiscovered, session.TransitionOptions{})
	})
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition for missing prereq", err)
	}

	// With the artifact in place the transition succeeds.
	err = store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		if _, err := tx.Write(session.KeyDocuments, session.DocumentSet{}, session.WriteOptions{}); err != nil {
			return err
		}
		return tx.Transition(session.StageInitialized, session.StageDocumentsDiscovered, session.TransitionOptions{})
	})
	if err != nil {
		t.Fatalf("valid transition: %v", err)
	}

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != session.StageDocumentsDiscovered {
		t.Fatalf("stage = %s, want %s", got.Stage, session.StageDocumentsDiscovered)
	}

	// A mismatched from-stage is rejected.
	err = store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		return tx.Transition(session.StageInitialized, session.StageDocumentsDiscovered, session.TransitionOptions{})
	})
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition for stale from", err)
	}
}

func TestRefreshSupersedesDownstream(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	err := store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		if _, err := tx.Write(session.KeyDocuments, session.DocumentSet{}, session.WriteOptions{}); err != nil {
			return err
		}
		if err := tx.Transition(session.StageInitialized, session.StageDocumentsDiscovered, session.TransitionOptions{}); err != nil {
			return err
		}
		if _, err := tx.Write(session.KeyEvidence, counter{Value: 1}, session.WriteOptions{}); err != nil {
			return err
		}
		return tx.Transition(session.StageDocumentsDiscovered, session.StageEvidenceExtracted, session.TransitionOptions{})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	// A refresh of the current stage never touches that stage's own output.
	err = store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		return tx.Transition(session.StageEvidenceExtracted, session.StageEvidenceExtracted, session.TransitionOptions{Supersede: true})
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Evidence belongs to the refreshed stage itself and must survive.
	if !store.HasArtifact(sess.ID, session.KeyEvidence) {
		t.Fatal("evidence must not be superseded by its own stage refresh")
	}

	// Now write a validation artifact downstream and refresh again.
	err = store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		if _, err := tx.Write(session.KeyValidation, counter{Value: 2}, session.WriteOptions{}); err != nil {
			return err
		}
		return tx.Transition(session.StageEvidenceExtracted, session.StageEvidenceExtracted, session.TransitionOptions{Supersede: true})
	})
	if err != nil {
		t.Fatalf("refresh with downstream artifact: %v", err)
	}

	if store.HasArtifact(sess.ID, session.KeyValidation) {
		t.Fatal("downstream validation artifact must be superseded")
	}
	// Superseded artifacts are marked, never deleted.
	infos, err := store.Artifacts(sess.ID)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	foundSuperseded := false
	for _, info := range infos {
		if info.Key == session.KeyValidation {
			if !info.Superseded || info.SupersededAt == nil {
				t.Fatalf("validation artifact not marked superseded: %+v", info)
			}
			foundSuperseded = true
		}
	}
	if !foundSuperseded {
		t.Fatal("superseded artifact file was deleted")
	}
}

func TestReenterEarlierStageRewindsAndSupersedes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, cfg)
	ctx := context.Background()

	err := store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		if _, err := tx.Write(session.KeyDocuments, session.DocumentSet{}, session.WriteOptions{}); err != nil {
			return err
		}
		if err := tx.Transition(session.StageInitialized, session.StageDocumentsDiscovered, session.TransitionOptions{}); err != nil {
			return err
		}
		if _, err := tx.Write(session.KeyEvidence, counter{Value: 1}, session.WriteOptions{}); err != nil {
			return err
		}
		if err := tx.Transition(session.StageDocumentsDiscovered, session.StageEvidenceExtracted, session.TransitionOptions{}); err != nil {
			return err
		}
		if _, err := tx.Write(session.KeyValidation, counter{Value: 2}, session.WriteOptions{}); err != nil {
			return err
		}
		return tx.Transition(session.StageEvidenceExtracted, session.StageValidated, session.TransitionOptions{})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	// A stage the session has not reached cannot be re-entered.
	err = store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		return tx.Transition(session.StageReportGenerated, session.StageReportGenerated, session.TransitionOptions{})
	})
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition for an unreached stage", err)
	}

	// Re-entering an earlier stage refuses to leave later artifacts behind
	// unless the caller explicitly supersedes them.
	err = store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		return tx.Transition(session.StageDocumentsDiscovered, session.StageDocumentsDiscovered, session.TransitionOptions{})
	})
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition without the supersede flag", err)
	}
	if !store.HasArtifact(sess.ID, session.KeyEvidence) || !store.HasArtifact(sess.ID, session.KeyValidation) {
		t.Fatal("refused re-entry must not touch any artifact")
	}

	// With the flag the session rewinds and downstream output is marked.
	err = store.WithLock(ctx, sess.ID, func(tx *session.Tx) error {
		return tx.Transition(session.StageDocumentsDiscovered, session.StageDocumentsDiscovered, session.TransitionOptions{Supersede: true})
	})
	if err != nil {
		t.Fatalf("re-enter with supersede: %v", err)
	}

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != session.StageDocumentsDiscovered {
		t.Fatalf("stage = %s, want %s after rewind", got.Stage, session.StageDocumentsDiscovered)
	}
	if !store.HasArtifact(sess.ID, session.KeyDocuments) {
		t.Fatal("the re-entered stage's own artifact must survive")
	}
	infos, err := store.Artifacts(sess.ID)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	superseded := map[string]bool{}
	for _, info := range infos {
		superseded[info.Key] = info.Superseded
	}
	for _, key := range []string{session.KeyEvidence, session.KeyValidation} {
		if !superseded[key] {
			t.Fatalf("artifact %s not marked superseded after rewind", key)
		}
	}
}

func TestStageNextOrdering(t *testing.T) {
	stages := session.Stages()
	for i := 0; i < len(stages)-1; i++ {
		next, ok := stages[i].Next()
		if !ok || next != stages[i+1] {
			t.Fatalf("Next(%s) = %s/%v, want %s", stages[i], next, ok, stages[i+1])
		}
	}
	if _, ok := stages[len(stages)-1].Next(); ok {
		t.Fatal("terminal stage must have no next")
	}
}
