package session

import (
	"fmt"
	"time"

	"credence/internal/logging"
)

// TransitionOptions control stage transitions and re-runs.
type TransitionOptions struct {
	// Supersede marks artifacts produced by later stages as superseded when
	// a stage is re-run. Without it, a re-run refuses to discard downstream
	// output silently and simply leaves it in place.
	Supersede bool
}

// Transition moves the session from one stage to the next, or re-enters an
// already-reached stage as an idempotent refresh. Forward transitions
// require the current stage to match from, the target to be the immediate
// next stage, and the target's prerequisite artifacts to be present.
func (t *Tx) Transition(from, to Stage, opts TransitionOptions) error {
	sess := t.session
	if !from.Valid() || !to.Valid() {
		return &TransitionError{SessionID: sess.ID, From: from, To: to, Current: sess.Stage, Reason: "unknown stage"}
	}
	if to == from {
		return t.reenter(from, opts)
	}
	if sess.Stage != from {
		return &TransitionError{
			SessionID: sess.ID,
			From:      from,
			To:        to,
			Current:   sess.Stage,
			Reason:    "session is not in the expected stage; re-enter a completed stage instead",
		}
	}

	next, ok := from.Next()
	if !ok || to != next {
		return &TransitionError{
			SessionID: sess.ID,
			From:      from,
			To:        to,
			Current:   sess.Stage,
			Reason:    fmt.Sprintf("stages advance one at a time (next is %s)", next),
		}
	}
	for _, key := range stagePrereqs[to] {
		if !t.store.HasArtifact(sess.ID, key) {
			return &TransitionError{
				SessionID: sess.ID,
				From:      from,
				To:        to,
				Current:   sess.Stage,
				Reason:    fmt.Sprintf("missing prerequisite artifact %q; re-run stage %s", key, from),
			}
		}
	}

	sess.Stage = to
	if err := t.store.saveSession(sess); err != nil {
		return err
	}
	t.store.logger.Info("stage transition",
		logging.String(logging.FieldSession, sess.ID),
		logging.String("from", string(from)),
		logging.String(logging.FieldStage, string(to)))
	return nil
}

// reenter refreshes a stage the session has already reached. Re-entering
// the current stage leaves downstream artifacts alone unless the supersede
// flag is set. Re-entering an earlier stage rewinds the session to it and
// requires the flag: the refreshed output invalidates everything downstream,
// and those artifacts must be marked superseded, never silently abandoned.
func (t *Tx) reenter(stage Stage, opts TransitionOptions) error {
	sess := t.session
	if !sess.Stage.AtOrPast(stage) {
		return &TransitionError{
			SessionID: sess.ID,
			From:      stage,
			To:        stage,
			Current:   sess.Stage,
			Reason:    "stage has not been reached yet",
		}
	}
	if stage == sess.Stage {
		if opts.Supersede {
			if err := t.supersedeDownstream(stage); err != nil {
				return err
			}
		}
		return t.store.saveSession(sess)
	}
	if !opts.Supersede {
		return &TransitionError{
			SessionID: sess.ID,
			From:      stage,
			To:        stage,
			Current:   sess.Stage,
			Reason:    "re-running an earlier stage invalidates later artifacts; pass the supersede flag to mark them superseded",
		}
	}
	if err := t.supersedeDownstream(stage); err != nil {
		return err
	}
	prior := sess.Stage
	sess.Stage = stage
	if err := t.store.saveSession(sess); err != nil {
		return err
	}
	t.store.logger.Info("stage rewound",
		logging.String(logging.FieldSession, sess.ID),
		logging.String("from", string(prior)),
		logging.String(logging.FieldStage, string(stage)))
	return nil
}

// supersedeDownstream marks every artifact belonging to a stage after the
// given one as superseded. Files are rewritten in place, never deleted.
func (t *Tx) supersedeDownstream(stage Stage) error {
	idx := stage.index()
	now := time.Now().UTC()
	for _, later := range stageOrder[idx+1:] {
		for _, key := range stageArtifacts[later] {
			env, err := t.store.readArtifact(t.session.ID, key)
			if err != nil {
				continue
			}
			if env.Superseded {
				continue
			}
			env.Superseded = true
			env.SupersededAt = &now
			if err := t.store.writeArtifact(t.session.ID, key, env); err != nil {
				return err
			}
			t.store.logger.Info("artifact superseded",
				logging.String(logging.FieldSession, t.session.ID),
				logging.String("key", key))
		}
	}
	return nil
}
