package extraction

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's externally visible state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig controls when the breaker trips and recovers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures within Window
	// that opens the circuit.
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
}

// Breaker is an explicit, inspectable circuit breaker. One instance is
// shared by every caller in the process because it reflects the health of a
// single external dependency; it is guarded by its own mutex, independent of
// any session lock.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	windowStart   time.Time
	openedAt      time.Time
	trialInFlight bool
}

// NewBreaker constructs a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, now: time.Now, state: BreakerClosed}
}

// State reports the current breaker state, promoting open to half-open when
// the cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Allow reports whether a call may proceed. In half-open state only a single
// trial call is admitted; everyone else gets the fallback until the trial
// settles.
func (b *Breaker) Allow() (proceed, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	switch b.state {
	case BreakerClosed:
		return true, false
	case BreakerHalfOpen:
		if b.trialInFlight {
			return false, false
		}
		b.trialInFlight = true
		return true, true
	default:
		return false, false
	}
}

// RecordSuccess feeds a successful call back into the breaker. Cache hits
// must not be reported here.
func (b *Breaker) RecordSuccess(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trialInFlight = false
	}
	b.state = BreakerClosed
	b.failures = 0
}

// RecordFailure feeds a failed call back into the breaker.
func (b *Breaker) RecordFailure(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	if trial {
		b.trialInFlight = false
		b.state = BreakerOpen
		b.openedAt = now
		return
	}
	if b.state != BreakerClosed {
		return
	}
	if b.failures == 0 || now.Sub(b.windowStart) > b.cfg.Window {
		b.windowStart = now
		b.failures = 0
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
		b.failures = 0
	}
}

func (b *Breaker) refreshLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = BreakerHalfOpen
		b.trialInFlight = false
	}
}
