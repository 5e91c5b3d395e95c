// Package resilience shields the composer from flaky model backends.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops hammering a provider that keeps failing. [FallbackGroup] chains a
// primary provider with fallbacks, each behind its own breaker, so generation
// and embedding calls ride over to a healthy backend automatically.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the cool-down has not elapsed.
var ErrBreakerOpen = errors.New("breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects every call with [ErrBreakerOpen] until the cool-down
	// elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through to test whether
	// the backend has recovered.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields use the defaults noted on each
// field.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// FailureLimit is how many consecutive failures trip the breaker.
	// Default 5.
	FailureLimit int

	// CoolDown is how long a tripped breaker rejects calls before probing.
	// Default 30s.
	CoolDown time.Duration

	// ProbeBudget is how many calls the half-open state admits; that many
	// consecutive probe successes close the breaker again. Default 3.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name         string
	failureLimit int
	coolDown     time.Duration
	probeBudget  int

	mu        sync.Mutex
	state     State
	failures  int
	trippedAt time.Time
	probes    int
	probeWins int
}

// NewBreaker creates a [Breaker] from cfg, filling in defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	return &Breaker{
		name:         cfg.Name,
		failureLimit: cfg.FailureLimit,
		coolDown:     cfg.CoolDown,
		probeBudget:  cfg.ProbeBudget,
	}
}

// Do runs fn unless the breaker rejects the call. A call rejected while open
// returns [ErrBreakerOpen] without invoking fn; fn's own error is passed
// through otherwise.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.trippedAt) < b.coolDown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = HalfOpen
		b.probes = 0
		b.probeWins = 0
		slog.Info("breaker probing backend", "name", b.name)

	case HalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}

	probing := b.state == HalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.trippedAt = time.Now()

	if probing {
		// One failed probe is enough evidence the backend is still down.
		b.state = Open
		b.failures = b.failureLimit
		slog.Warn("breaker re-opened after failed probe", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.failureLimit {
		b.state = Open
		slog.Warn("breaker opened", "name", b.name, "failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	b.probeWins++
	if b.probeWins >= b.probeBudget {
		b.state = Closed
		b.failures = 0
		b.probes = 0
		b.probeWins = 0
		slog.Info("breaker closed after successful probes", "name", b.name)
	}
}

// State reports the breaker's state. An open breaker whose cool-down has
// elapsed reports [HalfOpen]; the actual transition happens on the next
// [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.trippedAt) >= b.coolDown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [Closed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probes = 0
	b.probeWins = 0
}
