package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllBackendsFailed is returned when every entry of a [FallbackGroup]
// failed or sat behind an open breaker.
var ErrAllBackendsFailed = errors.New("all backends failed")

// entry pairs one backend with its dedicated breaker.
type entry[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// FallbackGroup holds a primary backend and zero or more fallbacks of the
// same type, each behind its own [Breaker]. Calls go to the first entry whose
// breaker admits them and that succeeds, in registration order.
//
// FallbackGroup is safe for concurrent use once assembled; register all
// fallbacks before the first call.
type FallbackGroup[T any] struct {
	entries         []entry[T]
	breakerTemplate BreakerConfig
}

// NewFallbackGroup creates a group with primary as the preferred backend.
// breakerCfg is the template for every entry's breaker; the per-entry name is
// filled in from the registration name.
func NewFallbackGroup[T any](primary T, primaryName string, breakerCfg BreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{breakerTemplate: breakerCfg}
	g.add(primaryName, primary)
	return g
}

// AddFallback registers a further backend, tried after all earlier entries.
func (g *FallbackGroup[T]) AddFallback(name string, backend T) {
	g.add(name, backend)
}

func (g *FallbackGroup[T]) add(name string, backend T) {
	cfg := g.breakerTemplate
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		backend: backend,
		breaker: NewBreaker(cfg),
	})
}

// Names returns the registered backend names in call order.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Do runs fn against each backend in order until one succeeds. Entries with
// an open breaker are skipped. When every entry fails, the last error is
// wrapped in [ErrAllBackendsFailed].
func (g *FallbackGroup[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]
		err := e.breaker.Do(func() error { return fn(e.backend) })
		if err == nil {
			return nil
		}
		lastErr = err
		logEntryFailure(e.name, err)
	}
	return fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// DoWithResult is [FallbackGroup.Do] for calls that produce a value. It is a
// package-level function because Go methods cannot introduce type parameters.
func DoWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(e.backend)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		logEntryFailure(e.name, err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

func logEntryFailure(name string, err error) {
	if errors.Is(err, ErrBreakerOpen) {
		slog.Debug("skipping backend, breaker open", "backend", name)
		return
	}
	slog.Warn("backend failed, trying next", "backend", name, "error", err)
}
