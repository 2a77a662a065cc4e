package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is set per
	// entry.
	CircuitBreaker CircuitBreakerConfig

	// Permanent, if set, classifies errors that are answers rather than
	// outages. Such an error is returned to the caller immediately, does not
	// count against the breaker and does not trigger failover.
	Permanent func(error) bool
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// EntryState is a snapshot of one entry for status reporting.
type EntryState struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. Entries are tried in registration order, skipping those whose
// breaker is open. Register all entries before first use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// States returns the breaker state of every entry in order.
func (fg *FallbackGroup[T]) States() []EntryState {
	out := make([]EntryState, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = EntryState{Name: e.name, State: e.breaker.State().String()}
	}
	return out
}

// Execute tries fn against each entry until one succeeds. See
// [ExecuteWithResult] for the error contract.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds and returns its result. A permanent error (see
// [FallbackConfig.Permanent]) is returned as is. When ctx ends, ctx.Err() is
// returned without trying further entries. Otherwise, if every entry fails,
// the error wraps [ErrAllFailed] and the last failure.
//
// It is a package-level function because Go does not support method-level type
// parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]
		var (
			result    R
			permanent error
		)
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			if innerErr != nil && fg.cfg.Permanent != nil && fg.cfg.Permanent(innerErr) {
				permanent = innerErr
				return nil
			}
			return innerErr
		})
		if permanent != nil {
			return zero, permanent
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "provider", entry.name)
		} else {
			slog.Warn("resilience: provider failed, trying next",
				"provider", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
