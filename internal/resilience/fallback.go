package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/mentara/internal/observe"
)

// ErrAllFailed is returned when no backend in a [FallbackGroup] succeeded.
// The last backend error is wrapped alongside it.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every backend's breaker. Name is
	// overwritten with the backend name.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels metrics, e.g. "llm" or "s2s".
	Kind string

	// Metrics receives one request sample per attempted backend. Nil means
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// BackendStatus is a point-in-time view of one backend of a group.
type BackendStatus struct {
	Name  string
	State State
}

// FallbackGroup holds an ordered list of interchangeable backends, each behind
// its own [CircuitBreaker]. Backends are registered at construction time;
// [FallbackGroup.Add] must not race with calls.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
	metrics  *observe.Metrics
}

// NewFallbackGroup returns a group whose preferred backend is primary.
func NewFallbackGroup[T any](primaryName string, primary T, cfg FallbackConfig) *FallbackGroup[T] {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	fg := &FallbackGroup[T]{cfg: cfg, metrics: m}
	fg.Add(primaryName, primary)
	return fg
}

// Add appends a backend. Backends are tried in the order they were added.
func (fg *FallbackGroup[T]) Add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.backends = append(fg.backends, backend[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Primary returns the first registered backend.
func (fg *FallbackGroup[T]) Primary() T { return fg.backends[0].value }

// Status reports every backend's breaker state in priority order.
func (fg *FallbackGroup[T]) Status() []BackendStatus {
	out := make([]BackendStatus, len(fg.backends))
	for i, b := range fg.backends {
		out[i] = BackendStatus{Name: b.name, State: b.breaker.State()}
	}
	return out
}

// Available reports whether at least one backend would accept a call.
func (fg *FallbackGroup[T]) Available() bool {
	for _, b := range fg.backends {
		if b.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Do runs fn against each backend in order and returns the first success
// together with the name of the backend that produced it. Backends with an
// open breaker are skipped. When ctx is done the loop stops without trying
// further backends and the context error is returned as is.
func Do[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(ctx context.Context, backend T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.backends {
		b := &fg.backends[i]
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		var result R
		err := b.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(ctx, b.value)
			return callErr
		})
		switch {
		case err == nil:
			fg.metrics.RecordProviderRequest(ctx, b.name, fg.cfg.Kind, "ok")
			return result, b.name, nil
		case errors.Is(err, ErrCircuitOpen):
			fg.metrics.RecordProviderRequest(ctx, b.name, fg.cfg.Kind, "skipped")
			slog.Debug("resilience: skipping provider with open circuit", "provider", b.name, "kind", fg.cfg.Kind)
		case ctx.Err() != nil:
			fg.metrics.RecordProviderRequest(ctx, b.name, fg.cfg.Kind, "canceled")
			return zero, b.name, err
		default:
			fg.metrics.RecordProviderRequest(ctx, b.name, fg.cfg.Kind, "error")
			fg.metrics.RecordProviderError(ctx, b.name, fg.cfg.Kind)
			if i < len(fg.backends)-1 {
				slog.Warn("resilience: provider failed, trying next", "provider", b.name, "kind", fg.cfg.Kind, "err", err)
			}
		}
		lastErr = err
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Execute is [Do] for calls without a result value.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(ctx context.Context, backend T) error) error {
	_, _, err := Do(ctx, fg, func(ctx context.Context, b T) (struct{}, error) {
		return struct{}{}, fn(ctx, b)
	})
	return err
}
