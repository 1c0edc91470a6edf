// Package resilience keeps Mentara usable when a model provider misbehaves.
//
// [CircuitBreaker] stops hammering a backend that keeps failing. [FallbackGroup]
// tries a list of backends in order and skips the ones whose breaker is open.
// [LLMFallback] and [S2SFallback] apply the group to the chat and voice
// provider contracts so callers see a single provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cool-down ends.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. One failed
	// probe re-opens the breaker; enough successful probes close it.
	StateHalfOpen
)

// String returns the state name used in logs and health reports.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close the
	// breaker again. Default: 2.
	Probes int

	// OnStateChange, if set, is called after every transition. It runs with
	// no lock held.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a three-state breaker (closed, open, half-open).
//
// Context cancellation is not counted as a backend failure: a caller that
// gives up early says nothing about the backend's health.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probes      int
	onChange    func(name string, from, to State)
	now         func() time.Time

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	inFlight   int
	probesDone int
}

// NewCircuitBreaker returns a closed breaker configured by cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	return &CircuitBreaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probes:      cfg.Probes,
		onChange:    cfg.OnStateChange,
		now:         time.Now,
	}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker is open. While half-open at most
// Probes calls run concurrently; the rest get [ErrCircuitOpen].
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, transition, err := cb.admit()
	cb.emit(transition)
	if err != nil {
		return err
	}

	callErr := fn()

	cb.emit(cb.settle(probing, callErr))
	return callErr
}

type stateChange struct {
	from, to State
}

func (cb *CircuitBreaker) admit() (probing bool, tr *stateChange, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false, nil, ErrCircuitOpen
		}
		tr = cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.probes {
			return false, tr, ErrCircuitOpen
		}
		cb.inFlight++
		return true, tr, nil
	}
	return false, tr, nil
}

func (cb *CircuitBreaker) settle(probing bool, callErr error) *stateChange {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probing {
		cb.inFlight--
	}
	if callErr != nil && (errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded)) {
		return nil
	}

	if callErr != nil {
		if probing || cb.state == StateHalfOpen {
			cb.openedAt = cb.now()
			return cb.setState(StateOpen)
		}
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			return cb.setState(StateOpen)
		}
		return nil
	}

	if probing && cb.state == StateHalfOpen {
		cb.probesDone++
		if cb.probesDone >= cb.probes {
			return cb.setState(StateClosed)
		}
		return nil
	}
	if cb.state == StateClosed {
		cb.failures = 0
	}
	return nil
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) *stateChange {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.failures = 0
	cb.probesDone = 0
	return &stateChange{from: from, to: to}
}

func (cb *CircuitBreaker) emit(tr *stateChange) {
	if tr == nil {
		return
	}
	level := slog.LevelInfo
	if tr.to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "resilience: circuit breaker state change",
		"name", cb.name, "from", tr.from.String(), "to", tr.to.String())
	if cb.onChange != nil {
		cb.onChange(cb.name, tr.from, tr.to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.setState(StateClosed)
	cb.mu.Unlock()
	cb.emit(tr)
}
