package resilience

import (
	"context"
	"sync"

	"github.com/MrWong99/mentara/pkg/provider/s2s"
)

var _ s2s.Provider = (*S2SFallback)(nil)

// S2SFallback is an [s2s.Provider] that tries voice backends in order when a
// connection attempt fails. An established session is never moved to another
// backend.
type S2SFallback struct {
	group *FallbackGroup[s2s.Provider]

	mu   sync.Mutex
	last s2s.Provider
}

// NewS2SFallback returns a provider that prefers primary.
func NewS2SFallback(primaryName string, primary s2s.Provider, cfg FallbackConfig) *S2SFallback {
	if cfg.Kind == "" {
		cfg.Kind = "s2s"
	}
	return &S2SFallback{group: NewFallbackGroup(primaryName, primary, cfg)}
}

// AddFallback registers another backend after the ones already present.
func (f *S2SFallback) AddFallback(name string, p s2s.Provider) { f.group.Add(name, p) }

// Status reports the breaker state of every backend.
func (f *S2SFallback) Status() []BackendStatus { return f.group.Status() }

// Available reports whether any backend currently accepts calls.
func (f *S2SFallback) Available() bool { return f.group.Available() }

// Connect implements [s2s.Provider]. The caller's deadline covers all
// attempts together.
func (f *S2SFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	var used s2s.Provider
	h, _, err := Do(ctx, f.group, func(ctx context.Context, p s2s.Provider) (s2s.SessionHandle, error) {
		h, err := p.Connect(ctx, cfg)
		if err == nil {
			used = p
		}
		return h, err
	})
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.last = used
	f.mu.Unlock()
	return h, nil
}

// Capabilities returns the capabilities of the backend that served the most
// recent Connect, or of the primary before the first one.
func (f *S2SFallback) Capabilities() s2s.S2SCapabilities {
	f.mu.Lock()
	p := f.last
	f.mu.Unlock()
	if p == nil {
		p = f.group.Primary()
	}
	return p.Capabilities()
}
