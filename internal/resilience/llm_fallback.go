package resilience

import (
	"context"

	"github.com/MrWong99/mentara/pkg/provider/llm"
)

var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallback is an [llm.Provider] that fails over across chat backends.
//
// Only the start of a stream is covered: once StreamCompletion returned a
// channel, errors inside the stream belong to the caller.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// NewLLMFallback returns a provider that prefers primary.
func NewLLMFallback(primaryName string, primary llm.Provider, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{group: NewFallbackGroup(primaryName, primary, cfg)}
}

// AddFallback registers another backend after the ones already present.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.Add(name, p) }

// Status reports the breaker state of every backend.
func (f *LLMFallback) Status() []BackendStatus { return f.group.Status() }

// Available reports whether any backend currently accepts calls.
func (f *LLMFallback) Available() bool { return f.group.Available() }

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, _, err := Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	return resp, err
}

// StreamCompletion implements [llm.Provider].
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch, _, err := Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
	return ch, err
}

// CountTokens uses the primary's estimate; every backend sees the same
// history, so the count only needs to be roughly right.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.group.Primary().CountTokens(messages)
}

// Capabilities returns the smallest limits across all backends so a request
// sized for them fits whichever backend ends up serving it.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.Primary().Capabilities()
	for _, b := range f.group.backends[1:] {
		c := b.value.Capabilities()
		if c.ContextWindow > 0 && (caps.ContextWindow == 0 || c.ContextWindow < caps.ContextWindow) {
			caps.ContextWindow = c.ContextWindow
		}
		if c.MaxOutputTokens > 0 && (caps.MaxOutputTokens == 0 || c.MaxOutputTokens < caps.MaxOutputTokens) {
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
		caps.SupportsStreaming = caps.SupportsStreaming && c.SupportsStreaming
	}
	return caps
}
