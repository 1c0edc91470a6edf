package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/mentara/internal/config"
	"github.com/MrWong99/mentara/internal/observe"
	"github.com/MrWong99/mentara/internal/resilience"
	"github.com/MrWong99/mentara/pkg/provider/llm"
	"github.com/MrWong99/mentara/pkg/provider/llm/anyllm"
	geminillm "github.com/MrWong99/mentara/pkg/provider/llm/gemini"
	oaillm "github.com/MrWong99/mentara/pkg/provider/llm/openai"
	"github.com/MrWong99/mentara/pkg/provider/s2s"
	geminilive "github.com/MrWong99/mentara/pkg/provider/s2s/gemini"
	oais2s "github.com/MrWong99/mentara/pkg/provider/s2s/openai"
)

// defaultOpenAIChatModel is used when an openai chat entry names no model.
const defaultOpenAIChatModel = "gpt-4o-mini"

// Providers holds the provider groups the application talks to. Each is a
// resilience group wrapping the configured primary and its fallbacks.
type Providers struct {
	S2S *resilience.S2SFallback
	LLM *resilience.LLMFallback
}

// ─── Registration ────────────────────────────────────────────────────────────

// RegisterBuiltinProviders wires all built-in provider factories into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []geminillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminillm.WithBaseURL(entry.BaseURL))
		}
		return geminillm.New(context.Background(), entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		model := entry.Model
		if model == "" {
			model = defaultOpenAIChatModel
		}
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, model, opts...)
	})

	// The remaining vendors go through any-llm-go and share the same
	// pattern: optional APIKey + optional BaseURL.
	for _, name := range anyllm.Backends {
		if name == "gemini" || name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini", func(entry config.ProviderEntry) (s2s.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("gemini: api key is required (set " + config.EnvGeminiAPIKey + ")")
		}
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai", func(entry config.ProviderEntry) (s2s.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("openai: api key is required (set " + config.EnvOpenAIAPIKey + ")")
		}
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	for _, kind := range []string{"llm", "s2s"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ─── Construction ────────────────────────────────────────────────────────────

// BuildProviders instantiates the voice and chat provider groups named in
// cfg. A primary that cannot be constructed is an error; a fallback that
// cannot be constructed is skipped with a warning.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	ps := &Providers{}

	primaryS2S, err := reg.CreateS2S(cfg.Voice.Provider)
	if err != nil {
		return nil, fmt.Errorf("app: create s2s provider %q: %w", cfg.Voice.Provider.Name, err)
	}
	ps.S2S = resilience.NewS2SFallback(entryLabel(cfg.Voice.Provider), primaryS2S, resilience.FallbackConfig{Metrics: m})
	slog.Info("provider created", "kind", "s2s", "name", cfg.Voice.Provider.Name)
	for _, fb := range cfg.Voice.Fallbacks {
		p, err := reg.CreateS2S(fb)
		if err != nil {
			slog.Warn("skipping s2s fallback", "name", fb.Name, "err", err)
			continue
		}
		ps.S2S.AddFallback(entryLabel(fb), p)
		slog.Info("fallback provider created", "kind", "s2s", "name", fb.Name)
	}

	primaryLLM, err := reg.CreateLLM(cfg.Chat.Provider)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider %q: %w", cfg.Chat.Provider.Name, err)
	}
	ps.LLM = resilience.NewLLMFallback(entryLabel(cfg.Chat.Provider), primaryLLM, resilience.FallbackConfig{Metrics: m})
	slog.Info("provider created", "kind", "llm", "name", cfg.Chat.Provider.Name)
	for _, fb := range cfg.Chat.Fallbacks {
		p, err := reg.CreateLLM(fb)
		if err != nil {
			slog.Warn("skipping llm fallback", "name", fb.Name, "err", err)
			continue
		}
		ps.LLM.AddFallback(entryLabel(fb), p)
		slog.Info("fallback provider created", "kind", "llm", "name", fb.Name)
	}

	return ps, nil
}

// Unavailable returns provider groups whose backends fail every call with
// cause. Commands that only touch the local document use it when the
// configured providers cannot be built, e.g. without API keys.
func Unavailable(cause error, m *observe.Metrics) *Providers {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Providers{
		S2S: resilience.NewS2SFallback("unavailable", unavailableS2S{cause}, resilience.FallbackConfig{Metrics: m}),
		LLM: resilience.NewLLMFallback("unavailable", unavailableLLM{cause}, resilience.FallbackConfig{Metrics: m}),
	}
}

type unavailableLLM struct{ err error }

func (u unavailableLLM) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, u.err
}

func (u unavailableLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, u.err
}

func (u unavailableLLM) CountTokens(msgs []llm.Message) (int, error) { return llm.EstimateTokens(msgs), nil }

func (unavailableLLM) Capabilities() llm.ModelCapabilities { return llm.ModelCapabilities{} }

type unavailableS2S struct{ err error }

func (u unavailableS2S) Connect(context.Context, s2s.SessionConfig) (s2s.SessionHandle, error) {
	return nil, u.err
}

func (unavailableS2S) Capabilities() s2s.S2SCapabilities { return s2s.S2SCapabilities{} }

// entryLabel names a backend in metrics and breaker logs.
func entryLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// optString extracts a string value from a provider options map.
func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

// optDuration extracts a duration written as a Go duration string ("30s")
// or as whole seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("ignoring invalid duration option", "key", key, "value", v, "err", err)
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return 0
}
