package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/mentara/internal/config"
	"github.com/MrWong99/mentara/pkg/provider/llm"
	llmmock "github.com/MrWong99/mentara/pkg/provider/llm/mock"
	"github.com/MrWong99/mentara/pkg/provider/s2s"
	s2smock "github.com/MrWong99/mentara/pkg/provider/s2s/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
log:
  level: debug
  format: json

voice:
  provider:
    name: gemini
    api_key: gm-test
    model: gemini-2.5-flash-native-audio-preview-12-2025
  fallbacks:
    - name: openai
      api_key: sk-test
  instructions: Dengarkan dengan hangat.
  voice: Kore
  connect_timeout: 10s
  transcript_limit: 300
  block_size: 2048
  capture_device: USB Mic

chat:
  provider:
    name: gemini
    api_key: gm-test
  fallbacks:
    - name: anthropic
      model: claude-sonnet-4-5
  temperature: 0.6
  history_window: 12
  crisis_keywords:
    - putus asa

store:
  backend: file
  dir: /var/lib/mentara
  lock_timeout: 2s

observe:
  listen_addr: ":9000"
  service_name: mentara-test

daily:
  reset_cron: "30 4 * * *"
  timezone: Asia/Jakarta
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != config.LogDebug || cfg.Log.Format != config.LogFormatJSON {
		t.Errorf("log: got %+v", cfg.Log)
	}
	if cfg.Voice.Provider.Name != "gemini" || cfg.Voice.Provider.APIKey != "gm-test" {
		t.Errorf("voice.provider: got %+v", cfg.Voice.Provider)
	}
	if len(cfg.Voice.Fallbacks) != 1 || cfg.Voice.Fallbacks[0].Name != "openai" {
		t.Errorf("voice.fallbacks: got %+v", cfg.Voice.Fallbacks)
	}
	if cfg.Voice.ConnectTimeout != 10*time.Second {
		t.Errorf("voice.connect_timeout: got %s, want 10s", cfg.Voice.ConnectTimeout)
	}
	if cfg.Voice.TranscriptLimit != 300 || cfg.Voice.BlockSize != 2048 {
		t.Errorf("voice limits: got transcript_limit=%d block_size=%d", cfg.Voice.TranscriptLimit, cfg.Voice.BlockSize)
	}
	if cfg.Chat.Temperature != 0.6 || cfg.Chat.HistoryWindow != 12 {
		t.Errorf("chat: got temperature=%.2f history_window=%d", cfg.Chat.Temperature, cfg.Chat.HistoryWindow)
	}
	if len(cfg.Chat.CrisisKeywords) != 1 || cfg.Chat.CrisisKeywords[0] != "putus asa" {
		t.Errorf("chat.crisis_keywords: got %v", cfg.Chat.CrisisKeywords)
	}
	if cfg.Store.Dir != "/var/lib/mentara" || cfg.Store.LockTimeout != 2*time.Second {
		t.Errorf("store: got %+v", cfg.Store)
	}
	if cfg.Observe.ListenAddr != ":9000" {
		t.Errorf("observe.listen_addr: got %q", cfg.Observe.ListenAddr)
	}
	loc, err := cfg.Daily.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "Asia/Jakarta" {
		t.Errorf("daily location: got %q", loc)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("LoadFromReader(%q): %v", doc, err)
		}
		if cfg.Log.Level != config.LogInfo || cfg.Log.Format != config.LogFormatConsole {
			t.Errorf("log defaults: got %+v", cfg.Log)
		}
		if cfg.Voice.Provider.Name != config.DefaultVoiceProvider {
			t.Errorf("voice.provider.name: got %q", cfg.Voice.Provider.Name)
		}
		if cfg.Chat.Temperature != config.DefaultTemperature || cfg.Chat.HistoryWindow != config.DefaultHistoryWindow {
			t.Errorf("chat defaults: got %+v", cfg.Chat)
		}
		if cfg.Store.Backend != config.StoreFile || cfg.Store.Dir == "" {
			t.Errorf("store defaults: got %+v", cfg.Store)
		}
		if cfg.Daily.ResetCron != config.DefaultResetCron {
			t.Errorf("daily.reset_cron: got %q", cfg.Daily.ResetCron)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("voice:\n  speed: 2\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestEnumValidity(t *testing.T) {
	t.Parallel()
	if !config.LogWarn.IsValid() || config.LogLevel("loud").IsValid() {
		t.Error("LogLevel.IsValid mismatch")
	}
	if !config.LogFormatText.IsValid() || config.LogFormat("xml").IsValid() {
		t.Error("LogFormat.IsValid mismatch")
	}
	if !config.StoreMemory.IsValid() || config.StoreBackend("redis").IsValid() {
		t.Error("StoreBackend.IsValid mismatch")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateS2S(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateS2S: expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantLLM := &llmmock.Provider{}
	wantS2S := &s2smock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return wantLLM, nil
	})
	reg.RegisterS2S("stub", func(config.ProviderEntry) (s2s.Provider, error) {
		return wantS2S, nil
	})

	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if got != wantLLM {
		t.Error("returned llm provider is not the expected instance")
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory entry model: got %q, want m1", gotEntry.Model)
	}
	gotS2S, err := reg.CreateS2S(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("CreateS2S: %v", err)
	}
	if gotS2S != wantS2S {
		t.Error("returned s2s provider is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, n := range []string{"openai", "anthropic", "gemini"} {
		reg.RegisterLLM(n, func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })
	}
	got := reg.Names("llm")
	want := []string{"anthropic", "gemini", "openai"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names(llm) = %v, want %v", got, want)
	}
	if n := reg.Names("s2s"); len(n) != 0 {
		t.Errorf("Names(s2s) = %v, want empty", n)
	}
}
