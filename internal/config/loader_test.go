package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/mentara/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "log:\n  level: verbose\n", "log.level"},
		{"log format", "log:\n  format: xml\n", "log.format"},
		{"negative timeout", "voice:\n  connect_timeout: -1s\n", "voice.connect_timeout"},
		{"negative transcript", "voice:\n  transcript_limit: -5\n", "voice.transcript_limit"},
		{"fallback without name", "voice:\n  fallbacks:\n    - model: x\n", "voice.fallbacks[0].name"},
		{"temperature", "chat:\n  temperature: 3.5\n", "chat.temperature"},
		{"history window", "chat:\n  history_window: -1\n", "chat.history_window"},
		{"duplicate fallback", "chat:\n  provider:\n    name: openai\n  fallbacks:\n    - name: openai\n", "duplicates"},
		{"store backend", "store:\n  backend: redis\n", "store.backend"},
		{"postgres without dsn", "store:\n  backend: postgres\n", "store.dsn"},
		{"cron", "daily:\n  reset_cron: every day\n", "daily.reset_cron"},
		{"timezone", "daily:\n  timezone: Mars/Olympus\n", "daily.timezone"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
log:
  level: verbose
store:
  backend: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log.level") || !strings.Contains(errStr, "store.backend") {
		t.Errorf("error should mention both fields, got: %v", err)
	}
}

func TestValidate_MissingProviderName(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing provider names, got nil")
	}
	if !strings.Contains(err.Error(), "voice.provider.name") || !strings.Contains(err.Error(), "chat.provider.name") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		config.EnvGeminiAPIKey: "gm-env",
		config.EnvOpenAIAPIKey: "sk-env",
		config.EnvPostgresDSN:  "postgres://env/mentara",
	}
	cfg := config.Default()
	cfg.Voice.Fallbacks = []config.ProviderEntry{{Name: "openai"}, {Name: "openai", APIKey: "sk-file"}}
	cfg.Chat.Fallbacks = []config.ProviderEntry{{Name: "anthropic"}}

	config.ApplyEnv(cfg, func(k string) string { return env[k] })

	if cfg.Voice.Provider.APIKey != "gm-env" || cfg.Chat.Provider.APIKey != "gm-env" {
		t.Errorf("primary keys: voice=%q chat=%q", cfg.Voice.Provider.APIKey, cfg.Chat.Provider.APIKey)
	}
	if cfg.Voice.Fallbacks[0].APIKey != "sk-env" {
		t.Errorf("fallback key from env: got %q", cfg.Voice.Fallbacks[0].APIKey)
	}
	if cfg.Voice.Fallbacks[1].APIKey != "sk-file" {
		t.Errorf("file key must win over env, got %q", cfg.Voice.Fallbacks[1].APIKey)
	}
	if cfg.Chat.Fallbacks[0].APIKey != "" {
		t.Errorf("provider without env mapping got key %q", cfg.Chat.Fallbacks[0].APIKey)
	}
	if cfg.Store.DSN != "postgres://env/mentara" {
		t.Errorf("store.dsn: got %q", cfg.Store.DSN)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.Provider.Name != config.DefaultChatProvider {
		t.Errorf("chat.provider.name: got %q", cfg.Chat.Provider.Name)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "store:\n  backend: memory\nchat:\n  history_window: 8\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != config.StoreMemory || cfg.Chat.HistoryWindow != 8 {
		t.Errorf("got store=%q history_window=%d", cfg.Store.Backend, cfg.Chat.HistoryWindow)
	}
	if cfg.Store.Dir != "" {
		t.Errorf("memory backend should not get a default dir, got %q", cfg.Store.Dir)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if !slices.Contains(config.ValidProviderNames["llm"], "gemini") {
		t.Error(`ValidProviderNames["llm"] should contain "gemini"`)
	}
	if !slices.Contains(config.ValidProviderNames["s2s"], "openai") {
		t.Error(`ValidProviderNames["s2s"] should contain "openai"`)
	}
}
