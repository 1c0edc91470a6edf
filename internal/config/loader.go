package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultVoiceProvider  = "gemini"
	DefaultChatProvider   = "gemini"
	DefaultTemperature    = 0.8
	DefaultHistoryWindow  = 20
	DefaultLockTimeout    = 5 * time.Second
	DefaultListenAddr     = ":9464"
	DefaultServiceName    = "mentara"
	DefaultResetCron      = "0 0 * * *"
	DefaultConfigFileName = "config.yaml"
)

// Environment variables consulted by [Load] for secrets that should not live
// in the config file.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvPostgresDSN  = "MENTARA_POSTGRES_DSN"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "deepseek", "groq", "llamacpp", "mistral", "ollama"},
	"s2s": {"gemini", "openai"},
}

// apiKeyEnv maps provider names to the environment variable holding their key.
var apiKeyEnv = map[string]string{
	"gemini": EnvGeminiAPIKey,
	"openai": EnvOpenAIAPIKey,
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// DefaultStoreDir is the directory the file store uses when none is set.
func DefaultStoreDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mentara")
	}
	return ".mentara"
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and validates the result. A missing file is not an
// error: the defaults are used instead.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	default:
		defer f.Close()
		if cfg, err = decode(f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills secrets left empty in cfg from the environment. Call it
// after [ApplyDefaults] so default provider names get their keys. getenv is
// usually [os.Getenv].
func ApplyEnv(cfg *Config, getenv func(string) string) {
	fill := func(e *ProviderEntry) {
		if env, ok := apiKeyEnv[e.Name]; ok && e.APIKey == "" {
			e.APIKey = getenv(env)
		}
	}
	fill(&cfg.Voice.Provider)
	fill(&cfg.Chat.Provider)
	for i := range cfg.Voice.Fallbacks {
		fill(&cfg.Voice.Fallbacks[i])
	}
	for i := range cfg.Chat.Fallbacks {
		fill(&cfg.Chat.Fallbacks[i])
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = getenv(EnvPostgresDSN)
	}
}

// ApplyDefaults sets every unset field that has a default. Voice tuning
// fields left at zero are filled by the voice session itself.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = LogInfo
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = LogFormatConsole
	}
	if cfg.Voice.Provider.Name == "" {
		cfg.Voice.Provider.Name = DefaultVoiceProvider
	}
	if cfg.Chat.Provider.Name == "" {
		cfg.Chat.Provider.Name = DefaultChatProvider
	}
	if cfg.Chat.Temperature == 0 {
		cfg.Chat.Temperature = DefaultTemperature
	}
	if cfg.Chat.HistoryWindow == 0 {
		cfg.Chat.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreFile
	}
	if cfg.Store.Backend == StoreFile && cfg.Store.Dir == "" {
		cfg.Store.Dir = DefaultStoreDir()
	}
	if cfg.Store.LockTimeout == 0 {
		cfg.Store.LockTimeout = DefaultLockTimeout
	}
	if cfg.Observe.ListenAddr == "" {
		cfg.Observe.ListenAddr = DefaultListenAddr
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
	if cfg.Daily.ResetCron == "" {
		cfg.Daily.ResetCron = DefaultResetCron
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Log
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.Format != "" && !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: console, json, text", cfg.Log.Format))
	}

	// Voice
	errs = append(errs, validateEntries("s2s", "voice", cfg.Voice.Provider, cfg.Voice.Fallbacks)...)
	if cfg.Voice.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.connect_timeout %s must not be negative", cfg.Voice.ConnectTimeout))
	}
	if cfg.Voice.TranscriptLimit < 0 {
		errs = append(errs, fmt.Errorf("voice.transcript_limit %d must not be negative", cfg.Voice.TranscriptLimit))
	}
	if cfg.Voice.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("voice.block_size %d must not be negative", cfg.Voice.BlockSize))
	}

	// Chat
	errs = append(errs, validateEntries("llm", "chat", cfg.Chat.Provider, cfg.Chat.Fallbacks)...)
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature))
	}
	if cfg.Chat.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("chat.history_window %d must not be negative", cfg.Chat.HistoryWindow))
	}

	// Store
	switch {
	case cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: file, postgres, memory", cfg.Store.Backend))
	case cfg.Store.Backend == StorePostgres && cfg.Store.DSN == "":
		errs = append(errs, fmt.Errorf("store.dsn is required when store.backend is postgres (or set %s)", EnvPostgresDSN))
	case cfg.Store.Backend == StoreFile && cfg.Store.Dir == "":
		errs = append(errs, errors.New("store.dir is required when store.backend is file"))
	}
	if cfg.Store.LockTimeout < 0 {
		errs = append(errs, fmt.Errorf("store.lock_timeout %s must not be negative", cfg.Store.LockTimeout))
	}

	// Daily
	if cfg.Daily.ResetCron != "" {
		if _, err := cron.ParseStandard(cfg.Daily.ResetCron); err != nil {
			errs = append(errs, fmt.Errorf("daily.reset_cron %q: %w", cfg.Daily.ResetCron, err))
		}
	}
	if _, err := cfg.Daily.Location(); err != nil {
		errs = append(errs, fmt.Errorf("daily.timezone %q: %w", cfg.Daily.Timezone, err))
	}

	return errors.Join(errs...)
}

// validateEntries checks a primary provider entry and its fallbacks.
func validateEntries(kind, section string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	if primary.Name == "" {
		errs = append(errs, fmt.Errorf("%s.provider.name is required", section))
	}
	validateProviderName(kind, primary.Name)

	seen := map[string]bool{primary.Name + "/" + primary.Model: true}
	for i, fb := range fallbacks {
		prefix := fmt.Sprintf("%s.fallbacks[%d]", section, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		key := fb.Name + "/" + fb.Model
		if seen[key] {
			errs = append(errs, fmt.Errorf("%s duplicates provider %q model %q", prefix, fb.Name, fb.Model))
		}
		seen[key] = true
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
