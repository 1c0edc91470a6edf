// Package config defines the Mentara configuration schema and the provider
// registry that turns provider entries into live backends.
//
// Configuration is loaded from a YAML file (see [Load]). Every field has a
// usable default, so the CLI also works without a file.
package config

import (
	"time"
	_ "time/tzdata"
)

// LogLevel controls the verbosity of structured logging.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the log handler.
type LogFormat string

const (
	// LogFormatConsole is colourised human output for terminals.
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
	LogFormatText    LogFormat = "text"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatConsole, LogFormatJSON, LogFormatText:
		return true
	}
	return false
}

// StoreBackend selects where the application document is kept.
type StoreBackend string

const (
	StoreFile     StoreBackend = "file"
	StorePostgres StoreBackend = "postgres"
	StoreMemory   StoreBackend = "memory"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreFile, StorePostgres, StoreMemory:
		return true
	}
	return false
}

// Config is the root configuration structure.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Voice   VoiceConfig   `yaml:"voice"`
	Chat    ChatConfig    `yaml:"chat"`
	Store   StoreConfig   `yaml:"store"`
	Observe ObserveConfig `yaml:"observe"`
	Daily   DailyConfig   `yaml:"daily"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// ProviderEntry is the configuration for a single provider.
type ProviderEntry struct {
	// Name selects the implementation registered under this name
	// (e.g., "gemini", "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key. Empty keys are filled from the
	// provider's environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model. Empty selects the provider default.
	Model string `yaml:"model"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// VoiceConfig configures the real-time voice session.
type VoiceConfig struct {
	// Provider is the primary speech-to-speech backend.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary cannot connect.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Instructions string `yaml:"instructions"`
	Voice        string `yaml:"voice"`

	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	TranscriptLimit int           `yaml:"transcript_limit"`
	BlockSize       int           `yaml:"block_size"`

	CaptureDevice string `yaml:"capture_device"`
	OutputDevice  string `yaml:"output_device"`
}

// ChatConfig configures the text companion.
type ChatConfig struct {
	Provider  ProviderEntry   `yaml:"provider"`
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Temperature   float64 `yaml:"temperature"`
	HistoryWindow int     `yaml:"history_window"`

	// CrisisKeywords extends the built-in crisis keyword list.
	CrisisKeywords []string `yaml:"crisis_keywords"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend     StoreBackend  `yaml:"backend"`
	Dir         string        `yaml:"dir"`
	DSN         string        `yaml:"dsn"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// ObserveConfig holds the daemon's observability settings.
type ObserveConfig struct {
	// ListenAddr serves /healthz, /readyz and /metrics (e.g. ":9464").
	ListenAddr  string `yaml:"listen_addr"`
	ServiceName string `yaml:"service_name"`
}

// DailyConfig configures the daily task reset.
type DailyConfig struct {
	// ResetCron is a five-field cron expression.
	ResetCron string `yaml:"reset_cron"`

	// Timezone is an IANA zone name. Empty uses the local zone.
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone.
func (d DailyConfig) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(d.Timezone)
}
