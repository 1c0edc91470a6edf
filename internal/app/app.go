// Package app wires all Mentara subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the document store and
// assembles the companion, the voice session manager and the health checks;
// Run drives the background scheduler until the context ends; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithCaptureDevice, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mentara/internal/companion"
	"github.com/MrWong99/mentara/internal/config"
	"github.com/MrWong99/mentara/internal/health"
	"github.com/MrWong99/mentara/internal/observe"
	"github.com/MrWong99/mentara/internal/statestore"
	"github.com/MrWong99/mentara/internal/statestore/file"
	"github.com/MrWong99/mentara/internal/statestore/postgres"
	"github.com/MrWong99/mentara/internal/voice"
	"github.com/MrWong99/mentara/pkg/audio"
	"github.com/MrWong99/mentara/pkg/audio/device"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time

	// Subsystems, initialised in New and torn down in Shutdown.
	store    statestore.Store
	chat     *companion.Chat
	service  *companion.Service
	sessions *SessionManager
	health   *health.Handler
	mic      audio.CaptureDevice
	speaker  audio.OutputDevice

	dailyMu sync.Mutex
	daily   *companion.DailyReset

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a document store instead of opening one from config.
// The App does not close an injected store.
func WithStore(s statestore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCaptureDevice injects the microphone.
func WithCaptureDevice(d audio.CaptureDevice) Option {
	return func(a *App) { a.mic = d }
}

// WithOutputDevice injects the speaker.
func WithOutputDevice(d audio.OutputDevice) Option {
	return func(a *App) { a.speaker = d }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithClock overrides the companion's clock.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Document store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Companion ─────────────────────────────────────────────────────
	a.chat = companion.NewChat(providers.LLM,
		companion.WithHistoryWindow(cfg.Chat.HistoryWindow),
		companion.WithTemperature(cfg.Chat.Temperature),
		companion.WithCrisisDetector(companion.NewCrisisDetector(cfg.Chat.CrisisKeywords...)),
		companion.WithChatMetrics(a.metrics),
	)
	a.service = companion.New(a.store, a.chat,
		companion.WithClock(a.now),
		companion.WithMetrics(a.metrics),
		companion.WithLogger(a.log),
	)

	// ── 3. Voice ─────────────────────────────────────────────────────────
	if a.mic == nil {
		a.mic = device.NewMicrophone(device.WithLogger(a.log))
	}
	if a.speaker == nil {
		a.speaker = device.NewSpeaker(device.WithLogger(a.log))
	}
	a.sessions = NewSessionManager(SessionManagerConfig{
		Provider: providers.S2S,
		Mic:      a.mic,
		Speaker:  a.speaker,
		Session:  VoiceConfig(cfg.Voice),
		Metrics:  a.metrics,
		Logger:   a.log,
	})
	a.closers = append(a.closers, func() error {
		if err := a.sessions.Stop(); err != nil && !errors.Is(err, ErrNoSession) {
			return err
		}
		return nil
	})

	// ── 4. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.StoreChecker(a.store, companion.StateKey),
		health.ProviderChecker("llm", providers.LLM),
		health.ProviderChecker("s2s", providers.S2S),
	)

	return a, nil
}

// VoiceConfig converts the voice config section into session parameters.
// Zero values keep the session defaults.
func VoiceConfig(vc config.VoiceConfig) voice.Config {
	c := voice.DefaultConfig()
	if vc.Instructions != "" {
		c.Instructions = vc.Instructions
	}
	c.Voice = vc.Voice
	c.CaptureDevice = vc.CaptureDevice
	c.OutputDevice = vc.OutputDevice
	if vc.ConnectTimeout > 0 {
		c.ConnectTimeout = vc.ConnectTimeout
	}
	if vc.TranscriptLimit > 0 {
		c.TranscriptLimit = vc.TranscriptLimit
	}
	if vc.BlockSize > 0 {
		c.BlockSize = vc.BlockSize
	}
	return c
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured document store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Store.Backend {
	case config.StoreMemory:
		a.store = statestore.NewMemory()
	case config.StorePostgres:
		s, err := postgres.New(ctx, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store = s
	case config.StoreFile, "":
		s, err := file.New(a.cfg.Store.Dir, file.WithLockTimeout(a.cfg.Store.LockTimeout))
		if err != nil {
			return err
		}
		a.store = s
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	a.log.Debug("store opened", "backend", a.cfg.Store.Backend)
	a.closers = append(a.closers, a.store.Close)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Service returns the companion service.
func (a *App) Service() *companion.Service { return a.service }

// Sessions returns the voice session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Health returns the health handler.
func (a *App) Health() *health.Handler { return a.health }

// Providers returns the provider groups.
func (a *App) Providers() *Providers { return a.providers }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the daily task reset scheduler and blocks until ctx is
// cancelled. It returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	if err := a.Reschedule(ctx, a.cfg.Daily); err != nil {
		return err
	}
	a.log.Info("app running", "reset_cron", a.cfg.Daily.ResetCron)
	<-ctx.Done()
	return ctx.Err()
}

// Reschedule replaces the daily reset scheduler with one built from dc and
// starts it. The previous scheduler, if any, is stopped first.
func (a *App) Reschedule(ctx context.Context, dc config.DailyConfig) error {
	loc, err := dc.Location()
	if err != nil {
		return fmt.Errorf("app: daily timezone: %w", err)
	}
	next, err := companion.NewDailyReset(a.service, dc.ResetCron, loc, a.log)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	a.dailyMu.Lock()
	prev := a.daily
	a.daily = next
	a.dailyMu.Unlock()

	if prev != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		prev.Stop(stopCtx)
		cancel()
	}
	next.Start(ctx)
	a.log.Info("daily reset scheduled", "cron", dc.ResetCron, "timezone", loc.String(), "next", next.Next())
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		a.dailyMu.Lock()
		daily := a.daily
		a.daily = nil
		a.dailyMu.Unlock()
		if daily != nil {
			daily.Stop(ctx)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
