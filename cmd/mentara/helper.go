package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mentara/internal/app"
	"github.com/MrWong99/mentara/internal/config"
	"github.com/MrWong99/mentara/internal/observe"
)

// shutdownTimeout bounds the teardown after a command finishes.
const shutdownTimeout = 10 * time.Second

var (
	// newProviders builds the provider groups for cfg. Tests replace it.
	newProviders = defaultProviders

	// appOptions are passed to every app.New call. Tests use it to inject
	// audio devices and stores.
	appOptions []app.Option
)

func defaultProviders(cfg *config.Config, m *observe.Metrics) (*app.Providers, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	return app.BuildProviders(cfg, reg, m)
}

// executeWithApp assembles the application, runs fn and shuts it down.
// When needProviders is false a provider construction failure (typically a
// missing API key) is tolerated: the command only touches the local
// document.
func executeWithApp(cmd *cobra.Command, needProviders bool, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, observe.DefaultMetrics(), needProviders)
	if err != nil {
		return err
	}
	defer shutdownApp(ctx, a)

	return fn(ctx, a)
}

func buildApp(ctx context.Context, m *observe.Metrics, needProviders bool) (*app.App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	providers, err := newProviders(cfg, m)
	if err != nil {
		if needProviders {
			return nil, fmt.Errorf("failed to build providers: %w", err)
		}
		slog.Debug("providers unavailable, continuing offline", "err", err)
		providers = app.Unavailable(err, m)
	}

	opts := append([]app.Option{app.WithMetrics(m)}, appOptions...)
	a, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise application: %w", err)
	}
	return a, nil
}

func shutdownApp(ctx context.Context, a *app.App) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
}
