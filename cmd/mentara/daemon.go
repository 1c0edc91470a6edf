package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mentara/internal/app"
	"github.com/MrWong99/mentara/internal/config"
	"github.com/MrWong99/mentara/internal/observe"
)

// version is reported in telemetry. Set at build time with
// -ldflags "-X main.version=...".
var version = "dev"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background services",
	Long: `Run the daily plan scheduler and serve /healthz, /readyz and /metrics.
The config file is watched: log level and schedule changes apply live, other
changes are logged and need a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		addr := cfg.Observe.ListenAddr
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			addr = listen
		}
		return runDaemon(ctx, addr)
	},
}

func runDaemon(ctx context.Context, listenAddr string) error {
	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelProv, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:       cfg.Observe.ServiceName,
		ServiceVersion:    version,
		RuntimeCollectors: true,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := otelProv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	m, err := observe.NewMetrics(otelProv.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	// ── Application ───────────────────────────────────────────────────────────
	a, err := buildApp(ctx, m, false)
	if err != nil {
		return err
	}
	defer shutdownApp(ctx, a)

	// ── HTTP ──────────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	a.Health().Register(mux)
	mux.Handle("GET /metrics", otelProv.Handler())
	srv := &http.Server{
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}()

	// ── Config hot-reload ─────────────────────────────────────────────────────
	if _, err := os.Stat(cfgFile); err == nil {
		w, err := config.NewWatcher(cfgFile, func(old, new *config.Config) {
			applyConfigChange(ctx, a, old, new)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "path", cfgFile, "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("mentara daemon ready",
		"listen_addr", ln.Addr().String(),
		"store", cfg.Store.Backend,
		"reset_cron", cfg.Daily.ResetCron,
		"timezone", cfg.Daily.Timezone,
	)

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("shutdown signal received, stopping")
	return nil
}

// applyConfigChange applies the live-reloadable part of a config change.
func applyConfigChange(ctx context.Context, a *app.App, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		logLevelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ScheduleChanged {
		if err := a.Reschedule(ctx, new.Daily); err != nil {
			slog.Error("failed to apply new schedule", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

func init() {
	daemonCmd.Flags().String("listen", "", "override observe.listen_addr (e.g. 127.0.0.1:9464)")
	rootCmd.AddCommand(daemonCmd)
}
