// Command mentara runs the Mentara companion from the terminal: tap-to-talk
// voice sessions, text chat, the mood journal and the daily plan, plus a
// daemon mode serving health and metrics endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mentara/internal/config"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mentara",
	Short: "Mentara mental-wellness companion",
	Long: `Mentara is a warm companion for everyday mental wellness. Talk to it
by voice, chat with it, log your mood and work through a small daily plan.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			l := config.LogLevel(logLevel)
			if !l.IsValid() {
				return fmt.Errorf("invalid --log-level %q (want debug, info, warn or error)", logLevel)
			}
			cfg.Log.Level = l
		}

		setupLogger(cfg.Log)
		return nil
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigFileName, "config file (missing file means defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

func main() {
	Execute()
}
