package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mentara/internal/app"
	"github.com/MrWong99/mentara/internal/companion"
)

var breatheCmd = &cobra.Command{
	Use:   "breathe",
	Short: "Guided box breathing",
	Long: `Walk through box breathing: inhale, hold, exhale and pause for the same
number of seconds each. Finishing all cycles completes the breathing task of
the daily plan.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cycles, _ := cmd.Flags().GetInt("cycles")
		seconds, _ := cmd.Flags().GetInt("seconds")
		if cycles <= 0 {
			return fmt.Errorf("--cycles must be positive")
		}

		return executeWithApp(cmd, false, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			b := companion.Breathing{PhaseSeconds: seconds, Step: breathStep}
			err := b.Run(ctx, cycles, func(t companion.BreathTick) {
				fmt.Fprintf(out, "\r[%d/%d] %-12s %2d ", t.Cycle, cycles, t.Phase.Instruction(), t.Remaining)
			})
			fmt.Fprintln(out)
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(out, "Stopped.")
				return nil
			}
			if err != nil {
				return err
			}
			return completeTasks(ctx, a.Service(), companion.TaskBreathing)
		})
	},
}

// breathStep is the wall-clock second of the exercise; zero means
// time.Second. Tests shrink it.
var breathStep time.Duration

// completeTasks marks every open task of type tt as done.
func completeTasks(ctx context.Context, svc *companion.Service, tt companion.TaskType) error {
	st, err := svc.State(ctx)
	if err != nil {
		return err
	}
	for _, t := range st.Tasks {
		if t.Type != tt || t.Completed {
			continue
		}
		if _, err := svc.ToggleTask(ctx, t.ID); err != nil {
			return err
		}
	}
	return nil
}

var affirmationCmd = &cobra.Command{
	Use:   "affirmation",
	Short: "Get a short positive affirmation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithApp(cmd, false, func(ctx context.Context, a *app.App) error {
			text, err := a.Service().Affirmation(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		})
	},
}

func init() {
	breatheCmd.Flags().Int("cycles", 4, "number of breathing cycles")
	breatheCmd.Flags().Int("seconds", companion.DefaultPhaseSeconds, "seconds per phase")

	rootCmd.AddCommand(breatheCmd, affirmationCmd)
}
