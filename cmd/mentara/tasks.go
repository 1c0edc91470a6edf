package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mentara/internal/app"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Daily mental plan",
	Long:  `Show the daily plan and mark tasks as done.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List today's tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithApp(cmd, false, func(ctx context.Context, a *app.App) error {
			if _, err := a.Service().ResetDailyTasks(ctx); err != nil {
				return err
			}
			st, err := a.Service().State(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tDONE\tTYPE\tTITLE")
			for _, t := range st.Tasks {
				done := " "
				if t.Completed {
					done = "x"
				}
				fmt.Fprintf(w, "%s\t[%s]\t%s\t%s\n", t.ID, done, t.Type, t.Title)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			fmt.Fprintf(out, "\n%d/%d done, streak %d day(s)\n", st.CompletedTasks(), len(st.Tasks), st.Streak)
			return nil
		})
	},
}

var tasksToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Mark a task done or not done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithApp(cmd, false, func(ctx context.Context, a *app.App) error {
			t, err := a.Service().ToggleTask(ctx, args[0])
			if err != nil {
				return err
			}
			state := "not done"
			if t.Completed {
				state = "done"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", t.Title, state)
			return nil
		})
	},
}

func init() {
	tasksCmd.AddCommand(tasksListCmd, tasksToggleCmd)
	rootCmd.AddCommand(tasksCmd)
}
