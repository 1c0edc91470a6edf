package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mentara/internal/app"
	"github.com/MrWong99/mentara/internal/companion"
)

var moodCmd = &cobra.Command{
	Use:   "mood",
	Short: "Mood journal",
	Long:  `Record mood check-ins, list past entries and ask for insights.`,
}

var moodAddCmd = &cobra.Command{
	Use:   "add <level>",
	Short: "Record a mood check-in (1 = very sad .. 5 = very happy)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("mood level %q is not a number", args[0])
		}
		note, _ := cmd.Flags().GetString("note")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		return executeWithApp(cmd, false, func(ctx context.Context, a *app.App) error {
			entry, err := a.Service().SaveMood(ctx, companion.MoodLevel(n), note, tags)
			if err != nil {
				return err
			}
			st, err := a.Service().State(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved: %d %s. Streak: %d day(s).\n", entry.Level, entry.Level.Label(), st.Streak)
			return nil
		})
	},
}

var moodListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent mood check-ins",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return executeWithApp(cmd, false, func(ctx context.Context, a *app.App) error {
			st, err := a.Service().State(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(st.Moods) == 0 {
				fmt.Fprintln(out, "No check-ins yet.")
				return nil
			}

			moods := st.Moods
			if limit > 0 && len(moods) > limit {
				moods = moods[:limit]
			}
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "WHEN\tLEVEL\tNOTE\tTAGS")
			for _, m := range moods {
				fmt.Fprintf(w, "%s\t%d %s\t%s\t%s\n",
					m.Time().Format(time.DateTime),
					m.Level, m.Level.Label(),
					m.Note,
					strings.Join(m.Tags, ","))
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			fmt.Fprintf(out, "\nShowing %d of %d check-in(s)\n", len(moods), len(st.Moods))
			return nil
		})
	},
}

var moodInsightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Describe the pattern of your recent moods",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithApp(cmd, false, func(ctx context.Context, a *app.App) error {
			text, err := a.Service().Insights(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		})
	},
}

func init() {
	moodAddCmd.Flags().String("note", "", "free-text note")
	moodAddCmd.Flags().StringSlice("tag", nil, "tag, repeatable (e.g. --tag kerja --tag tidur)")
	moodListCmd.Flags().Int("limit", 10, "show at most this many entries (0 = all)")

	moodCmd.AddCommand(moodAddCmd, moodListCmd, moodInsightsCmd)
	rootCmd.AddCommand(moodCmd)
}
