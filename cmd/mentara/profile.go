package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mentara/internal/app"
	"github.com/MrWong99/mentara/internal/companion"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or change your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithApp(cmd, false, func(ctx context.Context, a *app.App) error {
			st, err := a.Service().State(ctx)
			if err != nil {
				return err
			}
			printProfile(cmd.OutOrStdout(), st)
			return nil
		})
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change name, language or theme",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		lang, _ := cmd.Flags().GetString("language")
		theme, _ := cmd.Flags().GetString("theme")
		if name == "" && lang == "" && theme == "" {
			return fmt.Errorf("nothing to change: pass --name, --language or --theme")
		}

		return executeWithApp(cmd, false, func(ctx context.Context, a *app.App) error {
			st, err := a.Service().UpdateProfile(ctx, companion.Profile{
				UserName: name,
				Language: companion.Language(lang),
				Theme:    companion.Theme(theme),
			})
			if err != nil {
				return err
			}
			printProfile(cmd.OutOrStdout(), st)
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all moods, messages and settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		return executeWithApp(cmd, false, func(ctx context.Context, a *app.App) error {
			if _, err := a.Service().Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All data cleared.")
			return nil
		})
	},
}

func printProfile(w io.Writer, st companion.AppState) {
	fmt.Fprintf(w, "Name:     %s\n", st.UserName)
	fmt.Fprintf(w, "Language: %s\n", st.Language)
	fmt.Fprintf(w, "Theme:    %s\n", st.Theme)
	fmt.Fprintf(w, "Streak:   %d\n", st.Streak)
}

func init() {
	profileSetCmd.Flags().String("name", "", "display name")
	profileSetCmd.Flags().String("language", "", "language (id or en)")
	profileSetCmd.Flags().String("theme", "", "theme (slate or midnight)")
	resetCmd.Flags().Bool("yes", false, "confirm the reset")

	profileCmd.AddCommand(profileSetCmd)
	rootCmd.AddCommand(profileCmd, resetCmd)
}
