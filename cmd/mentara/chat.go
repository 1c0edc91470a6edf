package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mentara/internal/app"
	"github.com/MrWong99/mentara/internal/companion"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with Mentara",
	Long: `Send a single message, or start an interactive chat when no message is
given. Type /exit or press Ctrl+D to leave the chat.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithApp(cmd, true, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return sendChat(ctx, a.Service(), out, strings.Join(args, " "))
			}

			st, err := a.Service().State(ctx)
			if err != nil {
				return err
			}
			if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == companion.RoleAssistant {
				fmt.Fprintf(out, "Mentara: %s\n", st.Messages[n-1].Content)
			}

			sc := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !sc.Scan() {
					fmt.Fprintln(out)
					return sc.Err()
				}
				line := strings.TrimSpace(sc.Text())
				switch line {
				case "":
					continue
				case "/exit", "/quit":
					return nil
				}
				if err := sendChat(ctx, a.Service(), out, line); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
		})
	},
}

// sendChat sends text and prints the reply as it streams in. Replies that
// are not streamed (crisis and connection fallbacks) are printed whole.
func sendChat(ctx context.Context, svc *companion.Service, out io.Writer, text string) error {
	fmt.Fprint(out, "Mentara: ")
	streamed := false
	reply, err := svc.SendMessageStream(ctx, text, func(delta string) {
		streamed = true
		fmt.Fprint(out, delta)
	})
	if err != nil {
		fmt.Fprintln(out)
		if errors.Is(err, companion.ErrEmptyMessage) {
			return nil
		}
		return err
	}
	if !streamed {
		fmt.Fprint(out, reply.Message.Content)
	}
	fmt.Fprintln(out)
	if reply.Crisis {
		fmt.Fprintln(out, "!! Hotline Halo Kemenkes: 1500-567")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
