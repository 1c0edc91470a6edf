package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mentara/internal/app"
	"github.com/MrWong99/mentara/internal/voice"
)

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Talk to Mentara (tap-to-talk)",
	Long: `Open a live voice session. Press Enter to start talking and Enter again
when you are done; pressing Enter while Mentara speaks interrupts it.
Type q and Enter, or press Ctrl+C, to hang up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithApp(cmd, true, func(ctx context.Context, a *app.App) error {
			return runVoice(ctx, a.Sessions(), cmd.InOrStdin(), cmd.OutOrStdout())
		})
	},
}

// runVoice drives one session from line-based terminal input until the
// user hangs up, the session ends or ctx is cancelled.
func runVoice(ctx context.Context, sm *app.SessionManager, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Connecting...")
	sess, err := sm.Start(ctx)
	if err != nil {
		return err
	}
	r := &statusRenderer{out: out}
	sess.OnChange(r.render)
	r.render(sess.Snapshot())

	// Scan only returns once the input is closed, so a closable input is
	// closed on return to release the reader below.
	if c, ok := in.(io.Closer); ok {
		defer c.Close()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-sess.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return hangUp(sm)
		case <-sess.Done():
			fmt.Fprintln(out, "Session ended.")
			return sess.Err()
		case line, ok := <-lines:
			if !ok || strings.EqualFold(strings.TrimSpace(line), "q") {
				return hangUp(sm)
			}
			if err := sm.Tap(); err != nil && !errors.Is(err, voice.ErrNotActive) {
				return err
			}
		}
	}
}

func hangUp(sm *app.SessionManager) error {
	if err := sm.Stop(); err != nil && !errors.Is(err, app.ErrNoSession) {
		return err
	}
	return nil
}

// statusRenderer prints a line whenever the visible session state changes.
// Volume-only updates are ignored.
type statusRenderer struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func (r *statusRenderer) render(s voice.Snapshot) {
	line := statusLine(s)
	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.last {
		return
	}
	r.last = line
	fmt.Fprintln(r.out, line)
}

func statusLine(s voice.Snapshot) string {
	var b strings.Builder
	switch {
	case s.Status == voice.StatusConnecting:
		b.WriteString("[connecting]")
	case s.Status == voice.StatusClosed:
		b.WriteString("[closed]")
	case s.Armed:
		b.WriteString("[listening] press Enter when done")
	case s.AgentSpeaking:
		b.WriteString("[speaking] press Enter to interrupt")
	default:
		b.WriteString("[ready] press Enter to talk")
	}
	if s.Transcript != "" {
		b.WriteString("  ")
		b.WriteString(s.Transcript)
	}
	if s.Err != nil {
		b.WriteString("  error: ")
		b.WriteString(s.Err.Error())
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(voiceCmd)
}
