package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/mentara/pkg/provider/s2s"
	s2smock "github.com/MrWong99/mentara/pkg/provider/s2s/mock"
)

func newS2SFallback(t *testing.T, primary, secondary *s2smock.Provider) *S2SFallback {
	t.Helper()
	m, _ := newTestMetrics(t)
	fb := NewS2SFallback("gemini", primary, FallbackConfig{Metrics: m})
	fb.AddFallback("openai", secondary)
	return fb
}

func TestS2SFallback_ConnectPrimary(t *testing.T) {
	t.Parallel()
	sess := s2smock.NewSession()
	primary := &s2smock.Provider{Session: sess}
	secondary := &s2smock.Provider{}
	fb := newS2SFallback(t, primary, secondary)

	cfg := s2s.SessionConfig{Instructions: "Kamu adalah Mentara.", Voice: "Kore"}
	h, err := fb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if h != sess {
		t.Fatal("Connect did not return the primary session")
	}
	calls := primary.Calls()
	if len(calls) != 1 || calls[0].Cfg.Voice != "Kore" {
		t.Fatalf("primary calls = %+v, want one call with the session config", calls)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatal("secondary should not be dialled")
	}
}

func TestS2SFallback_FailsOverOnRejectedHandshake(t *testing.T) {
	t.Parallel()
	primary := &s2smock.Provider{
		ConnectErr:           fmt.Errorf("gemini: %w: invalid model", s2s.ErrHandshakeRejected),
		ProviderCapabilities: s2s.S2SCapabilities{OutputSampleRate: 24000, Voices: []string{"Kore"}},
	}
	secondary := &s2smock.Provider{
		ProviderCapabilities: s2s.S2SCapabilities{OutputSampleRate: 22050, Voices: []string{"alloy"}},
	}
	fb := newS2SFallback(t, primary, secondary)

	if got := fb.Capabilities().OutputSampleRate; got != 24000 {
		t.Fatalf("capabilities before connect = %d, want primary 24000", got)
	}
	if _, err := fb.Connect(context.Background(), s2s.SessionConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(secondary.Calls()) != 1 {
		t.Fatal("secondary was not dialled")
	}
	if got := fb.Capabilities().OutputSampleRate; got != 22050 {
		t.Fatalf("capabilities after failover = %d, want 22050", got)
	}
}

func TestS2SFallback_DeadlineNotRetried(t *testing.T) {
	t.Parallel()
	primary := &s2smock.Provider{
		ConnectHook: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	secondary := &s2smock.Provider{}
	fb := newS2SFallback(t, primary, secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fb.Connect(ctx, s2s.SessionConfig{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatal("secondary must not be dialled after the caller gave up")
	}
}

func TestS2SFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := newS2SFallback(t,
		&s2smock.Provider{ConnectErr: errors.New("dial refused")},
		&s2smock.Provider{ConnectErr: s2s.ErrHandshakeRejected},
	)

	_, err := fb.Connect(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, s2s.ErrHandshakeRejected) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the handshake rejection", err)
	}
	if !fb.Available() {
		t.Fatal("one failure each should not open the default breakers")
	}
	if n := len(fb.Status()); n != 2 {
		t.Fatalf("len(Status) = %d, want 2", n)
	}
}
