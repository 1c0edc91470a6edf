package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mentara/internal/app"
	"github.com/MrWong99/mentara/internal/voice"
	audiomock "github.com/MrWong99/mentara/pkg/audio/mock"
	"github.com/MrWong99/mentara/pkg/provider/s2s"
	s2smock "github.com/MrWong99/mentara/pkg/provider/s2s/mock"
)

func newTestSessionManager(t *testing.T, prov *s2smock.Provider) *app.SessionManager {
	t.Helper()
	m, _ := newTestMetrics(t)
	cfg := voice.DefaultConfig()
	cfg.BlockSize = 4
	sm := app.NewSessionManager(app.SessionManagerConfig{
		Provider: prov,
		Mic:      &audiomock.CaptureDevice{},
		Speaker:  &audiomock.OutputDevice{},
		Session:  cfg,
		Metrics:  m,
	})
	t.Cleanup(func() { _ = sm.Stop() })
	return sm
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()
	sm := newTestSessionManager(t, &s2smock.Provider{})

	sess, err := sm.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !sm.IsActive() {
		t.Fatal("expected session to be active after Start")
	}
	info := sm.Info()
	if info.SessionID != sess.ID() {
		t.Errorf("SessionID = %q, want %q", info.SessionID, sess.ID())
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}

	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if sm.IsActive() || sm.Current() != nil {
		t.Fatal("expected no session after Stop")
	}
	if sess.Status() != voice.StatusClosed {
		t.Errorf("session status = %v, want closed", sess.Status())
	}
	if sm.Info() != (app.SessionInfo{}) {
		t.Errorf("Info() after Stop = %+v, want zero", sm.Info())
	}
}

func TestSessionManager_DoubleStart(t *testing.T) {
	t.Parallel()
	sm := newTestSessionManager(t, &s2smock.Provider{})

	if _, err := sm.Start(context.Background()); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	if _, err := sm.Start(context.Background()); !errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("second Start() = %v, want ErrSessionActive", err)
	}
}

func TestSessionManager_StopWithoutStart(t *testing.T) {
	t.Parallel()
	sm := newTestSessionManager(t, &s2smock.Provider{})

	if err := sm.Stop(); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("Stop() = %v, want ErrNoSession", err)
	}
	if err := sm.Tap(); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("Tap() = %v, want ErrNoSession", err)
	}
}

func TestSessionManager_FailedStartFreesSlot(t *testing.T) {
	t.Parallel()
	prov := &s2smock.Provider{ConnectErr: s2s.ErrHandshakeRejected}
	sm := newTestSessionManager(t, prov)

	_, err := sm.Start(context.Background())
	if !errors.Is(err, voice.ErrConnectFailure) {
		t.Fatalf("Start() = %v, want ErrConnectFailure", err)
	}
	if sm.Current() != nil {
		t.Fatal("failed Start must not keep the slot")
	}
	if _, err := sm.Start(context.Background()); err == nil || errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("retry Start() = %v, want a connect error", err)
	}
}

func TestSessionManager_RemoteCloseFreesSlot(t *testing.T) {
	t.Parallel()
	conn := s2smock.NewSession()
	sm := newTestSessionManager(t, &s2smock.Provider{Session: conn})

	sess, err := sm.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	conn.End(nil)

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after remote end")
	}
	waitFor(t, func() bool { return sm.Current() == nil })
}

func TestSessionManager_Tap(t *testing.T) {
	t.Parallel()
	sm := newTestSessionManager(t, &s2smock.Provider{})

	sess, err := sm.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := sm.Tap(); err != nil {
		t.Fatalf("Tap() error: %v", err)
	}
	if !sess.Snapshot().Armed {
		t.Error("microphone should be armed after Tap")
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	sm := newTestSessionManager(t, &s2smock.Provider{})

	if _, err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Concurrent reads should not race.
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = sm.IsActive()
		}()
		go func() {
			defer wg.Done()
			_ = sm.Info()
		}()
		go func() {
			defer wg.Done()
			_ = sm.Current()
		}()
	}
	wg.Wait()

	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}
