package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mentara/internal/observe"
	"github.com/MrWong99/mentara/internal/voice"
	"github.com/MrWong99/mentara/pkg/audio"
	"github.com/MrWong99/mentara/pkg/provider/s2s"
)

var (
	// ErrSessionActive is returned by Start while a session is open or
	// opening.
	ErrSessionActive = errors.New("app: a voice session is already active")

	// ErrNoSession is returned by Stop and Tap when no session is open.
	ErrNoSession = errors.New("app: no active voice session")
)

// SessionInfo holds metadata about the current voice session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// StartedAt is when Start was called.
	StartedAt time.Time
}

// SessionManager manages the lifecycle of voice sessions.
// Only one session can exist at a time; a session that closes on its own
// (remote close, fatal error) frees the slot. All exported methods are safe
// for concurrent use.
type SessionManager struct {
	mu      sync.Mutex
	current *voice.Session
	info    SessionInfo

	// Dependencies injected at construction.
	provider s2s.Provider
	mic      audio.CaptureDevice
	speaker  audio.OutputDevice
	cfg      voice.Config
	metrics  *observe.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Provider s2s.Provider
	Mic      audio.CaptureDevice
	Speaker  audio.OutputDevice
	Session  voice.Config
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		provider: cfg.Provider,
		mic:      cfg.Mic,
		speaker:  cfg.Speaker,
		cfg:      cfg.Session,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		now:      time.Now,
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	return sm
}

// Start opens a new voice session and returns it once active. The slot is
// reserved before the handshake, so a concurrent Start fails fast with
// [ErrSessionActive] and a concurrent Stop aborts the open.
func (sm *SessionManager) Start(ctx context.Context) (*voice.Session, error) {
	sm.mu.Lock()
	if sm.current != nil {
		id := sm.info.SessionID
		sm.mu.Unlock()
		sm.log.Debug("app: voice start rejected", "active_session", id)
		return nil, ErrSessionActive
	}
	sess := voice.New(sm.provider, sm.mic, sm.speaker, sm.cfg,
		voice.WithLogger(sm.log),
		voice.WithMetrics(sm.metrics),
	)
	sm.current = sess
	sm.info = SessionInfo{SessionID: sess.ID(), StartedAt: sm.now()}
	sm.mu.Unlock()

	go sm.release(sess)

	if err := sess.Open(ctx); err != nil {
		sm.clear(sess)
		return nil, err
	}
	sm.log.Info("app: voice session started", "session_id", sess.ID())
	return sess, nil
}

// release frees the slot once sess is closed.
func (sm *SessionManager) release(sess *voice.Session) {
	<-sess.Done()
	sm.clear(sess)
}

func (sm *SessionManager) clear(sess *voice.Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.current == sess {
		sm.current = nil
		sm.info = SessionInfo{}
	}
}

// Stop closes the current session and returns its release errors.
// Returns [ErrNoSession] if there is none.
func (sm *SessionManager) Stop() error {
	sm.mu.Lock()
	sess := sm.current
	sm.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	err := sess.Close()
	sm.clear(sess)

	sm.log.Info("app: voice session stopped", "session_id", sess.ID())
	return err
}

// Tap arms the microphone of the current session (see [voice.Session.Tap]).
func (sm *SessionManager) Tap() error {
	sess := sm.Current()
	if sess == nil {
		return ErrNoSession
	}
	return sess.Tap()
}

// Current returns the current session, or nil.
func (sm *SessionManager) Current() *voice.Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// IsActive reports whether a session is open and streaming.
func (sm *SessionManager) IsActive() bool {
	sess := sm.Current()
	return sess != nil && sess.Status() == voice.StatusActive
}

// Info returns metadata about the current session.
// Returns zero value if there is none.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}
