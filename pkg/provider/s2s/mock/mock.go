// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to push inbound events and inspect the audio frames that were sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(s2s.Event{Type: s2s.EventInterrupted})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mentara/pkg/provider/s2s"
)

// Compile-time interface assertions.
var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*Session)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new Session from NewSession.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectHook, if set, runs before Connect returns. Returning a non-nil
	// error fails the call. Tests use it to hold the handshake open or to
	// wait for ctx to expire.
	ConnectHook func(ctx context.Context) error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.S2SCapabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	hook := p.ConnectHook
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.S2SCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	events chan s2s.Event

	mu     sync.Mutex
	sent   [][]byte
	err    error
	closed bool
	ended  bool

	// SendErr, if non-nil, is returned by SendAudio.
	SendErr error

	// OnSend, if set, is called for every successful SendAudio.
	OnSend func(chunk []byte)

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 64)}
}

// SendAudio records chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s2s.ErrSessionClosed
	}
	if s.SendErr != nil {
		err := s.SendErr
		s.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), chunk...)
	s.sent = append(s.sent, cp)
	hook := s.OnSend
	s.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return nil
}

// Events returns the inbound event channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns the error passed to End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the event channel. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.closed = true
	s.endLocked(nil)
	return nil
}

// Push delivers an inbound event. It is a no-op once the session has ended.
func (s *Session) Push(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// End simulates the remote side terminating the session with err.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	if s.err == nil {
		s.err = err
	}
	close(s.events)
}

// Sent returns a copy of every chunk passed to SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
