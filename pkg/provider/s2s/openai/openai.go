// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// The Realtime API speaks 24 kHz PCM16 in both directions, so microphone frames
// are resampled before they are appended to the input buffer. Server-side voice
// activity detection is left on; its speech_started event surfaces as an
// interruption.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/mentara/pkg/audio"
	"github.com/MrWong99/mentara/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// realtimeSampleRate is the only rate pcm16 is accepted and produced at.
	realtimeSampleRate = 24000

	transcriptionModel = "whisper-1"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() s2s.S2SCapabilities {
	return s2s.S2SCapabilities{
		ContextWindow:        128_000,
		MaxSessionDurationMs: 30 * 60 * 1000,
		OutputSampleRate:     realtimeSampleRate,
		Voices:               []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect dials the Realtime endpoint, sends session.update and blocks until
// the server confirms it with session.updated. ctx bounds the whole handshake.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	inputRate := cfg.InputSampleRate
	if inputRate <= 0 {
		inputRate = 16000
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:      conn,
		events:    make(chan s2s.Event, 64),
		inputRate: inputRate,
		ctx:       sessCtx,
		cancel:    sessCancel,
	}

	if err := sess.sendSessionUpdate(ctx, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	if err := sess.awaitSessionUpdated(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (d *serverErrorDetail) String() string {
	if d == nil || d.Message == "" {
		return "unknown error"
	}
	return d.Message
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn      *websocket.Conn
	events    chan s2s.Event
	inputRate int

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends a session.update event to configure voice,
// instructions, modalities and audio formats.
func (s *session) sendSessionUpdate(ctx context.Context, cfg s2s.SessionConfig) error {
	params := sessionParams{
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	switch cfg.Modality {
	case s2s.ModalityText:
		params.Modalities = []string{"text"}
	default:
		// Audio responses require text alongside on this API.
		params.Modalities = []string{"audio", "text"}
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &transcriptionParams{Model: transcriptionModel}
	}
	return s.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: params})
}

// awaitSessionUpdated reads until the server confirms the configuration.
// session.created, which the server sends unprompted on connect, is skipped.
func (s *session) awaitSessionUpdated(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("openai: await session: %w", ctxErr)
			}
			if status := websocket.CloseStatus(err); status != -1 {
				return fmt.Errorf("openai: %w: closed with %s", s2s.ErrHandshakeRejected, status)
			}
			return fmt.Errorf("openai: await session: %w", err)
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "error":
			return fmt.Errorf("openai: %w: %s", s2s.ErrHandshakeRejected, evt.Error)
		case "session.updated":
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them in arrival
// order. It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status != -1 {
				s.setErr(fmt.Errorf("openai: %w: %s", s2s.ErrRemoteClosed, status))
				return
			}
			s.setErr(fmt.Errorf("openai: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if !s.handleServerEvent(&evt) {
			return
		}
	}
}

// handleServerEvent returns false when the session must end.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return true
		}
		return s.emit(s2s.Event{
			Type:  s2s.EventAudio,
			Audio: audio.Fragment{Data: evt.Delta, SampleRate: realtimeSampleRate},
		})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return true
		}
		return s.emit(s2s.Event{Type: s2s.EventTranscript, Speaker: s2s.SpeakerAgent, Text: evt.Delta})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return true
		}
		return s.emit(s2s.Event{Type: s2s.EventTranscript, Speaker: s2s.SpeakerUser, Text: evt.Transcript})

	case "input_audio_buffer.speech_started":
		return s.emit(s2s.Event{Type: s2s.EventInterrupted})

	case "response.done":
		return s.emit(s2s.Event{Type: s2s.EventTurnComplete})

	case "error":
		s.setErr(fmt.Errorf("openai: %w: %s", s2s.ErrRemoteClosed, evt.Error))
		s.conn.Close(websocket.StatusNormalClosure, "server error")
		return false
	}
	return true
}

// emit delivers ev or reports false when the session is shutting down.
func (s *session) emit(ev s2s.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio resamples a PCM16 mono chunk to 24 kHz and appends it to the
// server's input buffer.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: %w", s2s.ErrSessionClosed)
	}
	s.mu.Unlock()

	pcm := audio.ResampleMono16(chunk, s.inputRate, realtimeSampleRate)
	err := s.writeJSON(s.ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("openai: %w", s2s.ErrSessionClosed)
		}
		return fmt.Errorf("openai: send audio: %w", err)
	}
	return nil
}

// Events returns the channel on which inbound events arrive.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
