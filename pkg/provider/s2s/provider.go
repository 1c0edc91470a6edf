// Package s2s defines the Provider interface for speech-to-speech (S2S)
// backends.
//
// An S2S provider wraps a real-time voice AI service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session.
// Examples are the Gemini Live API and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: one outbound audio stream and one
// inbound, ordered stream of events (transcripts, audio fragments, interruption
// signals). Sessions are long-lived (seconds to minutes) and are never
// reconnected automatically.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"

	"github.com/MrWong99/mentara/pkg/audio"
)

var (
	// ErrHandshakeRejected is returned by Connect when the remote endpoint
	// answers the session setup with an error instead of an acknowledgement.
	ErrHandshakeRejected = errors.New("s2s: handshake rejected")

	// ErrRemoteClosed is reported by [SessionHandle.Err] when the remote end
	// closed the session or sent a fatal error.
	ErrRemoteClosed = errors.New("s2s: remote closed the session")

	// ErrSessionClosed is returned by SendAudio after Close.
	ErrSessionClosed = errors.New("s2s: session closed")
)

// Modality is the response modality requested from the model.
type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
)

// IsValid reports whether m is a known modality.
func (m Modality) IsValid() bool {
	switch m {
	case ModalityAudio, ModalityText:
		return true
	}
	return false
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Instructions is the persona text sent with the session setup.
	Instructions string

	// Voice is the provider's prebuilt voice identifier (e.g. "Kore").
	Voice string

	// Modality is the requested response modality. Empty means audio.
	Modality Modality

	// Transcription asks the provider to transcribe its own audio output.
	Transcription bool

	// InputTranscription asks the provider to transcribe the user's speech.
	InputTranscription bool

	// InputSampleRate is the rate of the PCM16 mono frames passed to
	// SendAudio. Zero means 16000.
	InputSampleRate int
}

// Speaker identifies who a transcript fragment belongs to.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// EventType discriminates the inbound events of a session.
type EventType int

const (
	// EventTranscript carries a text fragment in Speaker/Text.
	EventTranscript EventType = iota

	// EventAudio carries one base64 PCM fragment in Audio.
	EventAudio

	// EventInterrupted signals that the model stopped generating; audio that
	// is still queued locally is stale.
	EventInterrupted

	// EventTurnComplete signals the end of a model turn.
	EventTurnComplete
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventTranscript:
		return "transcript"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// Event is one inbound message, delivered in arrival order.
type Event struct {
	Type EventType

	// Speaker and Text are set for EventTranscript.
	Speaker Speaker
	Text    string

	// Audio is set for EventAudio.
	Audio audio.Fragment
}

// S2SCapabilities describes static properties of the S2S provider.
type S2SCapabilities struct {
	// ContextWindow is the maximum token count the model can keep.
	ContextWindow int

	// MaxSessionDurationMs is the provider-imposed upper bound on session
	// lifetime. Zero means no documented limit.
	MaxSessionDurationMs int

	// OutputSampleRate is the sample rate of audio fragments.
	OutputSampleRate int

	// Voices lists the prebuilt voice identifiers.
	Voices []string
}

// SessionHandle represents an open S2S session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one PCM16 mono frame at the configured input rate.
	// It returns an error if the session is closed or the write fails.
	SendAudio(chunk []byte) error

	// Events returns the inbound event stream. The channel is closed when the
	// session ends; call Err afterwards to learn why.
	Events() <-chan Event

	// Err returns the cause of termination, or nil if the session was closed
	// locally or is still running.
	Err() error

	// Close terminates the session and closes the Events channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect dials the backend, sends the session setup and waits for the
	// remote acknowledgement. It honours ctx for the whole handshake. A
	// rejected setup yields an error wrapping [ErrHandshakeRejected].
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() S2SCapabilities
}
