package audio

import "context"

// InterruptReason identifies why pending playback was cut short.
type InterruptReason int

const (
	// RemoteInterrupt indicates that the remote model signalled it stopped
	// generating, typically because its own voice activity detection heard
	// the user.
	RemoteInterrupt InterruptReason = iota

	// UserBargeIn indicates that the user armed the microphone while the
	// agent was still talking and took the floor.
	UserBargeIn

	// Teardown indicates that the player is being closed with its session.
	Teardown
)

// String returns the metric label of the interrupt reason.
func (r InterruptReason) String() string {
	switch r {
	case RemoteInterrupt:
		return "remote"
	case UserBargeIn:
		return "barge_in"
	case Teardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// Fragment is one chunk of synthesized speech as it arrives from the remote
// model: base64-encoded little-endian signed 16-bit mono PCM.
type Fragment struct {
	// Data is the base64 (standard encoding) PCM payload.
	Data string

	// SampleRate of the encoded PCM in Hz. Model output is 24000.
	SampleRate int
}

// Player queues model fragments for gapless playback and can drop everything
// that is still pending.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Enqueue decodes f and schedules it directly after whatever is already
	// queued.
	Enqueue(ctx context.Context, f Fragment) error

	// CancelAll stops and forgets every pending buffer.
	CancelAll(reason InterruptReason)

	// Speaking reports whether at least one buffer is pending.
	Speaking() bool
}
