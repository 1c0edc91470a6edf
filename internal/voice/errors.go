package voice

import "errors"

// Errors reported by [Session]. Fatal kinds end the session with
// [StatusClosed] and are available from [Snapshot].Err.
var (
	// ErrCaptureUnavailable means the microphone could not be acquired or
	// started (permission denied, no device).
	ErrCaptureUnavailable = errors.New("voice: capture unavailable")

	// ErrOutputUnavailable means the playback device could not be opened.
	ErrOutputUnavailable = errors.New("voice: output unavailable")

	// ErrConnectFailure means the remote endpoint could not be reached or
	// rejected the handshake.
	ErrConnectFailure = errors.New("voice: connect failure")

	// ErrConnectTimeout means capture acquisition or the handshake did not
	// complete within the connect timeout.
	ErrConnectTimeout = errors.New("voice: connect timeout")

	// ErrSendFailure marks a single frame that could not be transmitted. It
	// is logged and counted, never returned.
	ErrSendFailure = errors.New("voice: send failure")

	// ErrTransportClosed means the remote side closed the stream or the
	// transport failed after the session became active.
	ErrTransportClosed = errors.New("voice: transport closed")

	// ErrNotActive is returned by [Session.Tap] outside the active state.
	ErrNotActive = errors.New("voice: session not active")

	// ErrAlreadyOpened is returned by a second call to [Session.Open].
	ErrAlreadyOpened = errors.New("voice: session already opened")

	// ErrClosedDuringOpen is returned by [Session.Open] when Close won the
	// race against resource acquisition.
	ErrClosedDuringOpen = errors.New("voice: session closed while opening")
)
