package audio

import (
	"context"
	"time"
)

// CaptureConfig describes how an input device should be opened.
type CaptureConfig struct {
	// SampleRate in Hz. Speech pipelines use 16000.
	SampleRate int

	// Channels is the number of interleaved input channels. The voice pipeline
	// always requests mono.
	Channels int

	// BlockSize is the number of samples per channel delivered to the
	// [BlockHandler] in one call.
	BlockSize int

	// DeviceName selects a specific input device. Empty means the system default.
	DeviceName string

	// Processing requested from the platform. Backends that cannot honour a
	// flag log it once and continue.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// BlockHandler receives one block of full-scale float samples. It runs on the
// device's callback goroutine and must return promptly; it must never block
// on network I/O.
type BlockHandler func(samples []float32)

// CaptureDevice acquires live audio input.
type CaptureDevice interface {
	// Open acquires the input device. Acquisition and start are separate so
	// that callers can hold the device while other resources come up; no
	// samples are delivered until [CaptureStream.Start] is called.
	Open(ctx context.Context, cfg CaptureConfig) (CaptureStream, error)
}

// CaptureStream is an acquired input device.
type CaptureStream interface {
	// Start begins delivering blocks to h. It may be called at most once.
	Start(h BlockHandler) error

	// Close stops delivery and releases the device. Safe to call more than once.
	Close() error
}

// OutputConfig describes how an output device should be opened.
type OutputConfig struct {
	SampleRate int
	Channels   int
	DeviceName string
}

// OutputDevice acquires an audio sink.
type OutputDevice interface {
	Open(ctx context.Context, cfg OutputConfig) (OutputStream, error)
}

// OutputStream is an acquired audio sink that can play buffers at precise
// times on its own monotonic clock.
type OutputStream interface {
	// Now reports the output clock. It starts near zero when the stream is
	// opened and never decreases.
	Now() time.Duration

	// Format reports the sample format the stream plays.
	Format() Format

	// Schedule plays frame starting at output-clock time at. done is called
	// exactly once when playback ends, whether it ran to completion or was
	// stopped through the returned handle. done must not be invoked from
	// within Schedule itself.
	Schedule(frame AudioFrame, at time.Duration, done func()) (PlaybackHandle, error)

	// Close stops all playback and releases the device.
	Close() error
}

// PlaybackHandle controls one scheduled buffer.
type PlaybackHandle interface {
	// Stop silences the buffer immediately regardless of its position.
	// Stopping a finished buffer is a no-op.
	Stop()
}
