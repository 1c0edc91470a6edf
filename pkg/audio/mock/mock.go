// Package mock provides in-memory implementations of the [audio.CaptureDevice]
// and [audio.OutputDevice] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	out := &mock.OutputStream{}
//	dev := &mock.OutputDevice{Stream: out}
//	stream, _ := dev.Open(ctx, audio.OutputConfig{SampleRate: 24000, Channels: 1})
//	h, _ := stream.Schedule(frame, 0, func() {})
//	out.Scheduled()[0].Finish() // simulate natural completion
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/mentara/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice  = (*CaptureDevice)(nil)
	_ audio.CaptureStream  = (*CaptureStream)(nil)
	_ audio.OutputDevice   = (*OutputDevice)(nil)
	_ audio.OutputStream   = (*OutputStream)(nil)
	_ audio.PlaybackHandle = (*Scheduled)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// CaptureDevice is a mock implementation of [audio.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenHook, if set, is called at the start of Open. Tests use it to delay
	// acquisition or to observe ordering.
	OpenHook func(ctx context.Context)

	// Stream is returned by Open. When nil, Open creates a fresh stream.
	Stream *CaptureStream

	// OpenCalls records the config of every Open call.
	OpenCalls []audio.CaptureConfig
}

// Open implements [audio.CaptureDevice].
func (d *CaptureDevice) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	d.mu.Lock()
	hook := d.OpenHook
	d.OpenCalls = append(d.OpenCalls, cfg)
	d.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Stream == nil {
		d.Stream = &CaptureStream{}
	}
	return d.Stream, nil
}

// CaptureStream is a mock implementation of [audio.CaptureStream]. Blocks are
// delivered manually with [CaptureStream.Push].
type CaptureStream struct {
	mu      sync.Mutex
	handler audio.BlockHandler

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StartCalls counts Start invocations.
	StartCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Start implements [audio.CaptureStream].
func (s *CaptureStream) Start(h audio.BlockHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.handler = h
	return nil
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.handler = nil
	return nil
}

// Push delivers one block to the registered handler as the device callback
// would. It reports false when the stream is not started or already closed.
func (s *CaptureStream) Push(samples []float32) bool {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h(samples)
	return true
}

// Started reports whether a handler is currently registered.
func (s *CaptureStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

// Closes returns how many times Close was called.
func (s *CaptureStream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

// ─── Output ───────────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// Stream is returned by Open. When nil, Open creates a fresh stream.
	Stream *OutputStream

	// OpenCalls records the config of every Open call.
	OpenCalls []audio.OutputConfig
}

// Open implements [audio.OutputDevice].
func (d *OutputDevice) Open(_ context.Context, cfg audio.OutputConfig) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, cfg)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Stream == nil {
		d.Stream = &OutputStream{}
	}
	return d.Stream, nil
}

// OutputStream is a mock implementation of [audio.OutputStream] with a
// manually advanced clock. Scheduled buffers never finish on their own; call
// [Scheduled.Finish] to simulate natural completion.
type OutputStream struct {
	mu        sync.Mutex
	now       time.Duration
	scheduled []*Scheduled

	// FormatResult is returned by Format. Zero means 24 kHz mono.
	FormatResult audio.Format

	// ScheduleErr, if non-nil, is returned by Schedule.
	ScheduleErr error

	// OnStop, if set, is called whenever a scheduled buffer is stopped.
	OnStop func(*Scheduled)

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Now implements [audio.OutputStream].
func (o *OutputStream) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the clock to d.
func (o *OutputStream) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Advance moves the clock forward by d.
func (o *OutputStream) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// Format implements [audio.OutputStream].
func (o *OutputStream) Format() audio.Format {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FormatResult.SampleRate == 0 {
		return audio.Format{SampleRate: 24000, Channels: 1}
	}
	return o.FormatResult
}

// Schedule implements [audio.OutputStream].
func (o *OutputStream) Schedule(frame audio.AudioFrame, at time.Duration, done func()) (audio.PlaybackHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleErr != nil {
		return nil, o.ScheduleErr
	}
	s := &Scheduled{Frame: frame, At: at, done: done, out: o}
	o.scheduled = append(o.scheduled, s)
	return s, nil
}

// Close implements [audio.OutputStream].
func (o *OutputStream) Close() error {
	o.mu.Lock()
	o.CloseCalls++
	o.mu.Unlock()
	return nil
}

// Scheduled returns a snapshot of every buffer scheduled so far, in order.
func (o *OutputStream) Scheduled() []*Scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Scheduled, len(o.scheduled))
	copy(out, o.scheduled)
	return out
}

// Closes returns how many times Close was called.
func (o *OutputStream) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CloseCalls
}

// Scheduled is one buffer handed to [OutputStream.Schedule]. It implements
// [audio.PlaybackHandle].
type Scheduled struct {
	// Frame and At are the arguments passed to Schedule.
	Frame audio.AudioFrame
	At    time.Duration

	mu       sync.Mutex
	out      *OutputStream
	done     func()
	stopped  bool
	finished bool
}

// Stop implements [audio.PlaybackHandle]. The done callback runs synchronously.
func (s *Scheduled) Stop() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.out.mu.Lock()
	hook := s.out.OnStop
	s.out.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	s.finish()
}

// Finish simulates the buffer playing to its end.
func (s *Scheduled) Finish() { s.finish() }

func (s *Scheduled) finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	done := s.done
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

// Stopped reports whether Stop was called before the buffer finished.
func (s *Scheduled) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Finished reports whether the done callback has run.
func (s *Scheduled) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}
