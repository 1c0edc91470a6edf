// Package playback schedules decoded model speech on an [audio.OutputStream]
// so that consecutive fragments play back to back without gaps, and lets the
// caller drop everything still pending in one step when the user barges in or
// the remote model interrupts itself.
//
// The scheduler owns the "next start" cursor. Each fragment starts at
// max(next, now) and advances the cursor by its own duration, so fragments
// arriving faster than real time queue up seamlessly and fragments arriving
// after a stall start immediately.
//
// A cancel epoch protects against a fragment decoded before [Scheduler.CancelAll]
// being scheduled after it: Enqueue captures the epoch before decoding and
// refuses to schedule when it has changed.
package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mentara/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Player = (*Scheduler)(nil)

// DefaultSampleRate is assumed for fragments that do not declare a rate.
const DefaultSampleRate = 24000

var (
	// ErrDecodeFailure is returned when a fragment cannot be turned into PCM.
	// The fragment is skipped and the schedule cursor is left untouched.
	ErrDecodeFailure = errors.New("playback: decode failure")

	// ErrSuperseded is returned when [Scheduler.CancelAll] ran while the
	// fragment was being decoded. The fragment is dropped.
	ErrSuperseded = errors.New("playback: fragment superseded by cancel")

	// ErrClosed is returned by Enqueue after [Scheduler.Close].
	ErrClosed = errors.New("playback: scheduler closed")
)

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithLogger sets the logger used for scheduling diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSpeakingChange registers fn at construction time. See
// [Scheduler.OnSpeakingChange].
func WithSpeakingChange(fn func(speaking bool)) Option {
	return func(s *Scheduler) {
		s.onSpeaking = fn
	}
}

// Scheduler is a gapless fragment scheduler. All exported methods are safe for
// concurrent use.
type Scheduler struct {
	out audio.OutputStream
	log *slog.Logger

	mu         sync.Mutex
	epoch      uint64
	next       time.Duration
	seq        uint64
	pending    map[uint64]audio.PlaybackHandle
	onSpeaking func(bool)
	closed     bool
}

// New returns a Scheduler playing on out. The schedule cursor starts at the
// output clock's current time.
func New(out audio.OutputStream, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:     out,
		log:     slog.Default(),
		pending: make(map[uint64]audio.PlaybackHandle),
	}
	for _, o := range opts {
		o(s)
	}
	s.next = out.Now()
	return s
}

// OnSpeakingChange registers fn to be called whenever the pending set flips
// between empty and non-empty. Only one handler is kept; later calls replace
// earlier ones. fn runs outside the scheduler lock and may call back into the
// Scheduler.
func (s *Scheduler) OnSpeakingChange(fn func(speaking bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpeaking = fn
}

// Enqueue decodes f and schedules it at max(next, now).
//
// It returns an error wrapping [ErrDecodeFailure] for malformed payloads,
// [ErrSuperseded] when a cancel raced with decoding, [ErrClosed] after Close,
// or the output stream's scheduling error. In every error case nothing is
// added to the pending set and the cursor does not move.
func (s *Scheduler) Enqueue(ctx context.Context, f audio.Fragment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	epoch := s.epoch
	s.mu.Unlock()

	frame, err := decode(f, s.out.Format())
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrSuperseded
	}

	start := max(s.next, s.out.Now())
	s.seq++
	id := s.seq
	h, err := s.out.Schedule(frame, start, func() { s.finished(id) })
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("playback: schedule: %w", err)
	}
	s.next = start + frame.Duration()
	becameSpeaking := len(s.pending) == 0
	s.pending[id] = h
	cb := s.onSpeaking
	s.mu.Unlock()

	s.log.Debug("playback: scheduled fragment",
		"start", start, "duration", frame.Duration(), "id", id)

	if becameSpeaking && cb != nil {
		cb(true)
	}
	return nil
}

// CancelAll stops every pending buffer, empties the pending set, and resets
// the cursor to the output clock's current time. Fragments whose decoding
// started before the call are rejected with [ErrSuperseded]. Calling it with
// nothing pending only resets the cursor.
func (s *Scheduler) CancelAll(reason audio.InterruptReason) {
	s.mu.Lock()
	s.epoch++
	handles := make([]audio.PlaybackHandle, 0, len(s.pending))
	for _, h := range s.pending {
		handles = append(handles, h)
	}
	wasSpeaking := len(s.pending) > 0
	clear(s.pending)
	s.next = s.out.Now()
	cb := s.onSpeaking
	s.mu.Unlock()

	// Stop may run the done callback synchronously; finished then finds the
	// id already gone.
	for _, h := range handles {
		h.Stop()
	}

	if wasSpeaking {
		s.log.Debug("playback: cancelled pending buffers",
			"reason", reason.String(), "count", len(handles))
		if cb != nil {
			cb(false)
		}
	}
}

// Speaking reports whether at least one buffer is pending.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Pending returns the number of scheduled buffers that have not finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// NextStart returns the output-clock time at which the next fragment would
// start if nothing else changed.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close cancels all pending playback and rejects further fragments. It does
// not close the output stream. Close is idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.CancelAll(audio.Teardown)
	return nil
}

// finished removes a buffer that ended on its own.
func (s *Scheduler) finished(id uint64) {
	s.mu.Lock()
	if _, ok := s.pending[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	stopped := len(s.pending) == 0
	cb := s.onSpeaking
	s.mu.Unlock()

	if stopped && cb != nil {
		cb(false)
	}
}

// decode turns a fragment into a frame in the output stream's format.
func decode(f audio.Fragment, outFmt audio.Format) (audio.AudioFrame, error) {
	pcm, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("%w: base64: %v", ErrDecodeFailure, err)
	}
	if len(pcm) == 0 {
		return audio.AudioFrame{}, fmt.Errorf("%w: empty payload", ErrDecodeFailure)
	}
	if len(pcm)%2 != 0 {
		return audio.AudioFrame{}, fmt.Errorf("%w: odd PCM16 length %d", ErrDecodeFailure, len(pcm))
	}

	rate := f.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	if outFmt.SampleRate > 0 && outFmt.SampleRate != rate {
		pcm = audio.ResampleMono16(pcm, rate, outFmt.SampleRate)
		rate = outFmt.SampleRate
	}
	channels := 1
	if outFmt.Channels == 2 {
		pcm = monoToStereo(pcm)
		channels = 2
	}
	return audio.AudioFrame{Data: pcm, SampleRate: rate, Channels: channels}, nil
}

// monoToStereo duplicates every 16-bit sample into both channels.
func monoToStereo(pcm []byte) []byte {
	out := make([]byte, len(pcm)*2)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}
