// Package voice implements the real-time voice session: microphone capture
// gated by a tap-to-talk switch, a bidirectional stream to a speech-to-speech
// model, and gapless playback of the model's voice with barge-in.
//
// A [Session] is single-use. [Session.Open] acquires the microphone and
// performs the remote handshake concurrently, then opens the speaker; the
// session is active only when all three succeeded. Any fatal error, a remote
// close, or [Session.Close] moves it to [StatusClosed] and releases every
// resource exactly once. Open a new Session to talk again.
//
// Typical usage:
//
//	sess := voice.New(provider, mic, speaker, voice.DefaultConfig())
//	if err := sess.Open(ctx); err != nil {
//	    return err
//	}
//	defer sess.Close()
//	sess.Tap() // start talking
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mentara/internal/observe"
	"github.com/MrWong99/mentara/pkg/audio"
	"github.com/MrWong99/mentara/pkg/audio/playback"
	"github.com/MrWong99/mentara/pkg/provider/s2s"
)

// DefaultInstructions is the companion persona sent with the session setup.
const DefaultInstructions = "Anda adalah Mentara, teman bicara yang sangat hangat. " +
	"Dengarkan cerita user. Berikan respon yang singkat, empatik, dan menenangkan. " +
	"User menggunakan mode Tap-to-Talk, jadi responlah segera setelah user selesai mengirim suaranya."

// Capture and connection defaults.
const (
	DefaultSampleRate     = 16000
	DefaultBlockSize      = 4096
	DefaultConnectTimeout = 15 * time.Second
)

// Status is the lifecycle state of a [Session].
type Status int32

const (
	// StatusConnecting is the initial state until capture and handshake both
	// complete.
	StatusConnecting Status = iota

	// StatusActive means audio flows in both directions.
	StatusActive

	// StatusClosed is terminal.
	StatusClosed
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Config holds the session parameters.
type Config struct {
	// Instructions is the persona text sent with the setup message.
	Instructions string

	// Voice is the provider voice id. Empty selects the provider default.
	Voice string

	// Transcription requests transcripts of the model's speech.
	Transcription bool

	// SampleRate and BlockSize describe microphone capture.
	SampleRate int
	BlockSize  int

	// CaptureDevice and OutputDevice select devices by name. Empty means the
	// system default.
	CaptureDevice string
	OutputDevice  string

	// OutputSampleRate is the rate the speaker is opened at. Zero uses the
	// provider's output rate.
	OutputSampleRate int

	// ConnectTimeout bounds capture acquisition plus the remote handshake.
	ConnectTimeout time.Duration

	// TranscriptLimit bounds the rolling transcript, in runes.
	TranscriptLimit int
}

// DefaultConfig returns the configuration the companion app uses.
func DefaultConfig() Config {
	return Config{
		Instructions:    DefaultInstructions,
		Transcription:   true,
		SampleRate:      DefaultSampleRate,
		BlockSize:       DefaultBlockSize,
		ConnectTimeout:  DefaultConnectTimeout,
		TranscriptLimit: DefaultTranscriptLimit,
	}
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.TranscriptLimit <= 0 {
		c.TranscriptLimit = DefaultTranscriptLimit
	}
}

// Snapshot is a consistent view of the session for display.
type Snapshot struct {
	ID            string
	Status        Status
	Armed         bool
	AgentSpeaking bool
	Volume        float64
	Transcript    string
	Err           error
}

// ─── Options ─────────────────────────────────────────────────────────────────

// Option is a functional option for [New].
type Option func(*Session)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// ─── Session ─────────────────────────────────────────────────────────────────

// Session is one voice conversation. All methods are safe for concurrent use.
type Session struct {
	cfg      Config
	provider s2s.Provider
	mic      audio.CaptureDevice
	speaker  audio.OutputDevice
	log      *slog.Logger
	metrics  *observe.Metrics
	id       string

	status atomic.Int32
	armed  atomic.Bool
	volume atomic.Uint64

	// tapMu serialises Tap with fragment scheduling: no fragment is queued
	// between the barge-in cancel and arming, or while armed.
	tapMu sync.Mutex

	mu         sync.Mutex
	opened     bool
	transcript *Transcript
	err        error
	player     *playback.Scheduler
	release    []func() error
	onChange   func(Snapshot)

	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// New creates a session in [StatusConnecting]. Nothing is acquired until
// [Session.Open].
func New(provider s2s.Provider, mic audio.CaptureDevice, speaker audio.OutputDevice, cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:      cfg,
		provider: provider,
		mic:      mic,
		speaker:  speaker,
		log:      slog.Default(),
		frames:   make(chan []byte, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.id == "" {
		s.id = ulid.Make().String()
	}
	s.log = s.log.With("session_id", s.id)
	s.transcript = NewTranscript(cfg.TranscriptLimit)
	s.status.Store(int32(StatusConnecting))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// Done is closed when the session reaches [StatusClosed].
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that closed the session, or nil after a clean Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnChange registers fn to receive a snapshot after every observable change,
// including every captured block while active. fn runs on the goroutine that
// caused the change, possibly the audio device callback, and must return
// quickly.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:         s.id,
		Status:     s.Status(),
		Armed:      s.armed.Load(),
		Volume:     math.Float64frombits(s.volume.Load()),
		Transcript: s.transcript.String(),
		Err:        s.err,
	}
	if s.player != nil {
		snap.AgentSpeaking = s.player.Speaking()
	}
	return snap
}

// Open acquires the microphone and connects to the model concurrently, then
// opens the speaker and starts streaming. On success the session is active.
// On failure the session is closed, everything acquired so far is released,
// and the returned error wraps one of [ErrCaptureUnavailable],
// [ErrConnectFailure], [ErrConnectTimeout] or [ErrOutputUnavailable].
//
// Open may be called at most once.
func (s *Session) Open(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return ErrAlreadyOpened
	}
	if s.Status() == StatusClosed {
		s.mu.Unlock()
		return ErrClosedDuringOpen
	}
	s.opened = true
	s.mu.Unlock()

	ctx = observe.WithSessionID(ctx, s.id)
	ctx, span := observe.StartSpan(ctx, "voice.Open")
	defer span.End()

	start := time.Now()
	defer func() {
		status := StatusActive
		if err != nil {
			status = StatusClosed
			span.RecordError(err)
		}
		s.metrics.VoiceOpenDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("status", status.String())))
	}()

	capture, conn, err := s.acquire(ctx)

	// Everything acquired is pushed before checking the error so that a
	// partial acquisition is released by closeWith.
	var acquired []func() error
	if conn != nil {
		acquired = append(acquired, conn.Close)
	}
	if capture != nil {
		acquired = append(acquired, capture.Close)
	}
	if err == nil {
		var out audio.OutputStream
		out, err = s.openOutput(ctx)
		if out != nil {
			acquired = append(acquired, out.Close)
			player := playback.New(out,
				playback.WithLogger(s.log),
				playback.WithSpeakingChange(func(bool) { s.notify() }),
			)
			acquired = append(acquired, player.Close)
			s.mu.Lock()
			s.player = player
			s.mu.Unlock()
		}
	}

	if !s.activate(acquired, err) {
		if err == nil {
			return ErrClosedDuringOpen
		}
		s.closeWith(err)
		return err
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.log.Info("voice: session active", "elapsed", time.Since(start))

	// The loops outlive Open; they stop on Close or remote end, not on ctx.
	loopCtx := context.WithoutCancel(ctx)
	go s.receiveLoop(loopCtx, conn)
	go s.sendLoop(loopCtx, conn)

	if err := capture.Start(s.onBlock); err != nil {
		err = fmt.Errorf("voice: start capture: %w: %w", ErrCaptureUnavailable, err)
		s.closeWith(err)
		return err
	}
	s.notify()
	return nil
}

// acquire runs capture acquisition and the remote handshake concurrently
// under the connect timeout.
func (s *Session) acquire(ctx context.Context) (audio.CaptureStream, s2s.SessionHandle, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	var (
		capture audio.CaptureStream
		conn    s2s.SessionHandle
	)
	g, gctx := errgroup.WithContext(cctx)
	g.Go(func() error {
		cs, err := s.mic.Open(gctx, audio.CaptureConfig{
			SampleRate:       s.cfg.SampleRate,
			Channels:         1,
			BlockSize:        s.cfg.BlockSize,
			DeviceName:       s.cfg.CaptureDevice,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		})
		if err != nil {
			return fmt.Errorf("voice: open capture: %w: %w", ErrCaptureUnavailable, err)
		}
		capture = cs
		return nil
	})
	g.Go(func() error {
		c, err := s.provider.Connect(gctx, s2s.SessionConfig{
			Instructions:    s.cfg.Instructions,
			Voice:           s.cfg.Voice,
			Modality:        s2s.ModalityAudio,
			Transcription:   s.cfg.Transcription,
			InputSampleRate: s.cfg.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("voice: connect: %w: %w", ErrConnectFailure, err)
		}
		conn = c
		return nil
	})
	err := g.Wait()

	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("voice: open: %w after %s", ErrConnectTimeout, s.cfg.ConnectTimeout)
	}
	return capture, conn, err
}

func (s *Session) openOutput(ctx context.Context) (audio.OutputStream, error) {
	rate := s.cfg.OutputSampleRate
	if rate <= 0 {
		rate = s.provider.Capabilities().OutputSampleRate
	}
	if rate <= 0 {
		rate = playback.DefaultSampleRate
	}
	out, err := s.speaker.Open(ctx, audio.OutputConfig{
		SampleRate: rate,
		Channels:   1,
		DeviceName: s.cfg.OutputDevice,
	})
	if err != nil {
		return nil, fmt.Errorf("voice: open output: %w: %w", ErrOutputUnavailable, err)
	}
	return out, nil
}

// activate installs the release stack and moves the session to active. It
// reports false when openErr is set or when Close ran during acquisition; in
// the latter case the resources are released here.
func (s *Session) activate(acquired []func() error, openErr error) bool {
	s.mu.Lock()
	if s.Status() == StatusClosed {
		s.mu.Unlock()
		releaseAll(acquired)
		return false
	}
	s.release = append(s.release, acquired...)
	if openErr != nil {
		s.mu.Unlock()
		return false
	}
	s.status.Store(int32(StatusActive))
	s.wg.Add(2)
	s.mu.Unlock()
	return true
}

// Tap toggles the tap-to-talk switch. While the agent is speaking, the first
// tap cancels its pending playback before arming the microphone (barge-in).
// Arming clears the transcript. A tap while armed disarms. Agent audio that
// arrives while armed is dropped.
func (s *Session) Tap() error {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()

	if s.Status() != StatusActive {
		return ErrNotActive
	}

	if s.armed.Load() {
		s.armed.Store(false)
		s.log.Debug("voice: microphone disarmed")
		s.notify()
		return nil
	}

	s.mu.Lock()
	player := s.player
	s.mu.Unlock()

	speaking := player.Speaking()
	player.CancelAll(audio.UserBargeIn)
	if speaking {
		s.metrics.RecordInterruption(context.Background(), audio.UserBargeIn.String())
		s.log.Debug("voice: barge-in")
	}

	s.mu.Lock()
	s.transcript.Reset()
	s.mu.Unlock()

	s.drainFrames()
	s.armed.Store(true)
	s.log.Debug("voice: microphone armed")
	s.notify()
	return nil
}

// Close ends the session and releases every resource. It is idempotent and
// returns the joined release errors of the first call.
func (s *Session) Close() error {
	s.closeWith(nil)
	s.wg.Wait()
	return s.closeErr
}

// closeWith moves the session to closed with cause and runs the release
// stack in reverse acquisition order. Only the first call has an effect.
func (s *Session) closeWith(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasActive := s.Status() == StatusActive
		s.status.Store(int32(StatusClosed))
		s.armed.Store(false)
		s.err = cause
		release := s.release
		s.release = nil
		s.mu.Unlock()

		close(s.done)
		s.closeErr = releaseAll(release)

		if wasActive {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		if cause != nil {
			s.log.Warn("voice: session closed", "err", cause)
		} else {
			s.log.Info("voice: session closed")
		}
		if s.closeErr != nil {
			s.log.Warn("voice: release failed", "err", s.closeErr)
		}
		s.notify()
	})
}

// releaseAll calls fns in reverse order and joins their errors.
func releaseAll(fns []func() error) error {
	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// receiveLoop applies inbound events in arrival order until the stream ends.
func (s *Session) receiveLoop(ctx context.Context, conn s2s.SessionHandle) {
	defer s.wg.Done()
	for ev := range conn.Events() {
		s.handleEvent(ctx, ev)
	}

	select {
	case <-s.done:
		return
	default:
	}
	err := fmt.Errorf("voice: receive: %w", ErrTransportClosed)
	if cause := conn.Err(); cause != nil {
		err = fmt.Errorf("voice: receive: %w: %w", ErrTransportClosed, cause)
	}
	s.metrics.RecordProviderError(ctx, "s2s", "transport")
	s.closeWith(err)
}

func (s *Session) handleEvent(ctx context.Context, ev s2s.Event) {
	switch ev.Type {
	case s2s.EventInterrupted:
		s.player.CancelAll(audio.RemoteInterrupt)
		s.metrics.RecordInterruption(ctx, audio.RemoteInterrupt.String())

	case s2s.EventAudio:
		s.tapMu.Lock()
		defer s.tapMu.Unlock()
		if s.armed.Load() {
			s.metrics.RecordFragment(ctx, observe.FragmentSuperseded)
			return
		}
		err := s.player.Enqueue(ctx, ev.Audio)
		switch {
		case err == nil:
			s.metrics.RecordFragment(ctx, observe.FragmentScheduled)
		case errors.Is(err, playback.ErrDecodeFailure):
			s.metrics.RecordFragment(ctx, observe.FragmentDecodeFailed)
			s.log.Warn("voice: skipping undecodable fragment", "err", err)
		case errors.Is(err, playback.ErrSuperseded):
			s.metrics.RecordFragment(ctx, observe.FragmentSuperseded)
		case errors.Is(err, playback.ErrClosed):
		default:
			s.log.Warn("voice: failed to schedule fragment", "err", err)
		}

	case s2s.EventTranscript:
		s.mu.Lock()
		s.transcript.Append(ev.Text)
		s.mu.Unlock()
		s.notify()

	case s2s.EventTurnComplete:
		s.log.Debug("voice: turn complete")
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(s.Snapshot())
	}
}
