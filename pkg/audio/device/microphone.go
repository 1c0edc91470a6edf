// Package device implements [audio.CaptureDevice] and [audio.OutputDevice] on
// top of the host's sound system: miniaudio (via malgo) for microphone capture
// and oto for playback.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/mentara/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*Microphone)(nil)
	_ audio.CaptureStream = (*captureStream)(nil)
)

// periodMillis is the device callback period requested from miniaudio. The
// pipeline regroups whatever arrives into fixed blocks.
const periodMillis = 20

// Option configures a [Microphone] or [Speaker].
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger used for device diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Microphone opens capture devices through miniaudio.
type Microphone struct {
	opts options
}

// NewMicrophone returns a Microphone.
func NewMicrophone(opts ...Option) *Microphone {
	return &Microphone{opts: buildOptions(opts)}
}

// Open initialises a miniaudio context and a capture device in 32-bit float
// format. The device is not started until [audio.CaptureStream.Start].
func (m *Microphone) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("device: invalid capture config %+v", cfg)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.EchoCancellation || cfg.NoiseSuppression || cfg.AutoGainControl {
		m.opts.log.Debug("device: capture processing requested but not provided by miniaudio",
			"echo_cancellation", cfg.EchoCancellation,
			"noise_suppression", cfg.NoiseSuppression,
			"auto_gain_control", cfg.AutoGainControl)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}

	s := &captureStream{
		mctx:     mctx,
		channels: cfg.Channels,
		log:      m.opts.log,
	}
	s.blocker = audio.NewBlocker(cfg.BlockSize, s.emit)

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = periodMillis

	if cfg.DeviceName != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			s.releaseContext()
			return nil, fmt.Errorf("device: list capture devices: %w", err)
		}
		found := false
		for _, info := range infos {
			if info.Name() == cfg.DeviceName {
				devCfg.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			s.releaseContext()
			return nil, fmt.Errorf("device: capture device %q not found", cfg.DeviceName)
		}
	}

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		s.releaseContext()
		return nil, fmt.Errorf("device: init capture device: %w", err)
	}
	s.dev = dev

	m.opts.log.Debug("device: capture device acquired",
		"format", audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}.String(),
		"block_size", cfg.BlockSize)
	return s, nil
}

// captureStream is an acquired miniaudio capture device.
type captureStream struct {
	mctx     *malgo.AllocatedContext
	dev      *malgo.Device
	channels int
	log      *slog.Logger

	// blocker and mono are only touched from the device callback goroutine.
	blocker *audio.Blocker
	mono    []float32

	mu      sync.Mutex
	handler audio.BlockHandler
	started bool
	closed  bool
}

// Start implements [audio.CaptureStream].
func (s *captureStream) Start(h audio.BlockHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("device: capture stream closed")
	}
	if s.started {
		return errors.New("device: capture stream already started")
	}
	s.handler = h
	if err := s.dev.Start(); err != nil {
		s.handler = nil
		return fmt.Errorf("device: start capture: %w", err)
	}
	s.started = true
	return nil
}

// Close implements [audio.CaptureStream].
func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.handler = nil
	started := s.started
	s.mu.Unlock()

	var errs []error
	if started {
		if err := s.dev.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("device: stop capture: %w", err))
		}
	}
	s.dev.Uninit()
	if err := s.releaseContext(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *captureStream) releaseContext() error {
	err := s.mctx.Uninit()
	s.mctx.Free()
	if err != nil {
		return fmt.Errorf("device: release audio context: %w", err)
	}
	return nil
}

// onData is the miniaudio callback. It converts the raw float32 bytes,
// downmixes to mono and regroups into fixed blocks.
func (s *captureStream) onData(_, input []byte, _ uint32) {
	samples := audio.BytesToFloat32(input)
	if s.channels > 1 {
		s.mono = downmix(s.mono[:0], samples, s.channels)
		samples = s.mono
	}
	s.blocker.Write(samples)
}

func (s *captureStream) emit(block []float32) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(block)
	}
}

// downmix averages interleaved channels into dst.
func downmix(dst, interleaved []float32, channels int) []float32 {
	for i := 0; i+channels <= len(interleaved); i += channels {
		var sum float32
		for c := range channels {
			sum += interleaved[i+c]
		}
		dst = append(dst, sum/float32(channels))
	}
	return dst
}
