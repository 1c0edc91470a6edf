package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/mentara/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.OutputDevice   = (*Speaker)(nil)
	_ audio.OutputStream   = (*outputStream)(nil)
	_ audio.PlaybackHandle = (*voiceHandle)(nil)
)

// otoBufferBytes is the player's internal buffer; ~100 ms at 24 kHz mono.
const otoBufferBytes = 4800

// oto allows exactly one context per process, so it is created on first use
// and shared by every stream opened afterwards.
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat audio.Format
)

func sharedContext(f audio.Format) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		if f != otoFormat {
			return nil, fmt.Errorf("device: output already initialised as %s, cannot reopen as %s", otoFormat, f)
		}
		return otoCtx, nil
	}
	c, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(otoBufferBytes/2/f.Channels) * time.Second / time.Duration(f.SampleRate),
	})
	if err != nil {
		return nil, fmt.Errorf("device: init output context: %w", err)
	}
	<-ready
	otoCtx, otoFormat = c, f
	return c, nil
}

// Speaker opens output streams through oto.
type Speaker struct {
	opts options
}

// NewSpeaker returns a Speaker.
func NewSpeaker(opts ...Option) *Speaker {
	return &Speaker{opts: buildOptions(opts)}
}

// Open starts a continuously running player that mixes scheduled buffers into
// silence. The stream clock is the number of frames the player has pulled.
// cfg.DeviceName is ignored; oto always plays on the system default output.
func (sp *Speaker) Open(ctx context.Context, cfg audio.OutputConfig) (audio.OutputStream, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.Channels > 2 {
		return nil, fmt.Errorf("device: invalid output config %+v", cfg)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.DeviceName != "" {
		sp.opts.log.Warn("device: output device selection is not supported, using default", "device", cfg.DeviceName)
	}

	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	c, err := sharedContext(f)
	if err != nil {
		return nil, err
	}

	o := &outputStream{
		format: f,
		voices: make(map[uint64]*voiceHandle),
	}
	o.player = c.NewPlayer(o)
	o.player.Play()
	sp.opts.log.Debug("device: output stream opened", "format", f.String())
	return o, nil
}

// outputStream mixes scheduled PCM buffers on the player's pull thread.
type outputStream struct {
	format audio.Format
	player *oto.Player

	mu     sync.Mutex
	pos    int64 // frames handed to the player so far
	seq    uint64
	voices map[uint64]*voiceHandle
	mix    []int32
	closed bool
}

// voiceHandle is one scheduled buffer.
type voiceHandle struct {
	out   *outputStream
	id    uint64
	start int64 // first frame on the stream clock
	pcm   []byte
	done  func()
}

// Now implements [audio.OutputStream].
func (o *outputStream) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.framesToDuration(o.pos)
}

// Format implements [audio.OutputStream].
func (o *outputStream) Format() audio.Format { return o.format }

// Schedule implements [audio.OutputStream]. A start time in the past plays
// immediately.
func (o *outputStream) Schedule(frame audio.AudioFrame, at time.Duration, done func()) (audio.PlaybackHandle, error) {
	if frame.SampleRate != o.format.SampleRate || frame.Channels != o.format.Channels {
		return nil, fmt.Errorf("device: frame format %dHz/%dch does not match output %s",
			frame.SampleRate, frame.Channels, o.format)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errors.New("device: output stream closed")
	}
	start := max(o.durationToFrames(at), o.pos)
	o.seq++
	v := &voiceHandle{out: o, id: o.seq, start: start, pcm: frame.Data, done: done}
	o.voices[v.id] = v
	return v, nil
}

// Close implements [audio.OutputStream]. Buffers still scheduled are stopped
// and their done callbacks run.
func (o *outputStream) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	remaining := make([]*voiceHandle, 0, len(o.voices))
	for _, v := range o.voices {
		remaining = append(remaining, v)
	}
	clear(o.voices)
	o.mu.Unlock()

	for _, v := range remaining {
		if v.done != nil {
			v.done()
		}
	}
	if o.player == nil {
		return nil
	}
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("device: close player: %w", err)
	}
	return nil
}

// Stop implements [audio.PlaybackHandle].
func (v *voiceHandle) Stop() {
	o := v.out
	o.mu.Lock()
	_, ok := o.voices[v.id]
	delete(o.voices, v.id)
	o.mu.Unlock()
	if ok && v.done != nil {
		v.done()
	}
}

// Read implements io.Reader for the oto player. It never blocks: frames with
// no scheduled audio are silence.
func (o *outputStream) Read(p []byte) (int, error) {
	bytesPerFrame := 2 * o.format.Channels
	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	n := frames * bytesPerFrame

	o.mu.Lock()
	if cap(o.mix) < frames*o.format.Channels {
		o.mix = make([]int32, frames*o.format.Channels)
	}
	mix := o.mix[:frames*o.format.Channels]
	clear(mix)

	from, to := o.pos, o.pos+int64(frames)
	var finished []*voiceHandle
	for id, v := range o.voices {
		vEnd := v.start + int64(len(v.pcm)/bytesPerFrame)
		lo, hi := max(from, v.start), min(to, vEnd)
		for f := lo; f < hi; f++ {
			src := int(f-v.start) * o.format.Channels
			dst := int(f-from) * o.format.Channels
			for c := range o.format.Channels {
				mix[dst+c] += int32(int16(binary.LittleEndian.Uint16(v.pcm[(src+c)*2:])))
			}
		}
		if vEnd <= to {
			delete(o.voices, id)
			finished = append(finished, v)
		}
	}
	o.pos = to
	for i, s := range mix {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(clamp16(s)))
	}
	o.mu.Unlock()

	for _, v := range finished {
		if v.done != nil {
			v.done()
		}
	}
	return n, nil
}

func (o *outputStream) framesToDuration(frames int64) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(o.format.SampleRate)
}

func (o *outputStream) durationToFrames(d time.Duration) int64 {
	return int64(d) * int64(o.format.SampleRate) / int64(time.Second)
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
