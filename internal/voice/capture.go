package voice

import (
	"context"
	"fmt"
	"math"

	"github.com/MrWong99/mentara/internal/observe"
	"github.com/MrWong99/mentara/pkg/audio"
	"github.com/MrWong99/mentara/pkg/provider/s2s"
)

// onBlock is the capture device callback. It runs on the device goroutine
// and never blocks: the volume is always published, and only armed blocks
// are converted and offered to the one-slot hand-off.
func (s *Session) onBlock(samples []float32) {
	s.volume.Store(math.Float64bits(audio.RMS(samples)))

	if !s.armed.Load() {
		s.metrics.RecordFrame(context.Background(), observe.FrameGated)
		s.notify()
		return
	}

	pcm := audio.Float32ToPCM16(samples)
	select {
	case s.frames <- pcm:
	default:
		s.metrics.RecordFrame(context.Background(), observe.FrameDropped)
	}
	s.notify()
}

// sendLoop drains the hand-off slot onto the connection. A frame that was
// captured while armed but is dequeued after the user disarmed is dropped.
func (s *Session) sendLoop(ctx context.Context, conn s2s.SessionHandle) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case pcm := <-s.frames:
			if !s.armed.Load() {
				s.metrics.RecordFrame(ctx, observe.FrameGated)
				continue
			}
			if err := conn.SendAudio(pcm); err != nil {
				s.log.Debug("voice: frame not sent", "err", fmt.Errorf("%w: %w", ErrSendFailure, err))
				s.metrics.RecordFrame(ctx, observe.FrameFailed)
				continue
			}
			s.metrics.RecordFrame(ctx, observe.FrameSent)
		}
	}
}

// drainFrames discards a frame left in the hand-off slot.
func (s *Session) drainFrames() {
	select {
	case <-s.frames:
	default:
	}
}
