package audio

import "time"

// AudioFrame represents a single block of audio flowing through the voice
// pipeline: captured from the microphone, sent to the remote model, or decoded
// from a model fragment and handed to an output stream.
type AudioFrame struct {
	// PCM audio data, little-endian signed 16-bit samples.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for model output).
	SampleRate int

	// Channels is always 1 in this pipeline; kept explicit so that devices
	// can reject frames they cannot play.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel held in Data.
func (f AudioFrame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (2 * ch)
}

// Duration returns the playback length of the frame. Frames with an unknown
// sample rate report zero.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
