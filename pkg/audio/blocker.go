package audio

// Blocker regroups an arbitrary stream of samples into fixed-size blocks.
// Device callbacks deliver whatever period the platform chose; the voice
// pipeline wants a constant block length.
//
// A Blocker is owned by a single callback goroutine and is not safe for
// concurrent use.
type Blocker struct {
	size int
	buf  []float32
	emit BlockHandler
}

// NewBlocker returns a Blocker that calls emit with every complete block of
// size samples. size must be positive.
func NewBlocker(size int, emit BlockHandler) *Blocker {
	return &Blocker{
		size: size,
		buf:  make([]float32, 0, size),
		emit: emit,
	}
}

// Write appends samples and emits as many full blocks as are available. The
// slice passed to emit is reused after emit returns.
func (b *Blocker) Write(samples []float32) {
	for len(samples) > 0 {
		n := min(b.size-len(b.buf), len(samples))
		b.buf = append(b.buf, samples[:n]...)
		samples = samples[n:]
		if len(b.buf) == b.size {
			b.emit(b.buf)
			b.buf = b.buf[:0]
		}
	}
}

// Buffered returns the number of samples waiting for a full block.
func (b *Blocker) Buffered() int { return len(b.buf) }
