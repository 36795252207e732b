package audio

// Framer re-blocks arbitrarily sized sample slices coming from a device into
// fixed-size [AudioFrame] values. It is not safe for concurrent use; each
// capture source owns one.
type Framer struct {
	size       int
	sampleRate int
	buf        []float32
	emitted    int64 // samples emitted so far, used for timestamps
}

// NewFramer returns a Framer producing frames of size samples at sampleRate.
// A non-positive size falls back to [FrameSamples].
func NewFramer(size, sampleRate int) *Framer {
	if size <= 0 {
		size = FrameSamples
	}
	return &Framer{
		size:       size,
		sampleRate: sampleRate,
		buf:        make([]float32, 0, size),
	}
}

// Write appends samples and calls emit for every complete frame. The samples
// slice is copied, so device buffers may be reused by the caller.
func (f *Framer) Write(samples []float32, emit func(AudioFrame)) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			emit(f.take())
		}
	}
}

// Flush emits the buffered tail, zero-padded to a full frame. It reports
// whether a frame was emitted; an empty buffer emits nothing.
func (f *Framer) Flush(emit func(AudioFrame)) bool {
	n := len(f.buf)
	if n == 0 {
		return false
	}
	f.buf = f.buf[:f.size]
	clear(f.buf[n:])
	emit(f.take())
	return true
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int { return len(f.buf) }

func (f *Framer) take() AudioFrame {
	frame := AudioFrame{
		Samples:    f.buf,
		SampleRate: f.sampleRate,
		Channels:   1,
		Timestamp:  samplesDuration(int(f.emitted), f.sampleRate),
	}
	f.emitted += int64(f.size)
	f.buf = make([]float32, 0, f.size)
	return frame
}
