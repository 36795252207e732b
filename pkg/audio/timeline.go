package audio

import (
	"sync"
	"time"
)

// Timeline is a sample-accurate output clock with a queue of scheduled
// buffers. Device sinks drive it from their output callback by calling
// [Timeline.Render]; the output clock advances by exactly the number of
// samples rendered, so it never drifts from what the speaker has played.
//
// Timeline satisfies the scheduling half of [PlaybackSink]; device adapters
// embed it and add Close.
//
// All methods are safe for concurrent use.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64 // samples rendered so far
	pending []scheduledBuffer
	closed  bool
}

type scheduledBuffer struct {
	start   int64
	samples []float32
}

func (b scheduledBuffer) end() int64 { return b.start + int64(len(b.samples)) }

// NewTimeline returns a Timeline rendering at rate Hz.
func NewTimeline(rate int) *Timeline {
	if rate <= 0 {
		rate = PlaybackSampleRate
	}
	return &Timeline{rate: rate}
}

// SampleRate returns the rendering rate in Hz.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the output clock: the duration of audio rendered so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return samplesDuration(int(t.pos), t.rate)
}

// Schedule queues buf at buf.Start. A start in the past is moved to the
// current clock; no samples are skipped.
func (t *Timeline) Schedule(buf PlaybackBuffer) error {
	if len(buf.Samples) == 0 {
		return nil
	}
	start := SampleIndex(buf.Start, t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrSinkClosed
	}
	start = max(start, t.pos)
	t.pending = append(t.pending, scheduledBuffer{start: start, samples: buf.Samples})
	return nil
}

// Render fills out with the audio due at the current clock position and
// advances the clock by len(out) samples. Gaps between buffers render as
// silence. Overlapping buffers are summed and clamped.
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.pos
	to := from + int64(len(out))
	keep := t.pending[:0]
	for _, b := range t.pending {
		lo, hi := max(b.start, from), min(b.end(), to)
		for i := lo; i < hi; i++ {
			v := out[i-from] + b.samples[i-b.start]
			out[i-from] = min(max(v, -1), 1)
		}
		if b.end() > to {
			keep = append(keep, b)
		}
	}
	clear(t.pending[len(keep):])
	t.pending = keep
	t.pos = to
}

// Buffered returns how much scheduled audio lies ahead of the clock.
func (t *Timeline) Buffered() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var last int64
	for _, b := range t.pending {
		last = max(last, b.end())
	}
	if last <= t.pos {
		return 0
	}
	return samplesDuration(int(last-t.pos), t.rate)
}

// Flush drops every buffer that has not finished playing.
func (t *Timeline) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.pending)
	t.pending = t.pending[:0]
}

// Close drops pending audio and rejects further scheduling. Rendering after
// Close produces silence.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = nil
	return nil
}
