// Package playback schedules decoded speech onto a [audio.PlaybackSink] so
// that consecutive buffers play back-to-back without gaps or overlap.
//
// The scheduler keeps a single cursor, nextAvailable, on the sink's output
// clock. Every buffer starts at max(nextAvailable, now) and advances the
// cursor by its own duration. Network jitter therefore never causes overlap:
// late buffers start "now", early buffers queue behind their predecessors.
package playback

import (
	"fmt"
	"time"

	"github.com/MrWong99/livecoach/pkg/audio"
)

// Scheduler places [audio.PlaybackBuffer] values on a sink's output clock.
//
// The cursor is kept as a sample index so that buffers of any length stay
// sample-contiguous; converting through nanoseconds would truncate and let
// a buffer start one sample before its predecessor ends.
//
// A Scheduler has a single-writer invariant: Schedule and Reset must only be
// called from one goroutine (the session's inbound event loop). QueueDepth
// and NextAvailable may be read from that same goroutine.
type Scheduler struct {
	sink audio.PlaybackSink
	rate int   // rate of the cursor
	next int64 // cursor in samples at rate
}

// New creates a Scheduler whose cursor starts at the sink's current clock.
func New(sink audio.PlaybackSink) *Scheduler {
	s := &Scheduler{sink: sink, rate: audio.PlaybackSampleRate}
	s.next = s.nowSamples()
	return s
}

// nowSamples returns the sink clock at the cursor rate, rounded up so that
// nothing is placed before the clock.
func (s *Scheduler) nowSamples() int64 {
	now := s.sink.Now()
	n := audio.SampleIndex(now, s.rate)
	if audio.SampleTime(n, s.rate) < now {
		n++
	}
	return n
}

// Schedule computes the start time for samples, hands the buffer to the sink
// and advances the cursor. It returns the buffer as scheduled.
func (s *Scheduler) Schedule(samples []float32, sampleRate int) (audio.PlaybackBuffer, error) {
	if sampleRate > 0 && sampleRate != s.rate {
		// Carry the cursor over to the new rate without moving it earlier.
		at := audio.SampleTime(s.next, s.rate)
		s.rate = sampleRate
		s.next = audio.SampleIndex(at, s.rate)
		if audio.SampleTime(s.next, s.rate) < at {
			s.next++
		}
	}
	start := max(s.next, s.nowSamples())
	buf := audio.PlaybackBuffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Start:      audio.SampleTime(start, s.rate),
	}
	if len(samples) == 0 {
		return buf, nil
	}
	if err := s.sink.Schedule(buf); err != nil {
		return buf, fmt.Errorf("playback: schedule at %s: %w", buf.Start, err)
	}
	s.next = start + int64(len(samples))
	return buf, nil
}

// Reset discards all speech queued on the sink and rewinds the cursor to the
// current clock. It is used when the model reports that its turn was
// interrupted.
func (s *Scheduler) Reset() {
	s.sink.Flush()
	s.next = s.nowSamples()
}

// NextAvailable returns the output-clock time at which the next buffer will
// start if it arrives before then.
func (s *Scheduler) NextAvailable() time.Duration { return audio.SampleTime(s.next, s.rate) }

// QueueDepth returns how much scheduled speech lies ahead of the output clock.
// It grows when deltas arrive faster than real time.
func (s *Scheduler) QueueDepth() time.Duration {
	return max(s.NextAvailable()-s.sink.Now(), 0)
}
