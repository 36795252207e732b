// Package mock provides in-memory mock implementations of the
// [audio.CaptureSource] and [audio.PlaybackSink] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.CaptureSource{}
//	frames, err := src.Open(ctx, audio.CaptureSampleRate)
//	src.Feed(make([]float32, audio.FrameSamples)) // one frame arrives on frames
//	sink := &mock.Sink{}
//	sink.Advance(500 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livecoach/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureSource = (*CaptureSource)(nil)
	_ audio.PlaybackSink  = (*Sink)(nil)
)

// ─── CaptureSource ────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [CaptureSource.Open] invocation.
type OpenCall struct {
	// SampleRate is the sampleRate argument passed to Open.
	SampleRate int
}

// CaptureSource is a mock implementation of [audio.CaptureSource] driven by
// [CaptureSource.Feed] instead of a device callback.
type CaptureSource struct {
	mu sync.Mutex

	// OpenError is returned by Open. When set, no device is acquired.
	OpenError error

	// FrameBuffer is the capacity of the frame channel. Defaults to 16.
	FrameBuffer int

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// Dropped counts frames discarded because the channel was full.
	Dropped int

	frames  chan audio.AudioFrame
	framer  *audio.Framer
	held    bool
	stopped bool
}

// Open implements [audio.CaptureSource].
func (c *CaptureSource) Open(_ context.Context, sampleRate int) (<-chan audio.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenCalls = append(c.OpenCalls, OpenCall{SampleRate: sampleRate})
	if c.stopped {
		return nil, audio.ErrCaptureStopped
	}
	if c.OpenError != nil {
		return nil, c.OpenError
	}
	size := c.FrameBuffer
	if size <= 0 {
		size = 16
	}
	c.frames = make(chan audio.AudioFrame, size)
	c.framer = audio.NewFramer(audio.FrameSamples, sampleRate)
	c.held = true
	return c.frames, nil
}

// Feed simulates the device callback delivering samples. Complete frames are
// sent without blocking; frames that do not fit are counted in Dropped.
// Feed is a no-op when the source is not open.
func (c *CaptureSource) Feed(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return
	}
	c.framer.Write(samples, c.emitLocked)
}

func (c *CaptureSource) emitLocked(f audio.AudioFrame) {
	select {
	case c.frames <- f:
	default:
		c.Dropped++
	}
}

// Stop implements [audio.CaptureSource]. The buffered tail is flushed as a
// zero-padded frame before the channel is closed.
func (c *CaptureSource) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	if c.stopped {
		return nil
	}
	c.stopped = true
	if c.held {
		c.framer.Flush(c.emitLocked)
		close(c.frames)
		c.held = false
	}
	return nil
}

// Held reports whether the simulated device handle is currently acquired.
func (c *CaptureSource) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.PlaybackSink] with a manually
// driven output clock. It records scheduled buffers instead of playing them.
type Sink struct {
	mu sync.Mutex

	// ScheduleError is returned by Schedule when non-nil.
	ScheduleError error

	// Scheduled records every buffer passed to Schedule, in call order.
	Scheduled []audio.PlaybackBuffer

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	now    time.Duration
	closed bool
	notify chan struct{}
}

// Now implements [audio.PlaybackSink].
func (s *Sink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetNow sets the output clock.
func (s *Sink) SetNow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = d
}

// Advance moves the output clock forward by d.
func (s *Sink) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
}

// Schedule implements [audio.PlaybackSink]. Records buf and returns
// ScheduleError, or [audio.ErrSinkClosed] after Close.
func (s *Sink) Schedule(buf audio.PlaybackBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrSinkClosed
	}
	if s.ScheduleError != nil {
		return s.ScheduleError
	}
	s.Scheduled = append(s.Scheduled, buf)
	if s.notify != nil {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush implements [audio.PlaybackSink]. Records the call.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFlush++
}

// Close implements [audio.PlaybackSink]. Records the call.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

// ScheduledCalls returns a snapshot of the buffers scheduled so far.
func (s *Sink) ScheduledCalls() []audio.PlaybackBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.PlaybackBuffer, len(s.Scheduled))
	copy(out, s.Scheduled)
	return out
}

// Closes returns how many times Close was called.
func (s *Sink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Flushes returns how many times Flush was called.
func (s *Sink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountFlush
}

// Notify returns a channel that receives a value (without blocking the
// sink) each time a buffer is scheduled.
func (s *Sink) Notify() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notify == nil {
		s.notify = make(chan struct{}, 64)
	}
	return s.notify
}
