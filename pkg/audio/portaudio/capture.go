// Package portaudio implements [audio.CaptureSource] and [audio.PlaybackSink]
// on the system's default input and output devices using the PortAudio
// library (github.com/gordonklaus/portaudio, CGO).
//
// The PortAudio shared library and headers must be available at build time
// (e.g. libportaudio2 / portaudio19-dev on Debian, `brew install portaudio`
// on macOS).
//
// Both adapters use PortAudio's callback API. Callbacks run on a real-time
// audio thread, so they only copy samples and hand them off without blocking.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/livecoach/pkg/audio"
	pa "github.com/gordonklaus/portaudio"
)

// Compile-time assertion that Capture satisfies audio.CaptureSource.
var _ audio.CaptureSource = (*Capture)(nil)

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithFrameBuffer sets how many complete frames may wait for the consumer
// before the callback starts dropping them. Default: 8.
func WithFrameBuffer(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.frameBuffer = n
		}
	}
}

// WithDropHandler registers fn to be called (from the audio thread) whenever
// a frame is dropped because the consumer fell behind. fn must not block.
func WithDropHandler(fn func()) CaptureOption {
	return func(c *Capture) { c.onDrop = fn }
}

// Capture records mono float32 audio from the default input device.
// A Capture is single-use: once stopped it cannot be reopened.
type Capture struct {
	frameBuffer int
	onDrop      func()

	mu      sync.Mutex
	stream  *pa.Stream
	frames  chan audio.AudioFrame
	framer  *audio.Framer
	opened  bool
	stopped bool

	dropped atomic.Int64
}

// NewCapture returns an unopened Capture.
func NewCapture(opts ...CaptureOption) *Capture {
	c := &Capture{frameBuffer: 8}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open initialises PortAudio, opens the default input device at sampleRate
// and starts the callback stream. Frames of [audio.FrameSamples] samples are
// delivered on the returned channel.
func (c *Capture) Open(_ context.Context, sampleRate int) (<-chan audio.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, audio.ErrCaptureStopped
	}
	if c.opened {
		return nil, fmt.Errorf("portaudio: capture already open")
	}

	if err := pa.Initialize(); err != nil {
		return nil, classify("initialize", err)
	}
	if _, err := pa.DefaultInputDevice(); err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: no default input device: %w (%w)", audio.ErrDeviceUnavailable, err)
	}

	c.frames = make(chan audio.AudioFrame, c.frameBuffer)
	c.framer = audio.NewFramer(audio.FrameSamples, sampleRate)

	stream, err := pa.OpenDefaultStream(1, 0, float64(sampleRate), audio.FrameSamples, c.process)
	if err != nil {
		_ = pa.Terminate()
		return nil, classify("open input stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, classify("start input stream", err)
	}

	c.stream = stream
	c.opened = true
	slog.Debug("portaudio: capture started", "format", audio.FormatString(sampleRate, 1))
	return c.frames, nil
}

// process is the PortAudio input callback. It runs on the audio thread.
func (c *Capture) process(in []float32) {
	c.framer.Write(in, c.emit)
}

func (c *Capture) emit(f audio.AudioFrame) {
	select {
	case c.frames <- f:
	default:
		c.dropped.Add(1)
		if c.onDrop != nil {
			c.onDrop()
		}
	}
}

// Stop halts the input stream (waiting for an in-flight callback to return),
// releases the device, emits the zero-padded tail frame and closes the frame
// channel. Safe to call more than once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	c.stopped = true
	if !c.opened {
		return nil
	}

	var errs []error
	if err := c.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop input stream: %w", err))
	}
	if err := c.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close input stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}

	c.framer.Flush(c.emit)
	close(c.frames)

	if n := c.dropped.Load(); n > 0 {
		slog.Warn("portaudio: capture dropped frames", "dropped", n)
	}
	return errors.Join(errs...)
}

// Dropped returns the number of frames discarded because the consumer fell
// behind.
func (c *Capture) Dropped() int64 { return c.dropped.Load() }

// classify maps PortAudio errors onto the audio package's taxonomy. Host API
// errors are how macOS and PipeWire report a refused microphone permission.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, pa.InvalidDevice), errors.Is(err, pa.DeviceUnavailable):
		return fmt.Errorf("portaudio: %s: %w (%w)", op, audio.ErrDeviceUnavailable, err)
	case isPermissionError(err):
		return fmt.Errorf("portaudio: %s: %w (%w)", op, audio.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("portaudio: %s: %w (%w)", op, audio.ErrDeviceUnavailable, err)
	}
}

func isPermissionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") ||
		strings.Contains(msg, "denied") ||
		strings.Contains(msg, "unanticipated host error")
}
