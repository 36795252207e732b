// Package audio defines the interfaces and types for microphone capture and
// speaker playback within livecoach.
//
// The two primary abstractions are:
//
//   - [CaptureSource] acquires an input device and yields fixed-size
//     [AudioFrame] values until stopped.
//   - [PlaybackSink] is an output device with its own clock onto which decoded
//     [PlaybackBuffer] values are scheduled.
//
// Implementations are provided by device-specific adapter packages
// (audio/portaudio, audio/pipe) and by audio/mock for tests. The interfaces
// are intentionally narrow so the session controller never touches hardware
// directly.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned by [CaptureSource.Open] when access to
	// the input device was refused by the operating system or the user.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable is returned when no usable audio device exists.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrCaptureStopped is returned by [CaptureSource.Open] after the source
	// has been stopped. Sources are single-use.
	ErrCaptureStopped = errors.New("audio: capture source already stopped")

	// ErrSinkClosed is returned by [PlaybackSink.Schedule] after Close.
	ErrSinkClosed = errors.New("audio: playback sink closed")
)

// CaptureSource is a single-use microphone capture handle.
//
// Open acquires the device and returns a channel that yields frames of
// exactly [FrameSamples] samples at the requested rate. The channel is
// closed after Stop, once the last (zero-padded) frame has been delivered.
//
// The device callback must never block: when the consumer falls behind,
// frames are dropped rather than queued without bound.
//
// Implementations must be safe for concurrent use.
type CaptureSource interface {
	// Open acquires the input device. It fails with an error wrapping
	// [ErrPermissionDenied] or [ErrDeviceUnavailable] before any frame is
	// produced. Calling Open after Stop returns [ErrCaptureStopped].
	Open(ctx context.Context, sampleRate int) (<-chan AudioFrame, error)

	// Stop halts the capture callback and only then releases the device
	// handle. It is safe to call Stop more than once and before Open.
	Stop() error
}

// PlaybackSink is an output device with a monotonic output clock.
//
// Implementations must be safe for concurrent use, although livecoach only
// ever schedules from a single goroutine.
type PlaybackSink interface {
	// Now returns the current output clock, i.e. how much audio the device
	// has rendered since it was opened.
	Now() time.Duration

	// Schedule queues buf to start playing at buf.Start on the output clock.
	// Buffers whose start lies in the past begin immediately.
	Schedule(buf PlaybackBuffer) error

	// Flush discards every scheduled buffer that has not finished playing.
	Flush()

	// Close releases the output device. Subsequent Schedule calls return
	// [ErrSinkClosed]. Calling Close more than once is safe.
	Close() error
}
