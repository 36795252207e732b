// Package pipe implements [audio.CaptureSource] and [audio.PlaybackSink] over
// raw 16-bit little-endian PCM byte streams. It lets livecoach run against
// external recorders and players, for example:
//
//	arecord -q -f S16_LE -r 16000 -c 1 | livecoach consult --capture pipe --playback pipe | aplay -q -f S16_LE -r 24000 -c 1
package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/livecoach/pkg/audio"
)

// Compile-time assertion that Capture satisfies audio.CaptureSource.
var _ audio.CaptureSource = (*Capture)(nil)

// readSamples is the read block size; the framer re-blocks into full frames.
const readSamples = 1024

// stopGrace bounds how long Stop waits for a pending read to return.
const stopGrace = 200 * time.Millisecond

// Capture reads PCM16LE mono audio from an [io.ReadCloser]. The reader is
// expected to deliver audio in real time (a recorder process or a device
// file). Stop closes the reader and waits at most [stopGrace] for the read
// goroutine, so a read that Close cannot interrupt does not block shutdown.
type Capture struct {
	r           io.ReadCloser
	frameBuffer int
	onDrop      func()

	mu      sync.Mutex
	frames  chan audio.AudioFrame
	framer  *audio.Framer
	opened  bool
	stopped bool
	dropped int64
	done    chan struct{}
}

// NewCapture returns a Capture reading from r. frameBuffer bounds the number
// of frames waiting for the consumer; onDrop (may be nil) is called for each
// frame discarded because the consumer fell behind.
func NewCapture(r io.ReadCloser, frameBuffer int, onDrop func()) *Capture {
	if frameBuffer <= 0 {
		frameBuffer = 8
	}
	return &Capture{r: r, frameBuffer: frameBuffer, onDrop: onDrop}
}

// Open starts the read loop. A nil reader is reported as
// [audio.ErrDeviceUnavailable].
func (c *Capture) Open(_ context.Context, sampleRate int) (<-chan audio.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, audio.ErrCaptureStopped
	}
	if c.opened {
		return nil, fmt.Errorf("pipe: capture already open")
	}
	if c.r == nil {
		return nil, fmt.Errorf("pipe: no input stream: %w", audio.ErrDeviceUnavailable)
	}

	c.frames = make(chan audio.AudioFrame, c.frameBuffer)
	c.framer = audio.NewFramer(audio.FrameSamples, sampleRate)
	c.opened = true
	c.done = make(chan struct{})
	go c.readLoop()
	return c.frames, nil
}

func (c *Capture) readLoop() {
	defer close(c.done)
	block := make([]byte, readSamples*2)
	have := 0
	for {
		n, err := c.r.Read(block[have:])
		have += n

		c.mu.Lock()
		if c.stopped {
			// Stop already flushed and closed the channel; late audio is
			// discarded.
			c.mu.Unlock()
			return
		}
		if whole := have &^ 1; whole > 0 {
			samples, _ := audio.DecodePCM16(block[:whole])
			c.framer.Write(samples, c.emit)
			// An odd trailing byte waits for its partner.
			copy(block, block[whole:have])
			have -= whole
		}
		c.mu.Unlock()

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				slog.Warn("pipe: capture read failed", "err", err)
			}
			return
		}
	}
}

// emit must be called with c.mu held.
func (c *Capture) emit(f audio.AudioFrame) {
	select {
	case c.frames <- f:
	default:
		c.dropped++
		if c.onDrop != nil {
			c.onDrop()
		}
	}
}

// Stop closes the reader, waits up to [stopGrace] for the read goroutine,
// then emits the zero-padded tail frame and closes the frame channel. Audio
// read after that is dropped. A blocking pipe whose writer has gone quiet
// does not always return from a read on Close, so Stop never waits longer.
// Safe to call more than once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	done := c.done
	c.mu.Unlock()

	var closeErr error
	if c.r != nil {
		if err := c.r.Close(); err != nil {
			closeErr = fmt.Errorf("pipe: close input: %w", err)
		}
	}
	if done != nil {
		t := time.NewTimer(stopGrace)
		select {
		case <-done:
		case <-t.C:
			slog.Warn("pipe: capture read still pending after close, detaching")
		}
		t.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return closeErr
	}
	c.stopped = true
	if c.opened {
		c.framer.Flush(c.emit)
		close(c.frames)
		if c.dropped > 0 {
			slog.Warn("pipe: capture dropped frames", "dropped", c.dropped)
		}
	}
	return closeErr
}
