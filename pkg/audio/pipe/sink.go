package pipe

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livecoach/pkg/audio"
)

// Compile-time assertion that Sink satisfies audio.PlaybackSink.
var _ audio.PlaybackSink = (*Sink)(nil)

// defaultPeriod is the render period of the pacing loop.
const defaultPeriod = 20 * time.Millisecond

// Sink renders the scheduled timeline as PCM16LE mono and writes it to an
// [io.Writer] in real time, including silence between utterances, so that a
// downstream player sees a continuous stream. The writer is not closed by
// the sink.
type Sink struct {
	*audio.Timeline

	w      io.Writer
	period time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	writeErr  error
}

// OpenSink starts rendering to w at sampleRate. A period of zero uses 20ms.
func OpenSink(w io.Writer, sampleRate int, period time.Duration) (*Sink, error) {
	if w == nil {
		return nil, fmt.Errorf("pipe: no output stream: %w", audio.ErrDeviceUnavailable)
	}
	if period <= 0 {
		period = defaultPeriod
	}
	s := &Sink{
		Timeline: audio.NewTimeline(sampleRate),
		w:        w,
		period:   period,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.renderLoop()
	return s, nil
}

func (s *Sink) renderLoop() {
	defer close(s.done)

	rate := s.Timeline.SampleRate()
	block := make([]float32, int(int64(rate)*int64(s.period)/int64(time.Second)))
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Timeline.Render(block)
			if _, err := s.w.Write(audio.EncodePCM16(audio.AudioFrame{Samples: block})); err != nil {
				s.writeErr = err
				slog.Warn("pipe: playback write failed; stopping output", "err", err)
				return
			}
		}
	}
}

// Close stops the render loop and releases the timeline. Idempotent.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		_ = s.Timeline.Close()
	})
	if s.writeErr != nil {
		return fmt.Errorf("pipe: write output: %w", s.writeErr)
	}
	return nil
}
