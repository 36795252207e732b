package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/livecoach/pkg/audio"
	pa "github.com/gordonklaus/portaudio"
)

// Compile-time assertion that Sink satisfies audio.PlaybackSink.
var _ audio.PlaybackSink = (*Sink)(nil)

// outputFramesPerBuffer keeps output latency around 40ms at 24 kHz.
const outputFramesPerBuffer = 960

// Sink plays scheduled buffers on the default output device. The output
// clock is the embedded [audio.Timeline], advanced by the device callback.
type Sink struct {
	*audio.Timeline

	stream    *pa.Stream
	closeOnce sync.Once
	closeErr  error
}

// OpenSink opens the default output device at sampleRate (mono) and starts
// rendering silence until buffers are scheduled.
func OpenSink(sampleRate int) (*Sink, error) {
	if err := pa.Initialize(); err != nil {
		return nil, classify("initialize", err)
	}
	if _, err := pa.DefaultOutputDevice(); err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: no default output device: %w (%w)", audio.ErrDeviceUnavailable, err)
	}

	s := &Sink{Timeline: audio.NewTimeline(sampleRate)}
	stream, err := pa.OpenDefaultStream(0, 1, float64(sampleRate), outputFramesPerBuffer, s.Timeline.Render)
	if err != nil {
		_ = pa.Terminate()
		return nil, classify("open output stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, classify("start output stream", err)
	}
	s.stream = stream
	return s, nil
}

// Close stops the output stream and releases the device. Idempotent.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		_ = s.Timeline.Close()
		var errs []error
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop output stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close output stream: %w", err))
		}
		if err := pa.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
