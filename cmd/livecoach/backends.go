package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/livecoach/internal/config"
	"github.com/MrWong99/livecoach/pkg/audio"
	"github.com/MrWong99/livecoach/pkg/audio/pipe"
	"github.com/MrWong99/livecoach/pkg/audio/portaudio"
)

// registerBackends makes the built-in audio backends available by name.
func registerBackends(reg *config.Registry) {
	reg.RegisterCapture("portaudio", func(_ config.DeviceConfig, frameBuffer int, onDrop func()) (audio.CaptureSource, error) {
		return portaudio.NewCapture(
			portaudio.WithFrameBuffer(frameBuffer),
			portaudio.WithDropHandler(onDrop),
		), nil
	})
	reg.RegisterPlayback("portaudio", func(_ config.DeviceConfig, sampleRate int) (audio.PlaybackSink, error) {
		s, err := portaudio.OpenSink(sampleRate)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	reg.RegisterCapture("pipe", func(dev config.DeviceConfig, frameBuffer int, onDrop func()) (audio.CaptureSource, error) {
		r, err := openInput(dev.Path)
		if err != nil {
			return nil, err
		}
		return pipe.NewCapture(r, frameBuffer, onDrop), nil
	})
	reg.RegisterPlayback("pipe", func(dev config.DeviceConfig, sampleRate int) (audio.PlaybackSink, error) {
		if isStdio(dev.Path) {
			s, err := pipe.OpenSink(os.Stdout, sampleRate, 0)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		f, err := os.OpenFile(dev.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open playback file %q: %w (%w)", dev.Path, audio.ErrDeviceUnavailable, err)
		}
		s, err := pipe.OpenSink(f, sampleRate, 0)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return &fileSink{Sink: s, f: f}, nil
	})
}

func isStdio(path string) bool { return path == "" || path == "-" }

func openInput(path string) (io.ReadCloser, error) {
	if isStdio(path) {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file %q: %w (%w)", path, audio.ErrDeviceUnavailable, err)
	}
	return f, nil
}

// fileSink closes the output file after the sink has flushed its tail.
type fileSink struct {
	*pipe.Sink
	f *os.File
}

func (s *fileSink) Close() error {
	return errors.Join(s.Sink.Close(), s.f.Close())
}
