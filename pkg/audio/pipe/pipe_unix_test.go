//go:build unix

package pipe_test

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/MrWong99/livecoach/pkg/audio"
	"github.com/MrWong99/livecoach/pkg/audio/pipe"
)

func TestCapture_StopWithSilentBlockingPipe(t *testing.T) {
	t.Parallel()

	// A raw pipe fd stays in blocking mode, like a recorder on stdin, so
	// closing it does not interrupt the pending read.
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		t.Skipf("pipe: %v", err)
	}
	w := os.NewFile(uintptr(fds[1]), "recorder-w")
	t.Cleanup(func() { _ = w.Close() })
	r := os.NewFile(uintptr(fds[0]), "recorder-r")

	c := pipe.NewCapture(r, 4, nil)
	frames, err := c.Open(context.Background(), audio.CaptureSampleRate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Some audio, then the writer goes quiet while staying open.
	if _, err := w.Write(audio.EncodePCM16(audio.AudioFrame{Samples: make([]float32, 10)})); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on a silent pipe")
	}

	var n int
	for f := range frames {
		n++
		if len(f.Samples) != audio.FrameSamples {
			t.Errorf("tail frame len = %d", len(f.Samples))
		}
	}
	if n != 1 {
		t.Errorf("frames after Stop = %d, want the padded tail only", n)
	}
}
