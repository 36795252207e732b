package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/livecoach/pkg/audio"
)

func collectFrames(out *[]audio.AudioFrame) func(audio.AudioFrame) {
	return func(f audio.AudioFrame) { *out = append(*out, f) }
}

func TestFramer_FixedSizeFrames(t *testing.T) {
	var frames []audio.AudioFrame
	f := audio.NewFramer(4, 16000)

	// Device callbacks rarely match the frame size.
	f.Write([]float32{1, 2, 3}, collectFrames(&frames))
	f.Write([]float32{4, 5, 6, 7, 8, 9}, collectFrames(&frames))

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	for i, want := range [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}} {
		got := frames[i].Samples
		if len(got) != 4 {
			t.Fatalf("frame %d: len %d, want 4", i, len(got))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("frame %d sample %d: got %v, want %v", i, j, got[j], want[j])
			}
		}
		if frames[i].SampleRate != 16000 || frames[i].Channels != 1 {
			t.Errorf("frame %d format = %d/%d, want 16000/1", i, frames[i].SampleRate, frames[i].Channels)
		}
	}
	if got := f.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
}

func TestFramer_Timestamps(t *testing.T) {
	var frames []audio.AudioFrame
	f := audio.NewFramer(audio.FrameSamples, audio.CaptureSampleRate)
	f.Write(make([]float32, 3*audio.FrameSamples), collectFrames(&frames))

	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	step := 256 * time.Millisecond // 4096 / 16000
	for i, fr := range frames {
		if want := time.Duration(i) * step; fr.Timestamp != want {
			t.Errorf("frame %d timestamp = %v, want %v", i, fr.Timestamp, want)
		}
		if fr.Duration() != step {
			t.Errorf("frame %d duration = %v, want %v", i, fr.Duration(), step)
		}
	}
}

func TestFramer_FlushZeroPads(t *testing.T) {
	var frames []audio.AudioFrame
	f := audio.NewFramer(4, 16000)
	f.Write([]float32{0.5, 0.25}, collectFrames(&frames))

	if !f.Flush(collectFrames(&frames)) {
		t.Fatal("Flush() = false, want true with pending samples")
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	want := []float32{0.5, 0.25, 0, 0}
	for i := range want {
		if frames[0].Samples[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, frames[0].Samples[i], want[i])
		}
	}
	if f.Flush(collectFrames(&frames)) {
		t.Error("second Flush() = true, want false")
	}
}

func TestFramer_CopiesInput(t *testing.T) {
	var frames []audio.AudioFrame
	f := audio.NewFramer(2, 16000)
	in := []float32{1, 2}
	f.Write(in, collectFrames(&frames))
	in[0] = 9

	if frames[0].Samples[0] != 1 {
		t.Error("frame aliases the caller's buffer")
	}
}

func TestFramer_DefaultSize(t *testing.T) {
	var frames []audio.AudioFrame
	f := audio.NewFramer(0, 16000)
	f.Write(make([]float32, audio.FrameSamples), collectFrames(&frames))
	if len(frames) != 1 || len(frames[0].Samples) != audio.FrameSamples {
		t.Errorf("default framer did not produce one %d-sample frame", audio.FrameSamples)
	}
}
