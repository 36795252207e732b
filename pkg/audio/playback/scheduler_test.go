package playback_test

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/livecoach/pkg/audio"
	"github.com/MrWong99/livecoach/pkg/audio/mock"
	"github.com/MrWong99/livecoach/pkg/audio/playback"
)

const rate = audio.PlaybackSampleRate

// seconds returns silence lasting d at the playback rate.
func seconds(d time.Duration) []float32 {
	return make([]float32, int(int64(d)*rate/int64(time.Second)))
}

func TestSchedule_BackToBack(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	s := playback.New(sink)

	durations := []time.Duration{500 * time.Millisecond, 300 * time.Millisecond, 700 * time.Millisecond}
	wantStarts := []time.Duration{0, 500 * time.Millisecond, 800 * time.Millisecond}

	for i, d := range durations {
		buf, err := s.Schedule(seconds(d), rate)
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if buf.Start != wantStarts[i] {
			t.Errorf("buffer %d start = %v, want %v", i, buf.Start, wantStarts[i])
		}
	}
	if got := s.NextAvailable(); got != 1500*time.Millisecond {
		t.Errorf("NextAvailable() = %v, want 1.5s", got)
	}

	calls := sink.ScheduledCalls()
	if len(calls) != 3 {
		t.Fatalf("sink received %d buffers, want 3", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if calls[i].Start != calls[i-1].End() {
			t.Errorf("gap or overlap between buffer %d (%v) and %d (%v)", i-1, calls[i-1].End(), i, calls[i].Start)
		}
	}
}

func TestSchedule_LateArrivalStartsNow(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	s := playback.New(sink)

	if _, err := s.Schedule(seconds(200*time.Millisecond), rate); err != nil {
		t.Fatal(err)
	}
	// The first buffer finished long ago; network stalled.
	sink.SetNow(time.Second)

	buf, err := s.Schedule(seconds(100*time.Millisecond), rate)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Start != time.Second {
		t.Errorf("late buffer start = %v, want 1s (now)", buf.Start)
	}
	if buf.Start < 200*time.Millisecond {
		t.Error("late buffer overlaps its predecessor")
	}
}

func TestSchedule_StartsAtSinkClock(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	sink.SetNow(3 * time.Second)
	s := playback.New(sink)

	buf, err := s.Schedule(seconds(100*time.Millisecond), rate)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Start != 3*time.Second {
		t.Errorf("start = %v, want 3s", buf.Start)
	}
}

func TestSchedule_NeverOverlaps(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	s := playback.New(sink)

	var prevEnd time.Duration
	for i := range 50 {
		// Jittery arrival: clock advances irregularly between deltas.
		sink.Advance(time.Duration(i%7) * 37 * time.Millisecond)
		buf, err := s.Schedule(seconds(time.Duration(20+i%5*40)*time.Millisecond), rate)
		if err != nil {
			t.Fatal(err)
		}
		if buf.Start < prevEnd {
			t.Fatalf("buffer %d starts at %v before previous end %v", i, buf.Start, prevEnd)
		}
		if buf.Start < sink.Now() {
			t.Fatalf("buffer %d starts in the past", i)
		}
		prevEnd = buf.End()
	}
}

func TestSchedule_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	s := playback.New(sink)

	if _, err := s.Schedule(nil, rate); err != nil {
		t.Fatal(err)
	}
	if len(sink.ScheduledCalls()) != 0 {
		t.Error("empty buffer reached the sink")
	}
	if s.NextAvailable() != 0 {
		t.Errorf("NextAvailable() = %v, want 0", s.NextAvailable())
	}
}

func TestSchedule_SinkErrorKeepsCursor(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{ScheduleError: errors.New("device gone")}
	s := playback.New(sink)

	if _, err := s.Schedule(seconds(time.Second), rate); err == nil {
		t.Fatal("expected error")
	}
	if s.NextAvailable() != 0 {
		t.Errorf("cursor advanced on failure: %v", s.NextAvailable())
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	s := playback.New(sink)

	for range 3 {
		if _, err := s.Schedule(seconds(time.Second), rate); err != nil {
			t.Fatal(err)
		}
	}
	sink.SetNow(500 * time.Millisecond)
	if got := s.QueueDepth(); got != 2500*time.Millisecond {
		t.Errorf("QueueDepth() = %v, want 2.5s", got)
	}

	s.Reset()

	if sink.Flushes() != 1 {
		t.Errorf("sink flushed %d times, want 1", sink.Flushes())
	}
	if got := s.NextAvailable(); got != 500*time.Millisecond {
		t.Errorf("NextAvailable() after Reset = %v, want 500ms", got)
	}
	if s.QueueDepth() != 0 {
		t.Errorf("QueueDepth() after Reset = %v, want 0", s.QueueDepth())
	}

	buf, _ := s.Schedule(seconds(100*time.Millisecond), rate)
	if buf.Start != 500*time.Millisecond {
		t.Errorf("first buffer after Reset starts at %v, want 500ms", buf.Start)
	}
}

func TestScheduler_WithTimeline(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(rate)
	s := playback.New(tl)

	first := make([]float32, 480)
	for i := range first {
		first[i] = 0.5
	}
	if _, err := s.Schedule(first, rate); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule(first, rate); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 960)
	tl.Render(out)
	for i, v := range out {
		if v != 0.5 {
			t.Fatalf("sample %d = %v, want continuous 0.5", i, v)
		}
	}
}

func TestScheduler_WithTimeline_UnalignedLengths(t *testing.T) {
	t.Parallel()

	// 1000 and 1001 samples at 24 kHz are not whole nanoseconds long.
	tl := audio.NewTimeline(rate)
	s := playback.New(tl)
	lengths := []int{1000, 1001, 1000}
	for _, n := range lengths {
		buf := make([]float32, n)
		for i := range buf {
			buf[i] = 0.5
		}
		if _, err := s.Schedule(buf, rate); err != nil {
			t.Fatal(err)
		}
	}

	out := make([]float32, 3001+10)
	tl.Render(out)
	for i := range 3001 {
		if out[i] != 0.5 {
			t.Fatalf("sample %d = %v, want 0.5", i, out[i])
		}
	}
	for i := 3001; i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("sample %d = %v after the last buffer, want silence", i, out[i])
		}
	}
}

func TestScheduler_WithTimeline_EverySampleFromOneBuffer(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	for round := range 20 {
		tl := audio.NewTimeline(rate)
		s := playback.New(tl)

		// Each buffer carries its own value; a sum of two would not match.
		var owner []float32
		for b := range 40 {
			n := 1 + rng.IntN(2500)
			v := float32(b+1) / 64
			buf := make([]float32, n)
			for i := range buf {
				buf[i] = v
				owner = append(owner, v)
			}
			if _, err := s.Schedule(buf, rate); err != nil {
				t.Fatal(err)
			}
		}

		out := make([]float32, len(owner))
		// Render in device-sized blocks that do not line up with buffers.
		for off := 0; off < len(out); off += 960 {
			tl.Render(out[off:min(off+960, len(out))])
		}
		for i, want := range owner {
			if out[i] != want {
				t.Fatalf("round %d: sample %d = %v, want %v", round, i, out[i], want)
			}
		}
		if tl.Buffered() != 0 {
			t.Fatalf("round %d: %v left after rendering every scheduled sample", round, tl.Buffered())
		}
	}
}

func TestSchedule_StartsNeverBeforeUnalignedClock(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	// 10ns is a fraction of one 24 kHz sample.
	sink.SetNow(10 * time.Nanosecond)
	s := playback.New(sink)

	buf, err := s.Schedule(seconds(10*time.Millisecond), rate)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Start < 10*time.Nanosecond {
		t.Errorf("start = %v, before the clock", buf.Start)
	}
	if want := audio.SampleTime(1, rate); buf.Start != want {
		t.Errorf("start = %v, want the next sample boundary %v", buf.Start, want)
	}
}
