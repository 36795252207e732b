package audio

import "time"

const (
	// CaptureSampleRate is the microphone sample rate expected by the live
	// endpoint (16 kHz mono).
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the sample rate of synthesised speech returned by
	// the live endpoint (24 kHz mono).
	PlaybackSampleRate = 24000

	// FrameSamples is the fixed number of samples carried by every captured
	// [AudioFrame].
	FrameSamples = 4096
)

// AudioFrame represents a single frame of captured audio flowing through the
// pipeline. Frames are the atomic unit of outbound audio: produced by a
// [CaptureSource], encoded by [EncodePCM16] and sent to the live endpoint.
type AudioFrame struct {
	// Samples holds normalised float samples in the range [-1, 1].
	// Its length is always [FrameSamples]; the tail frame emitted when
	// capture stops is zero-padded to that length.
	Samples []float32

	// SampleRate in Hz (16000 for capture).
	SampleRate int

	// Channels: always 1 (mono).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return samplesDuration(len(f.Samples), f.SampleRate)
}

// PlaybackBuffer is a decoded block of synthesised speech together with the
// output-clock time at which it must start playing.
type PlaybackBuffer struct {
	// Samples holds mono float samples in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (24000 for playback).
	SampleRate int

	// Start is the scheduled start time on the sink's output clock.
	Start time.Duration
}

// Duration returns the playback length of the buffer.
func (b PlaybackBuffer) Duration() time.Duration {
	return samplesDuration(len(b.Samples), b.SampleRate)
}

// End returns the output-clock time at which the buffer finishes playing.
// It is computed on the sample grid, so a buffer scheduled right behind this
// one starts exactly at End.
func (b PlaybackBuffer) End() time.Duration {
	if b.SampleRate <= 0 {
		return b.Start
	}
	return SampleTime(SampleIndex(b.Start, b.SampleRate)+int64(len(b.Samples)), b.SampleRate)
}

// SampleIndex converts an output-clock time into a sample index at rate Hz,
// rounded to the nearest sample. It inverts the truncating conversion used
// by [PlaybackBuffer.Start] and [PlaybackBuffer.Duration] exactly.
func SampleIndex(d time.Duration, rate int) int64 {
	if rate <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}

// SampleTime returns the output-clock time of sample n at rate Hz.
func SampleTime(n int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / int64(rate))
}

// samplesDuration converts a sample count at rate Hz into a duration without
// accumulating floating point error.
func samplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
