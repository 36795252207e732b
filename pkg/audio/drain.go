package audio

// Drain discards values from ch until it is closed, for example the frames
// of a stopped [CaptureSource] or the inbound messages of a transport whose
// content no longer matters.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
