package live

import (
	"fmt"
	"time"
)

// EventKind tags the variant held by an [Event].
type EventKind int

const (
	// EventUnknown is a message with no recognised payload (usage metadata,
	// tool calls, input transcriptions, empty objects). Consumers ignore it.
	EventUnknown EventKind = iota

	// EventOpened: the endpoint acknowledged the session setup.
	EventOpened

	// EventTextDelta: a fragment of the model's text or spoken-answer
	// transcription. Text is set.
	EventTextDelta

	// EventAudioDelta: a fragment of synthesised speech. Samples and
	// SampleRate are set.
	EventAudioDelta

	// EventTurnComplete: the model finished its turn.
	EventTurnComplete

	// EventInterrupted: the model's turn was cut short by user speech;
	// queued speech should be discarded.
	EventInterrupted

	// EventGoAway: the endpoint will close the session soon. TimeLeft is set
	// when the endpoint reported it.
	EventGoAway

	// EventClosed: the session was closed locally. Reason is set.
	EventClosed

	// EventError: the session failed or the endpoint reported an error.
	// Err is set.
	EventError
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventUnknown:
		return "UNKNOWN"
	case EventOpened:
		return "OPENED"
	case EventTextDelta:
		return "TEXT_DELTA"
	case EventAudioDelta:
		return "AUDIO_DELTA"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventGoAway:
		return "GO_AWAY"
	case EventClosed:
		return "CLOSED"
	case EventError:
		return "ERROR"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one decoded inbound event. Only the fields documented for Kind
// are meaningful.
type Event struct {
	Kind EventKind

	// Text is the text fragment of an EventTextDelta.
	Text string

	// Samples holds the decoded mono speech of an EventAudioDelta, normalised
	// to [-1, 1].
	Samples []float32

	// SampleRate is the declared rate of an EventAudioDelta.
	SampleRate int

	// TimeLeft is the remaining session time of an EventGoAway.
	TimeLeft time.Duration

	// Reason is the close reason of an EventClosed.
	Reason string

	// Err is the cause of an EventError.
	Err error
}

// TextDelta returns an EventTextDelta.
func TextDelta(text string) Event { return Event{Kind: EventTextDelta, Text: text} }

// AudioDelta returns an EventAudioDelta.
func AudioDelta(samples []float32, sampleRate int) Event {
	return Event{Kind: EventAudioDelta, Samples: samples, SampleRate: sampleRate}
}

// Opened returns an EventOpened.
func Opened() Event { return Event{Kind: EventOpened} }

// Closed returns an EventClosed.
func Closed(reason string) Event { return Event{Kind: EventClosed, Reason: reason} }

// Failed returns an EventError.
func Failed(err error) Event { return Event{Kind: EventError, Err: err} }
