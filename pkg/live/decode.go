package live

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/livecoach/pkg/audio"
)

// Decoder maps raw inbound messages to [Event] values and decodes inline
// audio into float samples. It keeps no per-message state and may be reused
// for the lifetime of a session.
type Decoder struct {
	// SampleRate is the expected output rate. Audio declared at a different
	// rate is passed through unchanged (with a one-time warning); the
	// endpoint is trusted to emit what it declares. Defaults to
	// [audio.PlaybackSampleRate].
	SampleRate int

	warnedRate sync.Once
}

// Decode maps one raw message to its events, in wire order: lifecycle
// events first, then an interruption, then one event per model-turn
// fragment, then the output transcription and turn completion. The result
// is one event per recognised fragment, so a single message can yield
// several events.
//
// A message that is not valid JSON yields no events and a [*DecodeError]. A
// malformed fragment inside an otherwise valid message is dropped on its own
// and reported as a [*DecodeError]; the remaining events are still
// returned. A message with no recognised payload yields a single
// EventUnknown.
func (d *Decoder) Decode(raw []byte) ([]Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &DecodeError{Fragment: "message", Err: err}
	}

	var (
		events []Event
		errs   []error
	)

	if msg.SetupComplete != nil {
		events = append(events, Opened())
	}
	if msg.Error != nil {
		events = append(events, Failed(&ServerError{
			Code:    msg.Error.Code,
			Message: msg.Error.Message,
			Status:  msg.Error.Status,
		}))
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			events = append(events, Event{Kind: EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for i, p := range sc.ModelTurn.Parts {
				if p.Text != "" && !p.Thought {
					events = append(events, TextDelta(p.Text))
				}
				if p.InlineData != nil {
					ev, err := d.decodeInline(p.InlineData)
					if err != nil {
						errs = append(errs, &DecodeError{
							Fragment: fmt.Sprintf("modelTurn.parts[%d].inlineData", i),
							Err:      err,
						})
						continue
					}
					events = append(events, ev)
				}
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, TextDelta(sc.OutputTranscription.Text))
		}
		if sc.TurnComplete {
			events = append(events, Event{Kind: EventTurnComplete})
		}
	}

	if msg.GoAway != nil {
		ev := Event{Kind: EventGoAway}
		if msg.GoAway.TimeLeft != "" {
			left, err := time.ParseDuration(msg.GoAway.TimeLeft)
			if err != nil {
				errs = append(errs, &DecodeError{Fragment: "goAway.timeLeft", Err: err})
			} else {
				ev.TimeLeft = left
			}
		}
		events = append(events, ev)
	}

	if len(events) == 0 && len(errs) == 0 {
		events = append(events, Event{Kind: EventUnknown})
	}
	return events, errors.Join(errs...)
}

// decodeInline turns one inlineData fragment into an EventAudioDelta.
func (d *Decoder) decodeInline(in *inlineData) (Event, error) {
	rate, err := d.parseRate(in.MIMEType)
	if err != nil {
		return Event{}, err
	}
	pcm, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return Event{}, fmt.Errorf("base64: %w", err)
	}
	if len(pcm) == 0 {
		return Event{}, errors.New("empty audio payload")
	}
	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		return Event{}, err
	}
	return AudioDelta(samples, rate), nil
}

// parseRate validates an "audio/pcm;rate=N" media type and returns N,
// falling back to the expected rate when the parameter is absent.
func (d *Decoder) parseRate(mimeType string) (int, error) {
	expected := d.SampleRate
	if expected <= 0 {
		expected = audio.PlaybackSampleRate
	}
	if mimeType == "" {
		return expected, nil
	}
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, fmt.Errorf("mime type %q: %w", mimeType, err)
	}
	if mediaType != "audio/pcm" {
		return 0, fmt.Errorf("unsupported mime type %q", mediaType)
	}
	r, ok := params["rate"]
	if !ok {
		return expected, nil
	}
	rate, err := strconv.Atoi(r)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("invalid rate %q", r)
	}
	if rate != expected {
		d.warnedRate.Do(func() {
			slog.Warn("live: audio rate differs from playback rate; playing as declared",
				"declared", rate,
				"expected", expected,
			)
		})
	}
	return rate, nil
}

// Terminal returns the event describing how t ended: EventError with the
// transport error when it failed, EventClosed otherwise.
func Terminal(t Transport) Event {
	if err := t.Err(); err != nil {
		return Failed(err)
	}
	return Closed(t.CloseReason())
}
