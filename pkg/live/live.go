// Package live implements the bidirectional streaming transport to the
// Gemini Live (BidiGenerateContent) endpoint and the decoder that turns its
// JSON messages into typed [Event] values.
//
// A [Client] dials sessions. Each [Session] owns one WebSocket connection and
// is a small state machine:
//
//	Connecting → Open → Closing → Closed
//	     any state → Failed
//
// Connecting covers the dial and the setup handshake inside [Client.Dial];
// a failure there is returned by Dial and no Session exists. A Session is
// therefore first observed in Open.
//
// Outbound audio is queued with [Session.Send] and written by a single writer
// goroutine, so chunks reach the endpoint in the order they were sent. Raw
// inbound messages are surfaced on [Session.Inbound] in arrival order and are
// decoded by a [Decoder] on the consumer side.
//
// The [Transport] and [Dialer] interfaces exist so that callers can be tested
// with the in-memory doubles in live/mock.
package live

import (
	"context"
	"fmt"
)

// State is the lifecycle state of a [Session].
type State int

const (
	// StateConnecting: the WebSocket is being dialled or the setup handshake
	// is in flight. Only [Client.Dial] is in this state; State never
	// returns it for a dialed Session.
	StateConnecting State = iota

	// StateOpen: setup completed; audio may be sent.
	StateOpen

	// StateClosing: Close was called and teardown is in progress.
	StateClosing

	// StateClosed: the session was closed locally. Terminal.
	StateClosed

	// StateFailed: the connection broke or the endpoint reported a fatal
	// error. Terminal.
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// SessionConfig is the per-session configuration sent in the setup message.
type SessionConfig struct {
	// Voice is the prebuilt voice name (e.g. "Kore"). Empty uses the model
	// default.
	Voice string

	// Instructions is the system instruction defining the consultant persona.
	Instructions string

	// TranscribeOutput asks the endpoint to stream a text transcription of
	// its spoken answer alongside the audio.
	TranscribeOutput bool
}

// Transport is an open bidirectional session as seen by its consumer.
// All methods must be safe for concurrent use.
type Transport interface {
	// State returns the current lifecycle state.
	State() State

	// Send enqueues one encoded audio chunk for delivery. On a session that
	// is not Open the chunk is dropped. It never blocks and reports whether
	// the chunk was queued.
	Send(chunk []byte) bool

	// Inbound returns the channel of raw inbound messages in arrival order.
	// It is closed when the session ends for any reason.
	Inbound() <-chan []byte

	// Err returns the [*TransportError] that ended the session, or nil if it
	// was closed locally or is still running.
	Err() error

	// CloseReason returns the reason recorded by a local Close.
	CloseReason() string

	// Close ends the session. It is idempotent and safe to call concurrently
	// with Send.
	Close() error
}

// Dialer opens new sessions.
type Dialer interface {
	// Dial connects and completes the setup handshake. The returned
	// Transport is Open. Failures are reported as [*ConnectionError].
	Dial(ctx context.Context, cfg SessionConfig) (Transport, error)
}

// ConnectionError reports a failure to establish a session: dial, TLS,
// handshake or setup rejection.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("live: connect: %s: %v", e.Op, e.Err) }

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a failure after the session reached Open.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("live: transport: %v", e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a malformed inbound message or fragment. It is always
// recoverable: only the offending fragment is dropped.
type DecodeError struct {
	// Fragment names what failed to decode ("message", "inlineData", ...).
	Fragment string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("live: decode %s: %v", e.Fragment, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ServerError is an error reported by the endpoint inside a message.
type ServerError struct {
	Code    int
	Message string
	Status  string
}

func (e *ServerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Sprintf("live: server error %d (%s): %s", e.Code, e.Status, msg)
	}
	return fmt.Sprintf("live: server error %d: %s", e.Code, msg)
}
