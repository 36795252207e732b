// Package mock provides test doubles for the live package interfaces.
//
// Use Dialer to verify Dial calls and hand out a controlled Transport. Use
// Transport to inject inbound messages, simulate failures and inspect which
// chunks were sent.
//
// Example:
//
//	tr := mock.NewTransport()
//	d := &mock.Dialer{Transport: tr}
//	t, _ := d.Dial(ctx, live.SessionConfig{})
//	tr.Push([]byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"hi"}]}}}`))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livecoach/pkg/live"
)

// Compile-time interface assertions.
var (
	_ live.Dialer    = (*Dialer)(nil)
	_ live.Transport = (*Transport)(nil)
)

// SetupComplete is the acknowledgement a real session replays first.
var SetupComplete = []byte(`{"setupComplete":{}}`)

// ─── Transport ────────────────────────────────────────────────────────────────

// Transport is an in-memory [live.Transport]. It starts Open with the
// setupComplete acknowledgement already queued on Inbound.
type Transport struct {
	mu sync.Mutex

	inbound     chan []byte
	state       live.State
	err         error
	closeReason string
	inboundDone bool

	// SendResult overrides the result of Send while Open when non-nil.
	SendResult *bool

	// Sent records every chunk accepted by Send, in order.
	Sent [][]byte

	// CallCountSend records how many times Send was called.
	CallCountSend int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewTransport returns an Open Transport with a 64-message inbound buffer.
func NewTransport() *Transport {
	t := &Transport{
		inbound: make(chan []byte, 64),
		state:   live.StateOpen,
	}
	t.inbound <- SetupComplete
	return t
}

// State implements [live.Transport].
func (t *Transport) State() live.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Send implements [live.Transport]. Chunks are recorded only while Open.
func (t *Transport) Send(chunk []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountSend++
	if t.state != live.StateOpen {
		return false
	}
	if t.SendResult != nil && !*t.SendResult {
		return false
	}
	t.Sent = append(t.Sent, chunk)
	return true
}

// Inbound implements [live.Transport].
func (t *Transport) Inbound() <-chan []byte { return t.inbound }

// Err implements [live.Transport].
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// CloseReason implements [live.Transport].
func (t *Transport) CloseReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeReason
}

// Close implements [live.Transport]. Records the call; only the first call
// on an Open transport changes state.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountClose++
	if t.state != live.StateOpen {
		return nil
	}
	t.state = live.StateClosed
	t.closeReason = "session closed"
	t.closeInboundLocked()
	return nil
}

// Push delivers a raw inbound message. It is a no-op once the inbound
// channel has been closed.
func (t *Transport) Push(raw []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inboundDone {
		return
	}
	t.inbound <- raw
}

// Fail simulates a post-open transport failure: the state becomes Failed,
// Err returns a [*live.TransportError] wrapping err and Inbound is closed.
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != live.StateOpen {
		return
	}
	t.state = live.StateFailed
	t.err = &live.TransportError{Err: err}
	t.closeInboundLocked()
}

func (t *Transport) closeInboundLocked() {
	if !t.inboundDone {
		t.inboundDone = true
		close(t.inbound)
	}
}

// SentChunks returns a snapshot of the chunks sent so far.
func (t *Transport) SentChunks() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.Sent))
	copy(out, t.Sent)
	return out
}

// Closes returns how many times Close was called.
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CallCountClose
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	// Ctx is the context passed to Dial.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Dial.
	Cfg live.SessionConfig
}

// Dialer is a mock implementation of [live.Dialer].
type Dialer struct {
	mu sync.Mutex

	// Transport is returned by Dial. If nil, Dial returns a new Transport.
	Transport *Transport

	// DialErr, if non-nil, is returned from Dial wrapped in a
	// [*live.ConnectionError].
	DialErr error

	// Gate, if non-nil, makes Dial block until Gate is closed or ctx is done.
	// A cancelled ctx yields a [*live.ConnectionError].
	Gate chan struct{}

	// Entered, if non-nil, receives a value when Dial starts waiting on Gate.
	Entered chan struct{}

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall
}

// Dial implements [live.Dialer].
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Transport, error) {
	d.mu.Lock()
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, Cfg: cfg})
	gate, entered := d.Gate, d.Entered
	d.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &live.ConnectionError{Op: "dial", Err: ctx.Err()}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, &live.ConnectionError{Op: "dial", Err: d.DialErr}
	}
	if d.Transport == nil {
		d.Transport = NewTransport()
	}
	return d.Transport, nil
}

// Calls returns the number of Dial invocations so far.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DialCalls)
}
