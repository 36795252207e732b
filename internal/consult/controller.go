// Package consult runs a live voice consultation: it captures the
// microphone, streams it to the live endpoint, plays the synthesised answer
// back gap-free and forwards the transcript to the caller.
//
// A [Controller] owns at most one session at a time. Connect acquires the
// microphone, the speaker and the transport in that order and starts the
// audio pumps; Disconnect releases them in the same order. Failures after
// the session opened are reported once on [Controller.Errors].
package consult

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livecoach/internal/observe"
	"github.com/MrWong99/livecoach/pkg/audio"
	"github.com/MrWong99/livecoach/pkg/live"
)

// errorBuffer is the capacity of the Errors channel.
const errorBuffer = 8

// SessionInfo holds metadata about the current or most recent session.
type SessionInfo struct {
	// SessionID is the unique identifier of the session.
	SessionID string

	// StartedAt is when Connect was called.
	StartedAt time.Time

	// Voice is the voice the session was opened with.
	Voice string

	// State is the session's lifecycle state.
	State State
}

// Config holds all dependencies for a [Controller].
type Config struct {
	// Dialer opens transports. Required.
	Dialer live.Dialer

	// NewCapture builds a fresh microphone source for each session. Required.
	NewCapture func() (audio.CaptureSource, error)

	// NewSink opens the speaker for each session at
	// [audio.PlaybackSampleRate]. Required.
	NewSink func() (audio.PlaybackSink, error)

	// Metrics records session telemetry. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Voice and Instructions define the initial persona.
	Voice        string
	Instructions string

	// TranscribeOutput asks the endpoint for a transcript of its spoken
	// answer.
	TranscribeOutput bool

	// ConnectTimeout bounds Connect. Zero means only the caller's context
	// applies.
	ConnectTimeout time.Duration
}

// Controller orchestrates a voice session. All exported methods are safe
// for concurrent use.
type Controller struct {
	dialer         live.Dialer
	newCapture     func() (audio.CaptureSource, error)
	newSink        func() (audio.PlaybackSink, error)
	metrics        *observe.Metrics
	transcribe     bool
	connectTimeout time.Duration
	errs           chan error

	mu           sync.Mutex
	sess         *session
	voice        string
	instructions string
}

// New creates a Controller with the given dependencies.
func New(cfg Config) *Controller {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Controller{
		dialer:         cfg.Dialer,
		newCapture:     cfg.NewCapture,
		newSink:        cfg.NewSink,
		metrics:        m,
		transcribe:     cfg.TranscribeOutput,
		connectTimeout: cfg.ConnectTimeout,
		errs:           make(chan error, errorBuffer),
		voice:          cfg.Voice,
		instructions:   cfg.Instructions,
	}
}

// Errors returns the channel on which failures of an open session are
// reported. Each failed session reports exactly one [*live.TransportError].
// Errors are dropped when the channel is full. Connect discards errors still
// pending from an earlier session, so a value read after Connect always
// belongs to the current one.
func (c *Controller) Errors() <-chan error { return c.errs }

// State returns the state of the current session, or [StateIdle] if no
// session was ever started.
func (c *Controller) State() State {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return StateIdle
	}
	return sess.State()
}

// Info returns metadata about the current or most recent session. ok is
// false if no session was ever started.
func (c *Controller) Info() (info SessionInfo, ok bool) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		SessionID: sess.id,
		StartedAt: sess.startedAt,
		Voice:     sess.voice,
		State:     sess.State(),
	}, true
}

// SetPersona replaces the voice and instructions used by the next Connect.
// A running session keeps its persona.
func (c *Controller) SetPersona(voice, instructions string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = voice
	c.instructions = instructions
}

// Connect starts a session: it opens the microphone, then the speaker, then
// dials the endpoint. Once the transport is Open, captured frames are
// streamed and inbound events are dispatched: transcript fragments go to
// onTranscript (which may be nil), speech is scheduled for playback.
//
// onTranscript runs on the session's inbound goroutine and must not call
// Disconnect.
//
// Connect fails with [ErrAlreadyConnected] while a session is live, with an
// error wrapping [audio.ErrPermissionDenied] or [audio.ErrDeviceUnavailable]
// when a device cannot be acquired, with a [*live.ConnectionError] when the
// endpoint cannot be reached, and with [ErrDisconnected] when Disconnect was
// called first. On failure every resource already acquired is released.
func (c *Controller) Connect(ctx context.Context, onTranscript func(string)) error {
	c.mu.Lock()
	prev := c.sess
	if prev != nil && !prev.State().Terminal() {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.drainErrors()
	sess := newSession(c, c.voice)
	c.sess = sess
	cfg := live.SessionConfig{
		Voice:            c.voice,
		Instructions:     c.instructions,
		TranscribeOutput: c.transcribe,
	}
	c.mu.Unlock()

	// A failed session keeps its devices until Disconnect; release them
	// before opening new ones.
	if prev != nil {
		prev.shutdown(StateClosed)
	}

	var cancel context.CancelFunc
	if c.connectTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.connectTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	sess.setCancel(cancel)

	ctx, span := observe.StartSpan(ctx, "consult.connect",
		trace.WithAttributes(
			attribute.String("session.id", sess.id),
			attribute.String("voice", cfg.Voice),
		),
	)
	defer span.End()

	log := observe.Logger(observe.WithSessionID(ctx, sess.id))
	log.Info("consult: connecting", "voice", cfg.Voice)

	reason, err := c.open(ctx, sess, cfg, onTranscript)
	if err != nil {
		if sess.isClosing() {
			reason, err = "cancelled", ErrDisconnected
		}
		sess.shutdown(StateFailed)
		c.metrics.RecordConnectError(ctx, reason)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("consult: connect failed", "reason", reason, "err", err)
		return err
	}

	elapsed := time.Since(sess.startedAt)
	c.metrics.RecordConnectDuration(ctx, elapsed)
	log.Info("consult: session open", "elapsed", elapsed)
	return nil
}

// open acquires the session's resources in order and starts its pumps. On
// error it returns the metric reason for the failed step.
func (c *Controller) open(ctx context.Context, sess *session, cfg live.SessionConfig, onTranscript func(string)) (string, error) {
	capture, err := c.newCapture()
	if err != nil {
		return "capture", fmt.Errorf("consult: create microphone: %w", err)
	}
	frames, err := capture.Open(ctx, audio.CaptureSampleRate)
	if err != nil {
		return "capture", fmt.Errorf("consult: open microphone: %w", err)
	}
	if !sess.adoptCapture(capture) {
		return "cancelled", ErrDisconnected
	}

	sink, err := c.newSink()
	if err != nil {
		return "playback", fmt.Errorf("consult: open speaker: %w", err)
	}
	if !sess.adoptSink(sink) {
		return "cancelled", ErrDisconnected
	}

	t, err := c.dialer.Dial(ctx, cfg)
	if err != nil {
		var connErr *live.ConnectionError
		if !errors.As(err, &connErr) {
			err = &live.ConnectionError{Op: "dial", Err: err}
		}
		return "dial", err
	}
	if !sess.start(t, frames, onTranscript) {
		return "cancelled", ErrDisconnected
	}
	return "", nil
}

// Disconnect ends the current session. Capture stops first and its last
// frame is flushed to the transport, then the transport closes, then the
// speaker is released. Calling Disconnect while Connect is still running
// cancels it. Disconnect is idempotent and never fails.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}
	sess.shutdown(StateClosed)
}

// drainErrors drops failures left unread from a previous session.
func (c *Controller) drainErrors() {
	for {
		select {
		case <-c.errs:
		default:
			return
		}
	}
}

// report delivers err on the Errors channel without blocking.
func (c *Controller) report(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
