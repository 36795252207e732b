package consult

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/livecoach/internal/observe"
	"github.com/MrWong99/livecoach/pkg/audio"
	"github.com/MrWong99/livecoach/pkg/audio/playback"
	"github.com/MrWong99/livecoach/pkg/live"
)

// session is one Connect/Disconnect cycle. Resources are adopted one at a
// time while connecting; once closing is set, late resources are released
// by whoever acquired them and everything adopted earlier is released by
// shutdown.
type session struct {
	c         *Controller
	id        string
	voice     string
	startedAt time.Time
	ctx       context.Context // carries the session ID; never cancelled
	done      chan struct{}

	mu          sync.Mutex
	state       State
	closing     bool
	active      bool
	cancel      context.CancelFunc
	capture     audio.CaptureSource
	sink        audio.PlaybackSink
	transport   live.Transport
	pumpDone    chan struct{}
	inboundDone chan struct{}
}

func newSession(c *Controller, voice string) *session {
	id := uuid.NewString()
	return &session{
		c:         c,
		id:        id,
		voice:     voice,
		startedAt: time.Now(),
		ctx:       observe.WithSessionID(context.Background(), id),
		done:      make(chan struct{}),
		state:     StateConnecting,
	}
}

// State returns the session's lifecycle state.
func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// setStateLocked applies a transition and ignores illegal ones. s.mu must
// be held.
func (s *session) setStateLocked(to State) bool {
	if !canTransition(s.state, to) {
		return false
	}
	observe.Logger(s.ctx).Debug("consult: state change", "from", s.state, "to", to)
	s.state = to
	return true
}

// setCancel registers the cancel func of the pending Connect. If the
// session is already closing it is cancelled right away.
func (s *session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		cancel()
		return
	}
	s.cancel = cancel
}

func (s *session) adoptCapture(c audio.CaptureSource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		_ = c.Stop()
		return false
	}
	s.capture = c
	return true
}

func (s *session) adoptSink(sink audio.PlaybackSink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		_ = sink.Close()
		return false
	}
	s.sink = sink
	return true
}

// start moves the session to Open and launches the outbound pump and the
// inbound loop. It returns false, closing t, if the session is closing.
func (s *session) start(t live.Transport, frames <-chan audio.AudioFrame, onTranscript func(string)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || !s.setStateLocked(StateOpen) {
		_ = t.Close()
		return false
	}
	s.transport = t
	s.active = true
	s.c.metrics.ActiveSessions.Add(s.ctx, 1)

	s.pumpDone = make(chan struct{})
	s.inboundDone = make(chan struct{})
	go s.pump(t, frames, s.pumpDone)
	go s.receive(t, s.sink, onTranscript, s.inboundDone)
	return true
}

// shutdown releases the session's resources in order: capture (waiting for
// the pump to flush the last frame), transport (waiting for the inbound
// loop), speaker. The first call does the work and moves the session to
// final unless it already failed; later calls wait for it to finish.
func (s *session) shutdown(final State) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closing = true
	if final == StateClosed {
		s.setStateLocked(StateClosing)
	}
	if s.cancel != nil {
		s.cancel()
	}
	capture, t, sink := s.capture, s.transport, s.sink
	pumpDone, inboundDone := s.pumpDone, s.inboundDone
	s.mu.Unlock()

	log := observe.Logger(s.ctx)

	if capture != nil {
		if err := capture.Stop(); err != nil {
			log.Warn("consult: stop microphone", "err", err)
		}
	}
	if pumpDone != nil {
		<-pumpDone
	}
	if t != nil {
		if err := t.Close(); err != nil {
			log.Warn("consult: close transport", "err", err)
		}
	}
	if inboundDone != nil {
		<-inboundDone
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			log.Warn("consult: close speaker", "err", err)
		}
	}

	s.mu.Lock()
	s.setStateLocked(final)
	active := s.active
	s.active = false
	state := s.state
	s.mu.Unlock()

	if active {
		s.c.metrics.ActiveSessions.Add(s.ctx, -1)
	}
	close(s.done)
	log.Info("consult: session ended", "state", state, "duration", time.Since(s.startedAt))
}

// fail moves an open session to Failed and reports err once. Failures seen
// while closing are the result of the teardown and are ignored.
func (s *session) fail(err error) {
	var trErr *live.TransportError
	if !errors.As(err, &trErr) {
		err = &live.TransportError{Err: err}
	}

	s.mu.Lock()
	if s.closing || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateFailed)
	// Sent under s.mu: Connect drains stale errors only after it has seen
	// this session terminal.
	s.c.report(err)
	active := s.active
	s.active = false
	s.mu.Unlock()

	if active {
		s.c.metrics.ActiveSessions.Add(s.ctx, -1)
	}
	s.c.metrics.TransportErrors.Add(s.ctx, 1)
	observe.Logger(s.ctx).Error("consult: session failed", "err", err)
}

// ── Pumps ────────────────────────────────────────────────────────────────────

// pump encodes captured frames and hands them to the transport until the
// capture channel closes. Send never blocks; a refused chunk is dropped.
func (s *session) pump(t live.Transport, frames <-chan audio.AudioFrame, done chan struct{}) {
	defer close(done)
	m := s.c.metrics
	for frame := range frames {
		m.FramesCaptured.Add(s.ctx, 1)
		if t.Send(audio.EncodePCM16(frame)) {
			m.ChunksSent.Add(s.ctx, 1)
			continue
		}
		if t.State() == live.StateOpen {
			m.RecordFrameDropped(s.ctx, "send")
		}
	}
}

// receive decodes inbound messages in arrival order and dispatches their
// events until the transport ends.
func (s *session) receive(t live.Transport, sink audio.PlaybackSink, onTranscript func(string), done chan struct{}) {
	defer close(done)
	log := observe.Logger(s.ctx)
	m := s.c.metrics
	dec := live.Decoder{SampleRate: audio.PlaybackSampleRate}
	sched := playback.New(sink)

	for raw := range t.Inbound() {
		events, err := dec.Decode(raw)
		if err != nil {
			m.DecodeErrors.Add(s.ctx, 1)
			log.Warn("consult: dropped malformed inbound data", "err", err)
		}
		for _, ev := range events {
			m.RecordInboundEvent(s.ctx, ev.Kind.String())
			if !s.dispatch(ev, t, sched, onTranscript) {
				return
			}
		}
	}

	switch ev := live.Terminal(t); ev.Kind {
	case live.EventError:
		s.fail(ev.Err)
	default:
		log.Debug("consult: transport closed", "reason", ev.Reason)
	}
}

// dispatch handles one event. It returns false when the session must stop
// consuming inbound data.
func (s *session) dispatch(ev live.Event, t live.Transport, sched *playback.Scheduler, onTranscript func(string)) bool {
	log := observe.Logger(s.ctx)
	switch ev.Kind {
	case live.EventTextDelta:
		if onTranscript != nil {
			onTranscript(ev.Text)
		}
	case live.EventAudioDelta:
		if _, err := sched.Schedule(ev.Samples, ev.SampleRate); err != nil {
			log.Warn("consult: schedule speech", "err", err)
			return true
		}
		s.c.metrics.RecordQueueDepth(s.ctx, sched.QueueDepth())
	case live.EventInterrupted:
		sched.Reset()
		log.Debug("consult: answer interrupted, queued speech discarded")
	case live.EventTurnComplete:
		log.Debug("consult: turn complete", "queued", sched.QueueDepth())
	case live.EventGoAway:
		log.Warn("consult: endpoint is about to end the session", "time_left", ev.TimeLeft)
	case live.EventError:
		s.fail(ev.Err)
		_ = t.Close()
		return false
	}
	return true
}
