package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Compile-time assertions that Client and Session satisfy the interfaces.
var (
	_ Dialer    = (*Client)(nil)
	_ Transport = (*Session)(nil)
)

const (
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	endpointPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultSendQueue  = 64
	defaultInboundBuf = 64

	// readLimit bounds a single inbound message. Audio deltas carry a few
	// hundred milliseconds of base64 PCM, well above the library default.
	readLimit = 8 << 20

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests and
// with the local emulator.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithSendQueue sets the number of outbound chunks that may wait for the
// writer before Send starts dropping. Default: 64 (about 16s of audio).
func WithSendQueue(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.sendQueue = n
		}
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client dials Gemini Live sessions.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	sendQueue  int
	httpClient *http.Client
}

// New creates a Client with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:    apiKey,
		model:     DefaultModel,
		baseURL:   DefaultBaseURL,
		sendQueue: defaultSendQueue,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Dial opens a WebSocket to the endpoint, sends the setup message and waits
// for setupComplete. ctx bounds the whole handshake; it does not govern the
// lifetime of the returned session.
func (c *Client) Dial(ctx context.Context, cfg SessionConfig) (Transport, error) {
	u := fmt.Sprintf("%s%s?key=%s", c.baseURL, endpointPath, url.QueryEscape(c.apiKey))

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(readLimit)

	setup, err := json.Marshal(newSetupMessage(c.model, cfg))
	if err != nil {
		conn.CloseNow()
		return nil, &ConnectionError{Op: "marshal setup", Err: err}
	}
	if err := conn.Write(ctx, websocket.MessageText, setup); err != nil {
		conn.CloseNow()
		return nil, &ConnectionError{Op: "send setup", Err: err}
	}

	ack, err := awaitSetupComplete(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "setup failed")
		return nil, &ConnectionError{Op: "setup", Err: err}
	}

	return newSession(conn, c.sendQueue, ack), nil
}

// awaitSetupComplete reads until the endpoint acknowledges the setup. It
// returns the acknowledgement so it can be replayed as the first inbound
// message.
func awaitSetupComplete(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return nil, &ServerError{Code: msg.Error.Code, Message: msg.Error.Message, Status: msg.Error.Status}
		}
		if msg.SetupComplete != nil {
			return data, nil
		}
	}
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is an open Gemini Live session. It owns the WebSocket connection,
// a writer goroutine draining the send queue, a reader goroutine feeding
// Inbound and a keepalive goroutine.
type Session struct {
	conn    *websocket.Conn
	sendQ   chan []byte
	inbound chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	errVal      error
	closeReason string
}

func newSession(conn *websocket.Conn, sendQueue int, first []byte) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:    conn,
		sendQ:   make(chan []byte, sendQueue),
		inbound: make(chan []byte, defaultInboundBuf),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateOpen,
	}
	s.inbound <- first

	s.wg.Add(3)
	go s.writeLoop()
	go s.readLoop()
	go s.keepaliveLoop()
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send enqueues chunk (PCM16LE at 16 kHz) for delivery. It is a no-op unless
// the session is Open, and drops the chunk when the queue is full.
func (s *Session) Send(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return false
	}
	select {
	case s.sendQ <- chunk:
		return true
	default:
		return false
	}
}

// Inbound returns the raw inbound message channel. The first message is
// always the setupComplete acknowledgement.
func (s *Session) Inbound() <-chan []byte { return s.inbound }

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// CloseReason returns the reason given by a local Close.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Close moves the session Open → Closing → Closed, waits for the internal
// goroutines and closes the connection. Calling Close again, concurrently or
// after a failure, returns nil without further effect.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.closeReason = "session closed"
	s.mu.Unlock()

	s.cancel() // unblocks writeLoop, readLoop and keepaliveLoop
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return nil
}

// fail records err as the cause, moves to Failed and tears the connection
// down. Only the first failure is kept, and failures after a local Close are
// ignored.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.errVal = &TransportError{Err: err}
	s.mu.Unlock()

	slog.Warn("live: session failed", "err", err)
	s.cancel()
	s.conn.CloseNow()
}

// writeLoop is the only writer of audio frames, which keeps them in FIFO
// order.
func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.sendQ:
			data, err := json.Marshal(newAudioMessage(chunk))
			if err != nil {
				s.fail(fmt.Errorf("marshal audio: %w", err))
				return
			}
			if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.fail(fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}

// readLoop reads messages from the WebSocket and forwards them in order.
// It owns inbound: it closes the channel when it exits.
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer close(s.inbound)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status != -1 {
				var ce websocket.CloseError
				if errors.As(err, &ce) && ce.Reason != "" {
					err = fmt.Errorf("closed by endpoint (%d): %s", status, ce.Reason)
				} else {
					err = fmt.Errorf("closed by endpoint (%d)", status)
				}
			}
			s.fail(err)
			return
		}
		select {
		case s.inbound <- data:
		case <-s.ctx.Done():
			return
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (s *Session) keepaliveLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}
