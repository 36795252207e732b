package live_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livecoach/pkg/live"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startLiveServer launches a test WebSocket server. The handler receives the
// accepted connection; the server is closed when the test finishes.
func startLiveServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeRaw sends raw as a text frame.
func writeRaw(conn *websocket.Conn, raw string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(raw))
}

// handshake consumes the setup message and acknowledges it.
func handshake(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var setup map[string]any
	if err := readJSON(t, conn, &setup); err != nil {
		t.Errorf("read setup: %v", err)
		return nil
	}
	if err := writeRaw(conn, `{"setupComplete":{}}`); err != nil {
		t.Errorf("write setupComplete: %v", err)
	}
	return setup
}

// drainUntilClosed discards reads until the peer goes away.
func drainUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(context.Background()); err != nil {
			return
		}
	}
}

func dial(t *testing.T, srv *httptest.Server, opts ...live.Option) live.Transport {
	t.Helper()
	opts = append([]live.Option{live.WithBaseURL(wsURL(srv))}, opts...)
	c := live.New("test-key", opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	tr, err := c.Dial(ctx, live.SessionConfig{Voice: "Kore", Instructions: "be kind", TranscribeOutput: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func recvInbound(t *testing.T, tr live.Transport) ([]byte, bool) {
	t.Helper()
	select {
	case raw, ok := <-tr.Inbound():
		return raw, ok
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for inbound message")
		return nil, false
	}
}

// ── Dial ──────────────────────────────────────────────────────────────────────

func TestDial_SendsSetupAndReplaysAck(t *testing.T) {
	t.Parallel()

	setupCh := make(chan map[string]any, 1)
	var gotKey string
	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		setupCh <- handshake(t, conn)
		drainUntilClosed(conn)
	})

	tr := dial(t, srv, live.WithModel("test-model"))

	if got := tr.State(); got != live.StateOpen {
		t.Errorf("State() = %v, want OPEN", got)
	}
	raw, ok := recvInbound(t, tr)
	if !ok {
		t.Fatal("inbound closed before first message")
	}
	if !strings.Contains(string(raw), "setupComplete") {
		t.Errorf("first inbound = %s, want setupComplete", raw)
	}

	setup := <-setupCh
	if gotKey != "test-key" {
		t.Errorf("key query = %q, want test-key", gotKey)
	}
	body, _ := setup["setup"].(map[string]any)
	if body == nil {
		t.Fatalf("setup message missing setup object: %v", setup)
	}
	if body["model"] != "models/test-model" {
		t.Errorf("model = %v, want models/test-model", body["model"])
	}
	if _, ok := body["outputAudioTranscription"]; !ok {
		t.Error("outputAudioTranscription not requested")
	}
	gen, _ := body["generationConfig"].(map[string]any)
	mods, _ := gen["responseModalities"].([]any)
	if len(mods) != 1 || mods[0] != "AUDIO" {
		t.Errorf("responseModalities = %v, want [AUDIO]", mods)
	}
	data, _ := json.Marshal(gen["speechConfig"])
	if !strings.Contains(string(data), `"Kore"`) {
		t.Errorf("speechConfig = %s, want voice Kore", data)
	}
	data, _ = json.Marshal(body["systemInstruction"])
	if !strings.Contains(string(data), "be kind") {
		t.Errorf("systemInstruction = %s, want persona text", data)
	}
}

func TestDial_SetupRejected(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		_ = readJSON(t, conn, &setup)
		_ = writeRaw(conn, `{"error":{"code":403,"message":"API key invalid","status":"PERMISSION_DENIED"}}`)
		drainUntilClosed(conn)
	})

	c := live.New("bad", live.WithBaseURL(wsURL(srv)))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := c.Dial(ctx, live.SessionConfig{})

	var connErr *live.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Dial error = %v, want *ConnectionError", err)
	}
	var srvErr *live.ServerError
	if !errors.As(err, &srvErr) {
		t.Fatalf("Dial error = %v, want wrapped *ServerError", err)
	}
	if srvErr.Code != 403 {
		t.Errorf("ServerError.Code = %d, want 403", srvErr.Code)
	}
}

func TestDial_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := live.New("k", live.WithBaseURL(url))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := c.Dial(ctx, live.SessionConfig{})

	var connErr *live.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Dial error = %v, want *ConnectionError", err)
	}
	if connErr.Op != "dial" {
		t.Errorf("Op = %q, want dial", connErr.Op)
	}
}

func TestDial_ContextCancelledDuringSetup(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Never acknowledge the setup.
		drainUntilClosed(conn)
	})

	c := live.New("k", live.WithBaseURL(wsURL(srv)))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Dial(ctx, live.SessionConfig{})

	var connErr *live.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Dial error = %v, want *ConnectionError", err)
	}
}

// ── Send ──────────────────────────────────────────────────────────────────────

func TestSession_SendPreservesOrder(t *testing.T) {
	t.Parallel()

	const n = 20
	got := make(chan []byte, n)
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		for range n {
			var msg struct {
				RealtimeInput struct {
					MediaChunks []struct {
						MIMEType string `json:"mimeType"`
						Data     []byte `json:"data"`
					} `json:"mediaChunks"`
				} `json:"realtimeInput"`
			}
			if err := readJSON(t, conn, &msg); err != nil {
				t.Errorf("read audio: %v", err)
				return
			}
			chunks := msg.RealtimeInput.MediaChunks
			if len(chunks) != 1 {
				t.Errorf("mediaChunks len = %d, want 1", len(chunks))
				return
			}
			if chunks[0].MIMEType != live.InputMIMEType {
				t.Errorf("mimeType = %q, want %q", chunks[0].MIMEType, live.InputMIMEType)
			}
			got <- chunks[0].Data
		}
		drainUntilClosed(conn)
	})

	tr := dial(t, srv)
	for i := range n {
		if !tr.Send([]byte{byte(i), byte(i)}) {
			t.Fatalf("Send(%d) = false, want true", i)
		}
	}

	for i := range n {
		select {
		case data := <-got:
			if len(data) != 2 || data[0] != byte(i) {
				t.Fatalf("chunk %d = %v, want [%d %d]", i, data, i, i)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for chunk %d", i)
		}
	}
}

func TestSession_SendAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		drainUntilClosed(conn)
	})

	tr := dial(t, srv)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.Send([]byte{1, 2}) {
		t.Error("Send after Close = true, want false")
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestSession_CloseIdempotentAndConcurrent(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		drainUntilClosed(conn)
	})

	tr := dial(t, srv)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		}()
	}
	// Concurrent sends must not panic.
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Send([]byte{0, 0})
		}()
	}
	wg.Wait()

	if err := tr.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// Wait for the closing goroutine to finish its transition.
	deadline := time.Now().Add(3 * time.Second)
	for tr.State() != live.StateClosed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := tr.State(); got != live.StateClosed {
		t.Errorf("State() = %v, want CLOSED", got)
	}
	if err := tr.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after local close", err)
	}

	ev := live.Terminal(tr)
	if ev.Kind != live.EventClosed {
		t.Errorf("Terminal kind = %v, want CLOSED", ev.Kind)
	}

	// Inbound must be closed after draining.
	for {
		if _, ok := recvInbound(t, tr); !ok {
			break
		}
	}
}

// ── Inbound ───────────────────────────────────────────────────────────────────

func TestSession_InboundArrivalOrder(t *testing.T) {
	t.Parallel()

	msgs := []string{
		`{"serverContent":{"modelTurn":{"parts":[{"text":"a"}]}}}`,
		`{"serverContent":{"modelTurn":{"parts":[{"text":"b"}]}}}`,
		`{"serverContent":{"turnComplete":true}}`,
	}
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		for _, m := range msgs {
			_ = writeRaw(conn, m)
		}
		drainUntilClosed(conn)
	})

	tr := dial(t, srv)
	recvInbound(t, tr) // setupComplete
	for i, want := range msgs {
		raw, ok := recvInbound(t, tr)
		if !ok {
			t.Fatalf("inbound closed at message %d", i)
		}
		if string(raw) != want {
			t.Errorf("message %d = %s, want %s", i, raw, want)
		}
	}
}

func TestSession_RemoteCloseFails(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		conn.Close(websocket.StatusGoingAway, "session expired")
	})

	tr := dial(t, srv)
	for {
		if _, ok := recvInbound(t, tr); !ok {
			break
		}
	}

	if got := tr.State(); got != live.StateFailed {
		t.Errorf("State() = %v, want FAILED", got)
	}
	var tErr *live.TransportError
	if !errors.As(tr.Err(), &tErr) {
		t.Fatalf("Err() = %v, want *TransportError", tr.Err())
	}
	if !strings.Contains(tErr.Error(), "session expired") {
		t.Errorf("error %q does not carry the close reason", tErr.Error())
	}
	if tr.Send([]byte{1, 1}) {
		t.Error("Send on failed session = true, want false")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close after failure: %v", err)
	}
	if ev := live.Terminal(tr); ev.Kind != live.EventError {
		t.Errorf("Terminal kind = %v, want ERROR", ev.Kind)
	}
}
