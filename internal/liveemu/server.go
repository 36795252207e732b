// Package liveemu emulates the live endpoint for offline runs and
// end-to-end tests. It completes the setup handshake, buffers incoming
// 16 kHz speech and, for every window of input, answers with the same audio
// resampled to 24 kHz plus a short transcript. Options inject the failure
// modes a real endpoint produces: interruptions, malformed fragments,
// go-away notices and abrupt session loss.
package liveemu

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/livecoach/pkg/audio"
)

// Path is the endpoint path served by [Server.Handler]. Clients use
// "ws://<addr>/ws" as their base URL, mirroring the production layout.
const Path = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// DefaultReply is the transcript sent with every echoed answer.
const DefaultReply = "I hear you."

const (
	writeTimeout = 5 * time.Second
	inputMIME    = "audio/pcm;rate=16000"
	outputMIME   = "audio/pcm;rate=24000"
)

type config struct {
	apiKey         string
	window         time.Duration
	chunk          time.Duration
	reply          string
	interruptEvery int
	malformedEvery int
	failAfter      int
	goAway         time.Duration
}

// Option configures a [Server].
type Option func(*config)

// WithAPIKey makes the server reject sessions whose key query parameter
// differs from key.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithWindow sets how much input speech triggers one answer. Default 1s.
func WithWindow(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithChunk sets the length of each outbound audio message. Default 250ms.
func WithChunk(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.chunk = d
		}
	}
}

// WithReply sets the transcript sent with each answer.
func WithReply(text string) Option {
	return func(c *config) { c.reply = text }
}

// WithInterruptEvery makes every n-th answer stop halfway with an
// interruption instead of completing its turn.
func WithInterruptEvery(n int) Option {
	return func(c *config) { c.interruptEvery = n }
}

// WithMalformedEvery makes every n-th answer carry an undecodable audio
// fragment before the transcript.
func WithMalformedEvery(n int) Option {
	return func(c *config) { c.malformedEvery = n }
}

// WithFailAfter makes the server drop the session with an internal error
// close frame after n answers.
func WithFailAfter(n int) Option {
	return func(c *config) { c.failAfter = n }
}

// WithGoAway makes the server announce, right after setup, that the session
// ends in d.
func WithGoAway(d time.Duration) Option {
	return func(c *config) { c.goAway = d }
}

// Setup is the session configuration a client sent.
type Setup struct {
	Model            string
	Voice            string
	Instructions     string
	TranscribeOutput bool
}

// Stats summarises the traffic seen by a [Server].
type Stats struct {
	// Sessions counts completed setup handshakes.
	Sessions int

	// Rejected counts sessions refused because of the key or the setup.
	Rejected int

	// ChunksReceived counts inbound audio chunks.
	ChunksReceived int

	// Answers counts answers sent.
	Answers int

	// LastSetup is the most recent accepted setup.
	LastSetup Setup
}

// Server is an http.Handler speaking the live protocol over WebSocket.
type Server struct {
	cfg      config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	stats Stats
}

// New creates an emulator with the given options.
func New(opts ...Option) *Server {
	cfg := config{
		window: time.Second,
		chunk:  250 * time.Millisecond,
		reply:  DefaultReply,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns a mux serving the emulator at [Path].
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	return mux
}

// Stats returns a snapshot of the traffic counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Server) update(fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}

// ServeHTTP upgrades the request and runs one session until either side
// closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("liveemu: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()
	log := slog.With("remote", r.RemoteAddr)

	setup, err := readSetup(conn)
	if err != nil {
		s.update(func(st *Stats) { st.Rejected++ })
		log.Info("liveemu: rejecting session with invalid setup", "err", err)
		s.reject(conn, http.StatusBadRequest, err.Error(), "INVALID_ARGUMENT")
		return
	}
	if s.cfg.apiKey != "" && r.URL.Query().Get("key") != s.cfg.apiKey {
		s.update(func(st *Stats) { st.Rejected++ })
		log.Info("liveemu: rejecting session with invalid key")
		s.reject(conn, http.StatusForbidden, "API key not valid. Please pass a valid API key.", "PERMISSION_DENIED")
		return
	}
	s.update(func(st *Stats) {
		st.Sessions++
		st.LastSetup = setup
	})
	log.Info("liveemu: session started", "model", setup.Model, "voice", setup.Voice)

	if err := send(conn, serverMessage{SetupComplete: &struct{}{}}); err != nil {
		return
	}
	if s.cfg.goAway > 0 {
		left := strconv.FormatFloat(s.cfg.goAway.Seconds(), 'f', -1, 64) + "s"
		if err := send(conn, serverMessage{GoAway: &goAway{TimeLeft: left}}); err != nil {
			return
		}
	}

	s.run(conn, log)
}

// run answers every full window of input until the client goes away or the
// configured failure point is reached.
func (s *Server) run(conn *websocket.Conn, log *slog.Logger) {
	windowBytes := int(s.cfg.window.Seconds()*audio.CaptureSampleRate) * 2
	var (
		pending []byte
		turn    int
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("liveemu: session closed by client")
			} else {
				log.Debug("liveemu: read failed", "err", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.RealtimeInput == nil {
			log.Debug("liveemu: ignoring message", "bytes", len(data))
			continue
		}
		for _, chunk := range msg.RealtimeInput.MediaChunks {
			if chunk == nil || chunk.MIMEType != inputMIME {
				continue
			}
			s.update(func(st *Stats) { st.ChunksReceived++ })
			pending = append(pending, chunk.Data...)
		}

		for len(pending) >= windowBytes {
			turn++
			if err := s.answer(conn, pending[:windowBytes], turn); err != nil {
				log.Debug("liveemu: write failed", "err", err)
				return
			}
			pending = pending[windowBytes:]
			s.update(func(st *Stats) { st.Answers++ })

			if s.cfg.failAfter > 0 && turn >= s.cfg.failAfter {
				log.Info("liveemu: dropping session", "answers", turn)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "emulated session loss"),
					time.Now().Add(writeTimeout))
				return
			}
		}
	}
}

// answer sends one window of input back as 24 kHz speech followed by the
// transcript and the end of the turn.
func (s *Server) answer(conn *websocket.Conn, pcm []byte, turn int) error {
	out := audio.ResampleMono16(pcm, audio.CaptureSampleRate, audio.PlaybackSampleRate)
	chunkBytes := max(int(s.cfg.chunk.Seconds()*audio.PlaybackSampleRate)*2, 2)

	if s.cfg.interruptEvery > 0 && turn%s.cfg.interruptEvery == 0 {
		half := (len(out) / 4) * 2
		if err := send(conn, audioMessage(base64.StdEncoding.EncodeToString(out[:half]))); err != nil {
			return err
		}
		return send(conn, serverMessage{ServerContent: &serverContent{Interrupted: true}})
	}

	for off := 0; off < len(out); off += chunkBytes {
		end := min(off+chunkBytes, len(out))
		if err := send(conn, audioMessage(base64.StdEncoding.EncodeToString(out[off:end]))); err != nil {
			return err
		}
	}

	if s.cfg.malformedEvery > 0 && turn%s.cfg.malformedEvery == 0 {
		if err := send(conn, audioMessage("***not-base64***")); err != nil {
			return err
		}
	}

	return send(conn, serverMessage{ServerContent: &serverContent{
		OutputTranscription: &transcription{Text: s.cfg.reply},
		TurnComplete:        true,
	}})
}

// reject reports an error message and closes the session.
func (s *Server) reject(conn *websocket.Conn, code int, message, status string) {
	_ = send(conn, serverMessage{Error: &errorBody{Code: code, Message: message, Status: status}})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, status),
		time.Now().Add(writeTimeout))
}

func readSetup(conn *websocket.Conn) (Setup, error) {
	if err := conn.SetReadDeadline(time.Now().Add(writeTimeout)); err != nil {
		return Setup{}, err
	}
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return Setup{}, fmt.Errorf("read setup: %w", err)
	}
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Setup{}, fmt.Errorf("decode setup: %w", err)
	}
	if msg.Setup == nil || msg.Setup.Model == "" {
		return Setup{}, errors.New("first message must be a setup with a model")
	}

	out := Setup{
		Model:            msg.Setup.Model,
		TranscribeOutput: msg.Setup.OutputAudioTranscription != nil,
	}
	if sc := msg.Setup.GenerationConfig.SpeechConfig; sc != nil && sc.VoiceConfig != nil && sc.VoiceConfig.PrebuiltVoiceConfig != nil {
		out.Voice = sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName
	}
	if si := msg.Setup.SystemInstruction; si != nil {
		for _, p := range si.Parts {
			out.Instructions += p.Text
		}
	}
	return out, nil
}

func send(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// ── Wire types ───────────────────────────────────────────────────────────────

type clientMessage struct {
	Setup         *clientSetup   `json:"setup"`
	RealtimeInput *realtimeInput `json:"realtimeInput"`
}

type clientSetup struct {
	Model            string `json:"model"`
	GenerationConfig struct {
		SpeechConfig *speechConfig `json:"speechConfig"`
	} `json:"generationConfig"`
	SystemInstruction *struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
	OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
}

type speechConfig struct {
	VoiceConfig *struct {
		PrebuiltVoiceConfig *struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type realtimeInput struct {
	MediaChunks []*genai.Blob `json:"mediaChunks"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
	Error         *errorBody     `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type part struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
}

// inlineData keeps Data as a string so malformed payloads can be sent.
type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func audioMessage(data string) serverMessage {
	return serverMessage{ServerContent: &serverContent{
		ModelTurn: &modelTurn{Parts: []part{{InlineData: &inlineData{MIMEType: outputMIME, Data: data}}}},
	}}
}
