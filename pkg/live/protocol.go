package live

import (
	"encoding/json"

	"google.golang.org/genai"
)

// Media types on the wire. The endpoint expects 16 kHz input and produces
// 24 kHz output; no resampling is performed on either side.
const (
	InputMIMEType  = "audio/pcm;rate=16000"
	OutputMIMEType = "audio/pcm;rate=24000"
)

// ── Outgoing ─────────────────────────────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string               `json:"model"`
	GenerationConfig         generationConfig     `json:"generationConfig"`
	SystemInstruction        *genai.Content       `json:"systemInstruction,omitempty"`
	OutputAudioTranscription *transcriptionConfig `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []genai.Modality    `json:"responseModalities"`
	SpeechConfig       *genai.SpeechConfig `json:"speechConfig,omitempty"`
}

// transcriptionConfig is sent as an empty object to enable transcription.
type transcriptionConfig struct{}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []*genai.Blob `json:"mediaChunks"`
}

func newSetupMessage(model string, cfg SessionConfig) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + model,
			GenerationConfig: generationConfig{
				ResponseModalities: []genai.Modality{genai.ModalityAudio},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.TranscribeOutput {
		msg.Setup.OutputAudioTranscription = &transcriptionConfig{}
	}
	return msg
}

// newAudioMessage wraps one PCM16LE chunk; genai.Blob base64-encodes Data.
func newAudioMessage(chunk []byte) realtimeInputMessage {
	return realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []*genai.Blob{{MIMEType: InputMIMEType, Data: chunk}},
		},
	}
}

// ── Incoming ─────────────────────────────────────────────────────────────────
//
// Inline audio is kept as a base64 string rather than genai.Blob so that one
// malformed fragment fails on its own instead of failing the whole message.

type serverMessage struct {
	SetupComplete        *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent        *serverContent   `json:"serverContent,omitempty"`
	ToolCall             *json.RawMessage `json:"toolCall,omitempty"`
	ToolCallCancellation *json.RawMessage `json:"toolCallCancellation,omitempty"`
	GoAway               *goAway          `json:"goAway,omitempty"`
	UsageMetadata        *json.RawMessage `json:"usageMetadata,omitempty"`
	Error                *serverErrorBody `json:"error,omitempty"`
}

type serverErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	// TimeLeft is a protobuf Duration in JSON form, e.g. "9.5s".
	TimeLeft string `json:"timeLeft"`
}
