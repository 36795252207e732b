// Package config provides the configuration schema, loader, hot-reload
// watcher and audio backend registry for livecoach.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultMetricsAddr  = ":9464"
	DefaultVoice        = "Kore"
	DefaultSendQueue    = 64
	DefaultFrameBuffer  = 8
	DefaultBackend      = "portaudio"
	DefaultInstructions = "You are a professional makeup artist doing a live consultation. " +
		"Be warm, encouraging, and give step-by-step beauty advice."
)

// Config is the root configuration structure for livecoach.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Live   LiveConfig   `yaml:"live"`
	Audio  AudioConfig  `yaml:"audio"`
}

// ServerConfig holds logging and telemetry settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics, /healthz and /readyz.
	// Set to "off" to disable the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LiveConfig configures the connection to the live endpoint and the
// consultant persona.
type LiveConfig struct {
	// APIKey authenticates against the endpoint. When empty, the
	// GEMINI_API_KEY and GOOGLE_API_KEY environment variables are consulted.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the WebSocket base URL, e.g. to point at the local
	// emulator ("ws://127.0.0.1:8765/ws").
	BaseURL string `yaml:"base_url"`

	// Model selects the native-audio model.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name. Hot-reloadable; applies to the next
	// session.
	Voice string `yaml:"voice"`

	// Instructions is the system instruction defining the persona.
	// Hot-reloadable; applies to the next session.
	Instructions string `yaml:"instructions"`

	// SendQueue bounds the number of encoded chunks waiting for the
	// WebSocket writer.
	SendQueue int `yaml:"send_queue"`

	// ConnectTimeout bounds Connect. Zero means no timeout.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// AudioConfig selects the capture and playback backends.
type AudioConfig struct {
	Capture  DeviceConfig `yaml:"capture"`
	Playback DeviceConfig `yaml:"playback"`

	// FrameBuffer bounds the number of captured frames waiting for the
	// encoder before the capture callback starts dropping.
	FrameBuffer int `yaml:"frame_buffer"`
}

// DeviceConfig selects one audio backend. Backend is looked up in the
// [Registry].
type DeviceConfig struct {
	// Backend names the registered implementation ("portaudio", "pipe").
	Backend string `yaml:"backend"`

	// Path is a backend-specific device path. The pipe backend reads from or
	// writes to this file (e.g. a FIFO) instead of stdin/stdout.
	Path string `yaml:"path"`
}

// Persona returns the hot-reloadable persona settings.
func (c *LiveConfig) Persona() (voice, instructions string) {
	return c.Voice, c.Instructions
}
