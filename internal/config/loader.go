package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackends lists known backend names per device kind.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackends = map[string][]string{
	"capture":  {"portaudio", "pipe"},
	"playback": {"portaudio", "pipe"},
}

// APIKeyEnv lists the environment variables consulted, in order, when
// live.api_key is empty.
var APIKeyEnv = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, resolves the
// API key from the environment and validates the result. An empty document
// yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ResolveAPIKey(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated configuration built from defaults and the
// environment alone. Used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	ResolveAPIKey(cfg)
	return cfg
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = DefaultMetricsAddr
	}
	if cfg.Live.Voice == "" {
		cfg.Live.Voice = DefaultVoice
	}
	if cfg.Live.Instructions == "" {
		cfg.Live.Instructions = DefaultInstructions
	}
	if cfg.Live.SendQueue == 0 {
		cfg.Live.SendQueue = DefaultSendQueue
	}
	if cfg.Audio.Capture.Backend == "" {
		cfg.Audio.Capture.Backend = DefaultBackend
	}
	if cfg.Audio.Playback.Backend == "" {
		cfg.Audio.Playback.Backend = DefaultBackend
	}
	if cfg.Audio.FrameBuffer == 0 {
		cfg.Audio.FrameBuffer = DefaultFrameBuffer
	}
}

// ResolveAPIKey fills live.api_key from [APIKeyEnv] when it is empty.
func ResolveAPIKey(cfg *Config) {
	if cfg.Live.APIKey != "" {
		return
	}
	for _, name := range APIKeyEnv {
		if v := os.Getenv(name); v != "" {
			cfg.Live.APIKey = v
			return
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Live
	if cfg.Live.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("live.send_queue %d must not be negative", cfg.Live.SendQueue))
	}
	if cfg.Live.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.connect_timeout %s must not be negative", cfg.Live.ConnectTimeout))
	}
	if cfg.Live.BaseURL != "" {
		u, err := url.Parse(cfg.Live.BaseURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("live.base_url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("live.base_url %q must use ws or wss", cfg.Live.BaseURL))
		}
	}
	if cfg.Live.APIKey == "" && cfg.Live.BaseURL == "" {
		slog.Warn("no API key configured; set live.api_key or GEMINI_API_KEY before starting a consultation")
	}

	// Audio
	if cfg.Audio.FrameBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_buffer %d must not be negative", cfg.Audio.FrameBuffer))
	}
	validateBackendName("capture", cfg.Audio.Capture.Backend)
	validateBackendName("playback", cfg.Audio.Playback.Backend)

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackends] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidBackends[kind], name) {
		return
	}
	slog.Warn("unknown audio backend; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", ValidBackends[kind],
	)
}
