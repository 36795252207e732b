package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	// PersonaChanged is true if the voice or instructions changed. The new
	// persona applies to the next session; a running session keeps its own.
	PersonaChanged bool
	NewVoice       string
	NewInstruction string

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists settings that changed but only take effect after
	// a restart (endpoint, model, backends, metrics listener).
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Persona
	if old.Live.Voice != new.Live.Voice || old.Live.Instructions != new.Live.Instructions {
		d.PersonaChanged = true
		d.NewVoice, d.NewInstruction = new.Live.Persona()
	}

	// Everything else needs a restart.
	restart := []struct {
		name    string
		changed bool
	}{
		{"server.metrics_addr", old.Server.MetricsAddr != new.Server.MetricsAddr},
		{"live.api_key", old.Live.APIKey != new.Live.APIKey},
		{"live.base_url", old.Live.BaseURL != new.Live.BaseURL},
		{"live.model", old.Live.Model != new.Live.Model},
		{"live.send_queue", old.Live.SendQueue != new.Live.SendQueue},
		{"live.connect_timeout", old.Live.ConnectTimeout != new.Live.ConnectTimeout},
		{"audio.capture", old.Audio.Capture != new.Audio.Capture},
		{"audio.playback", old.Audio.Playback != new.Audio.Playback},
		{"audio.frame_buffer", old.Audio.FrameBuffer != new.Audio.FrameBuffer},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}

	return d
}
