package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultWatchInterval is how often the file is polled.
const defaultWatchInterval = 5 * time.Second

// fileStamp identifies one version of the config file on disk.
type fileStamp struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// Watcher polls a config file and reports hot-reloadable changes: the
// persona (voice and instructions) and the log level. Other edits are
// logged as needing a restart. A file that fails to parse or validate
// leaves the previous config in place.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(d ConfigDiff, cfg *Config)

	mu      sync.Mutex
	current *Config
	stamp   fileStamp

	cancel context.CancelFunc
	exited chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange runs on the polling
// goroutine, only for persona or log-level changes.
func NewWatcher(path string, onChange func(d ConfigDiff, cfg *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		onChange: onChange,
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := readStamped(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.stamp = cfg, stamp

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for the goroutine. Idempotent.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.exited
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.exited)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.reload()
		}
	}
}

// reload re-reads the file when its size or mtime moved and applies it if
// the content differs.
func (w *Watcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	prev := w.stamp
	w.mu.Unlock()
	if info.ModTime().Equal(prev.modTime) && info.Size() == prev.size {
		return
	}

	cfg, stamp, err := readStamped(w.path)
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.stamp = stamp
	if stamp.sum == prev.sum {
		w.mu.Unlock()
		return
	}
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"persona_changed", d.PersonaChanged,
		"log_level_changed", d.LogLevelChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: some changes take effect after a restart", "fields", d.RestartRequired)
	}
	if w.onChange != nil && (d.PersonaChanged || d.LogLevelChanged) {
		w.onChange(d, cfg)
	}
}

// readStamped loads and validates the file and stamps the bytes it parsed.
func readStamped(path string) (*Config, fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
