package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livecoach/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
live:
  voice: Kore
  instructions: "You are a makeup artist."
`

const watcherUpdatedYAML = `
server:
  log_level: debug
live:
  voice: Puck
  instructions: "You are a skincare coach."
`

const watcherRestartOnlyYAML = `
server:
  log_level: info
  metrics_addr: ":9999"
live:
  voice: Kore
  instructions: "You are a makeup artist."
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime makes sure the next poll sees a new modification time even on
// filesystems with coarse timestamps.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Live.Voice != "Kore" {
		t.Errorf("voice: got %q, want Kore", cfg.Live.Voice)
	}
}

func TestWatcher_DetectsPersonaAndLogLevel(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var (
		mu      sync.Mutex
		gotDiff config.ConfigDiff
		gotCfg  *config.Config
	)
	called := make(chan struct{}, 1)

	w, err := config.NewWatcher(cfgPath, func(d config.ConfigDiff, cfg *config.Config) {
		mu.Lock()
		gotDiff, gotCfg = d, cfg
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()

	if !gotDiff.PersonaChanged || gotDiff.NewVoice != "Puck" {
		t.Errorf("persona diff = %+v", gotDiff)
	}
	if !gotDiff.LogLevelChanged || gotDiff.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", gotDiff)
	}
	if gotCfg == nil || gotCfg.Live.Instructions != "You are a skincare coach." {
		t.Errorf("callback config = %+v", gotCfg)
	}
	if cur := w.Current(); cur.Live.Voice != "Puck" {
		t.Errorf("Current() voice: got %q, want Puck", cur.Live.Voice)
	}
}

func TestWatcher_RestartOnlyChangeSkipsCallback(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var (
		mu    sync.Mutex
		calls int
	)
	w, err := config.NewWatcher(cfgPath, func(config.ConfigDiff, *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherRestartOnlyYAML)
	bumpMtime(t, cfgPath)

	deadline := time.Now().Add(2 * time.Second)
	for w.Current().Server.MetricsAddr != ":9999" && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := w.Current().Server.MetricsAddr; got != ":9999" {
		t.Fatalf("reload not observed, metrics_addr = %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback fired %d times for a restart-only change", calls)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var (
		mu    sync.Mutex
		calls int
	)
	w, err := config.NewWatcher(cfgPath, func(config.ConfigDiff, *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherInvalidYAML)
	bumpMtime(t, cfgPath)

	// Wait enough polls for it to notice the change.
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", got)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher("/nonexistent/path.yaml", nil)
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.Stop()
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var (
		mu    sync.Mutex
		calls int
	)
	w, err := config.NewWatcher(cfgPath, func(config.ConfigDiff, *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	bumpMtime(t, cfgPath)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}
