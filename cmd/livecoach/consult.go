package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livecoach/internal/config"
	"github.com/MrWong99/livecoach/internal/consult"
	"github.com/MrWong99/livecoach/internal/health"
	"github.com/MrWong99/livecoach/internal/observe"
	"github.com/MrWong99/livecoach/pkg/audio"
	"github.com/MrWong99/livecoach/pkg/live"
)

// shutdownTimeout bounds telemetry flushing and the ops server shutdown.
const shutdownTimeout = 10 * time.Second

type consultFlags struct {
	voice    string
	baseURL  string
	capture  string
	playback string
}

func newConsultCmd(root *rootFlags) *cobra.Command {
	flags := &consultFlags{}
	cmd := &cobra.Command{
		Use:   "consult",
		Short: "Start a live consultation (default)",
		Long: `Start a live voice consultation.

The microphone is streamed to the coach and the spoken answer is played back
while its transcript is printed. Press Ctrl+C to end the consultation.

Examples:
  # Talk through the default sound devices
  livecoach consult

  # Rehearse against a local emulator
  livecoach emulate &
  livecoach consult --base-url ws://127.0.0.1:8765/ws

  # Use external recorder and player processes
  arecord -q -f S16_LE -r 16000 -c 1 | livecoach consult --capture pipe --playback pipe | aplay -q -f S16_LE -r 24000 -c 1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsult(cmd, root, flags)
		},
	}
	cmd.Flags().StringVar(&flags.voice, "voice", "", "prebuilt voice name (overrides live.voice)")
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "WebSocket base URL (overrides live.base_url)")
	cmd.Flags().StringVar(&flags.capture, "capture", "", "capture backend: portaudio or pipe (overrides audio.capture.backend)")
	cmd.Flags().StringVar(&flags.playback, "playback", "", "playback backend: portaudio or pipe (overrides audio.playback.backend)")
	return cmd
}

func runConsult(cmd *cobra.Command, root *rootFlags, flags *consultFlags) error {
	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, cfgPath, err := loadConfig(root.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	applyConsultFlags(cfg, flags)

	logger, levelVar := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Devices and transport ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBackends(reg)

	client := live.New(cfg.Live.APIKey, liveOptions(cfg)...)
	ctrl := consult.New(consult.Config{
		Dialer: client,
		NewCapture: func() (audio.CaptureSource, error) {
			return reg.CreateCapture(cfg.Audio.Capture, cfg.Audio.FrameBuffer, func() {
				metrics.RecordFrameDropped(context.Background(), "capture")
			})
		},
		NewSink: func() (audio.PlaybackSink, error) {
			return reg.CreatePlayback(cfg.Audio.Playback, audio.PlaybackSampleRate)
		},
		Metrics:          metrics,
		Voice:            cfg.Live.Voice,
		Instructions:     cfg.Live.Instructions,
		TranscribeOutput: true,
		ConnectTimeout:   cfg.Live.ConnectTimeout,
	})

	// ── Hot reload ────────────────────────────────────────────────────────────
	if cfgPath != "" {
		w, err := config.NewWatcher(cfgPath, func(d config.ConfigDiff, _ *config.Config) {
			if d.LogLevelChanged {
				levelVar.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.PersonaChanged {
				ctrl.SetPersona(d.NewVoice, d.NewInstruction)
				slog.Info("persona updated; applies to the next consultation", "voice", d.NewVoice)
			}
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	view := newTranscriptView(transcriptOutput(cfg))
	view.Banner(cfg, cfgPath)

	// ── Entitlement ───────────────────────────────────────────────────────────
	gate := consult.Gate(consult.AllowAll)
	if err := gate.Check(ctx); err != nil {
		view.Error(consult.UserMessage(err))
		return errors.Join(errReported, err)
	}

	slog.Info("livecoach starting",
		"config", cfgPath,
		"model", client.Model(),
		"capture", cfg.Audio.Capture.Backend,
		"playback", cfg.Audio.Playback.Backend,
		"metrics_addr", cfg.Server.MetricsAddr,
	)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.MetricsAddr != "off" {
		srv := newOpsServer(cfg, ctrl, metrics, tel)
		g.Go(func() error {
			slog.Info("ops server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		return runSession(gctx, ctrl, view)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, errReported) {
		slog.Error("consultation ended with an error", "err", err)
	}
	slog.Info("goodbye")
	return err
}

// runSession connects, then waits for Ctrl+C or a session failure.
func runSession(ctx context.Context, ctrl *consult.Controller, view *transcriptView) error {
	view.Status("Connecting to your coach…")
	if err := ctrl.Connect(ctx, view.Coach); err != nil {
		view.Error(consult.UserMessage(err))
		return errors.Join(errReported, err)
	}
	defer ctrl.Disconnect()

	if info, ok := ctrl.Info(); ok {
		slog.Info("consultation started", "session_id", info.SessionID, "voice", info.Voice)
	}
	view.Status("Connected. Start talking; press Ctrl+C to finish.")

	select {
	case <-ctx.Done():
		view.Status("Ending consultation.")
		return nil
	case err := <-ctrl.Errors():
		view.Error(consult.UserMessage(err))
		return errors.Join(errReported, err)
	}
}

func applyConsultFlags(cfg *config.Config, flags *consultFlags) {
	if flags.voice != "" {
		cfg.Live.Voice = flags.voice
	}
	if flags.baseURL != "" {
		cfg.Live.BaseURL = flags.baseURL
	}
	if flags.capture != "" {
		cfg.Audio.Capture.Backend = flags.capture
	}
	if flags.playback != "" {
		cfg.Audio.Playback.Backend = flags.playback
	}
}

func liveOptions(cfg *config.Config) []live.Option {
	var opts []live.Option
	if cfg.Live.Model != "" {
		opts = append(opts, live.WithModel(cfg.Live.Model))
	}
	if cfg.Live.BaseURL != "" {
		opts = append(opts, live.WithBaseURL(cfg.Live.BaseURL))
	}
	if cfg.Live.SendQueue > 0 {
		opts = append(opts, live.WithSendQueue(cfg.Live.SendQueue))
	}
	return opts
}

// transcriptOutput keeps stdout free for audio when the pipe backend plays
// to it.
func transcriptOutput(cfg *config.Config) io.Writer {
	pb := cfg.Audio.Playback
	if pb.Backend == "pipe" && (pb.Path == "" || pb.Path == "-") {
		return os.Stderr
	}
	return os.Stdout
}

// ── Ops server ────────────────────────────────────────────────────────────────

// newOpsServer serves /metrics, /healthz and /readyz.
func newOpsServer(cfg *config.Config, ctrl *consult.Controller, metrics *observe.Metrics, tel *observe.Telemetry) *http.Server {
	checks := []health.Checker{
		{
			Name: "config",
			Check: func(context.Context) error {
				if cfg.Live.APIKey == "" {
					return errors.New("no API key configured")
				}
				return nil
			},
		},
		{
			Name: "session",
			Check: func(context.Context) error {
				if ctrl.State() == consult.StateFailed {
					return errors.New("session failed")
				}
				return nil
			},
		},
	}
	h := health.New(checks,
		health.WithInfo(
			health.Info{Name: "version", Value: func() string { return version }},
			health.Info{Name: "session_state", Value: func() string { return ctrl.State().String() }},
			health.Info{Name: "session_id", Value: func() string {
				info, _ := ctrl.Info()
				return info.SessionID
			}},
		),
	)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("/metrics", tel.MetricsHandler())

	return &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
