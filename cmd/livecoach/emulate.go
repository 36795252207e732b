package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livecoach/internal/config"
	"github.com/MrWong99/livecoach/internal/liveemu"
)

type emulateFlags struct {
	addr           string
	apiKey         string
	window         time.Duration
	chunk          time.Duration
	reply          string
	interruptEvery int
	malformedEvery int
	failAfter      int
	goAway         time.Duration
	logLevel       string
}

func newEmulateCmd() *cobra.Command {
	flags := &emulateFlags{}
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Run a local stand-in for the live endpoint",
		Long: `Run a local WebSocket server that speaks the live audio protocol.

Every window of received microphone audio is answered with the same audio
resampled to 24 kHz plus a fixed transcript, so a full consultation can be
rehearsed offline. Faults can be injected to exercise interruption, malformed
fragments, server shutdown notices and session loss.

Examples:
  livecoach emulate --window 2s --reply "Try a warmer blush."
  livecoach emulate --interrupt-every 3 --fail-after 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEmulate(cmd.Context(), flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.addr, "addr", "127.0.0.1:8765", "listen address")
	f.StringVar(&flags.apiKey, "api-key", "", "require this API key (empty accepts any)")
	f.DurationVar(&flags.window, "window", time.Second, "input audio collected before each answer")
	f.DurationVar(&flags.chunk, "chunk", 250*time.Millisecond, "audio duration per outbound message")
	f.StringVar(&flags.reply, "reply", liveemu.DefaultReply, "transcript sent with every answer")
	f.IntVar(&flags.interruptEvery, "interrupt-every", 0, "interrupt every Nth answer (0 disables)")
	f.IntVar(&flags.malformedEvery, "malformed-every", 0, "add a malformed fragment to every Nth answer (0 disables)")
	f.IntVar(&flags.failAfter, "fail-after", 0, "drop the session after N answers (0 disables)")
	f.DurationVar(&flags.goAway, "go-away", 0, "announce shutdown with this time left after setup (0 disables)")
	f.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	return cmd
}

func runEmulate(ctx context.Context, flags *emulateFlags) error {
	logger, _ := newLogger(config.LogLevel(flags.logLevel))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emu := liveemu.New(
		liveemu.WithAPIKey(flags.apiKey),
		liveemu.WithWindow(flags.window),
		liveemu.WithChunk(flags.chunk),
		liveemu.WithReply(flags.reply),
		liveemu.WithInterruptEvery(flags.interruptEvery),
		liveemu.WithMalformedEvery(flags.malformedEvery),
		liveemu.WithFailAfter(flags.failAfter),
		liveemu.WithGoAway(flags.goAway),
	)
	srv := &http.Server{
		Addr:              flags.addr,
		Handler:           emu.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("emulator listening", "addr", flags.addr, "base_url", "ws://"+flags.addr+"/ws")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("emulator: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err := g.Wait()

	st := emu.Stats()
	slog.Info("emulator stopped",
		"sessions", st.Sessions,
		"rejected", st.Rejected,
		"chunks_received", st.ChunksReceived,
		"answers", st.Answers,
	)
	return err
}
