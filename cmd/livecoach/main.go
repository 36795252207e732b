// Command livecoach runs a live voice consultation with an AI beauty coach.
//
// Usage:
//
//	livecoach [consult] [flags]   talk to the coach until Ctrl+C
//	livecoach emulate [flags]     run a local stand-in for the live endpoint
//
// Configuration is read from livecoach.yaml (see --config); the API key may
// also come from GEMINI_API_KEY or GOOGLE_API_KEY, optionally loaded from a
// .env file.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrWong99/livecoach/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// defaultConfigPath is used when --config is not given. A missing default
// file is not an error.
const defaultConfigPath = "livecoach.yaml"

// rootFlags are shared by all subcommands.
type rootFlags struct {
	configPath string
	envFile    string
}

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "livecoach:", err)
		}
		return 1
	}
	return 0
}

// errReported marks failures that were already shown to the user.
var errReported = errors.New("already reported")

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	consultCmd := newConsultCmd(flags)

	root := &cobra.Command{
		Use:           "livecoach",
		Short:         "Live voice consultation with an AI beauty coach",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnv(flags.envFile, cmd.Flags().Changed("env-file"))
		},
		// Without a subcommand livecoach starts a consultation.
		RunE: consultCmd.RunE,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file with GEMINI_API_KEY and friends")
	root.Flags().AddFlagSet(consultCmd.Flags())

	root.AddCommand(consultCmd, newEmulateCmd())
	return root
}

// loadEnv loads the dotenv file into the process environment. A missing
// default file is ignored; variables already set win.
func loadEnv(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	slog.Debug("loaded env file", "path", path)
	return nil
}

// loadConfig reads the config file. When the default file does not exist,
// defaults plus the environment are used and the returned path is empty.
func loadConfig(path string, explicit bool) (*config.Config, string, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default(), "", nil
	}
	return nil, "", err
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger on stderr whose level can be changed at
// runtime through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
