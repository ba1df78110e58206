// Command mandatebot runs the mandate-constrained trading agent and the
// gated-data gateway, and carries a few operator utilities.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/mandatebot/internal/app"
	"github.com/alanyoungcy/mandatebot/internal/config"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:           "mandatebot",
		Short:         "Mandate-constrained trading agent and gated-data gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "path to configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(runCmd(), encryptKeyCmd(), settlementsCmd(), decisionsCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the configured mode (agent, gateway or full)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				logger.Error("invalid configuration", slog.String("error", err.Error()))
				return err
			}

			redacted := config.RedactedConfig(cfg)
			logger.Info("mandatebot starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", cfgFile),
				slog.Any("settings", redacted),
			)

			application := app.New(cfg, version, logger)
			defer application.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := application.Run(ctx); err != nil {
				logger.Error("application exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("mandatebot stopped")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mandatebot %s (commit %s)\n", version, commit)
		},
	}
}

// loadConfig reads the config file (a missing default file is tolerated) and
// builds the JSON logger at the configured level.
func loadConfig() (*config.Config, *slog.Logger, error) {
	path := cfgFile
	if _, err := os.Stat(path); err != nil && path == "config.toml" {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", cfgFile, err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
