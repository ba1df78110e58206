// Package app owns the process lifecycle: it wires the configured backends
// and runs the agent loop, the gated-data gateway, or both.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/mandatebot/internal/config"
	"github.com/alanyoungcy/mandatebot/internal/notify"
	"github.com/alanyoungcy/mandatebot/internal/pipeline"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, version string, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		version: version,
		logger:  logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, registers a job per enabled component and blocks
// until ctx is cancelled or a job fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("version", a.version),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	orch := pipeline.NewOrchestrator(a.logger)

	if a.cfg.RunsAgent() {
		loop, err := a.buildAgent(deps)
		if err != nil {
			return err
		}
		orch.Add("agent", loop.Run)
	}

	if a.cfg.RunsGateway() {
		gw, srv, err := a.buildGateway(deps)
		if err != nil {
			return err
		}
		orch.Add("http", func(ctx context.Context) error { return serve(ctx, srv) })
		orch.Add("challenge_sweeper", func(ctx context.Context) error {
			return gw.RunSweeper(ctx, sweepInterval)
		})
		if deps.BlobWriter != nil {
			exporter := pipeline.NewExporter(deps.UsageStore, deps.BlobWriter, deps.BlobLister, a.cfg.S3.Prefix, a.logger)
			orch.Add("usage_export", func(ctx context.Context) error {
				return exporter.Run(ctx, a.cfg.S3.ExportInterval.Duration)
			})
		}
	}

	if orch.Len() == 0 {
		return fmt.Errorf("app: mode %q starts nothing", a.cfg.Mode)
	}

	if err := orch.Run(ctx); err != nil {
		if nerr := deps.Notifier.Notify(context.WithoutCancel(ctx), notify.EventError, "mandatebot stopped", err.Error()); nerr != nil {
			a.logger.Warn("failure notification not delivered", slog.String("error", nerr.Error()))
		}
		return err
	}
	return nil
}

// Close tears down resources in reverse registration order. Subsequent calls
// are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
