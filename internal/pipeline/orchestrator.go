package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Job is a long-running background task. It should return when ctx is done.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Orchestrator runs a set of Jobs side by side.
type Orchestrator struct {
	jobs   []Job
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator for jobs.
func NewOrchestrator(logger *slog.Logger, jobs ...Job) *Orchestrator {
	return &Orchestrator{
		jobs:   jobs,
		logger: logger.With(slog.String("component", "orchestrator")),
	}
}

// Add registers another job. It must be called before Run.
func (o *Orchestrator) Add(name string, run func(ctx context.Context) error) {
	o.jobs = append(o.jobs, Job{Name: name, Run: run})
}

// Len returns the number of registered jobs.
func (o *Orchestrator) Len() int {
	return len(o.jobs)
}

// Run starts every job in an errgroup and waits for all of them. The first job
// to fail while ctx is live cancels the others.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range o.jobs {
		g.Go(func() error {
			o.logger.InfoContext(ctx, "job starting", slog.String("job", job.Name))
			err := job.Run(ctx)
			if ctx.Err() != nil {
				o.logger.InfoContext(ctx, "job stopped", slog.String("job", job.Name))
				return nil
			}
			if err == nil {
				o.logger.InfoContext(ctx, "job finished", slog.String("job", job.Name))
				return nil
			}
			return fmt.Errorf("%s: %w", job.Name, err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}
