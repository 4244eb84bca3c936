// Package scheduler runs the ledger's periodic jobs on cron schedules
// evaluated in UTC.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner wraps a seconds-resolution cron. Overlapping runs of the same job
// are skipped rather than queued.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a Runner.
func New(logger *slog.Logger) *Runner {
	logger = logger.With(slog.String("component", "scheduler"))
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
	}
}

// Add registers job under name. The job receives the context passed to Run.
func (r *Runner) Add(ctx context.Context, name, spec string, job func(context.Context) error) error {
	_, err := r.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(ctx); err != nil {
			r.logger.ErrorContext(ctx, "scheduler: job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		r.logger.InfoContext(ctx, "scheduler: job done",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("scheduler: add %s (%q): %w", name, spec, err)
	}
	r.logger.Info("scheduler: job registered", slog.String("job", name), slog.String("spec", spec))
	return nil
}

// Run starts the cron and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (r *Runner) Run(ctx context.Context) error {
	r.cron.Start()
	r.logger.InfoContext(ctx, "scheduler: started", slog.Int("jobs", len(r.cron.Entries())))

	<-ctx.Done()
	<-r.cron.Stop().Done()
	r.logger.Info("scheduler: stopped")
	return ctx.Err()
}

// ValidateSpec reports whether spec parses with the runner's parser.
func ValidateSpec(spec string) error {
	_, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(spec)
	return err
}
