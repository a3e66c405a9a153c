package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/service"
)

// Reconciler restores deadlines and pipeline jobs from PostgreSQL.
type Reconciler interface {
	Reconcile(ctx context.Context, unfinalizedLimit int) (service.ReconcileReport, error)
}

// ReconcileJob runs the recovery sweep on boot and then on a cron schedule.
type ReconcileJob struct {
	rec      Reconciler
	schedule string
	limit    int
	timeout  time.Duration
	log      zerolog.Logger
}

// NewReconcileJob creates a new ReconcileJob.
func NewReconcileJob(rec Reconciler, schedule string, log zerolog.Logger) *ReconcileJob {
	return &ReconcileJob{
		rec:      rec,
		schedule: schedule,
		limit:    500,
		timeout:  45 * time.Second,
		log:      log.With().Str("component", "reconcile_job").Logger(),
	}
}

// RunOnce performs one sweep.
func (j *ReconcileJob) RunOnce(ctx context.Context) (service.ReconcileReport, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	report, err := j.rec.Reconcile(ctx, j.limit)
	if err != nil {
		j.log.Error().Err(err).Msg("Reconcile failed")
	}
	return report, err
}

// Start runs a sweep immediately, then on schedule until ctx is cancelled.
// Call in a goroutine.
func (j *ReconcileJob) Start(ctx context.Context) error {
	_, _ = j.RunOnce(ctx)

	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(&j.log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(&j.log)),
	))
	if _, err := c.AddFunc(j.schedule, func() {
		_, _ = j.RunOnce(ctx)
	}); err != nil {
		j.log.Error().Err(err).Str("schedule", j.schedule).Msg("Invalid reconcile schedule")
		return err
	}

	c.Start()
	j.log.Info().Str("schedule", j.schedule).Msg("Worker started")

	<-ctx.Done()
	<-c.Stop().Done()
	j.log.Info().Msg("Worker stopped")
	return nil
}
