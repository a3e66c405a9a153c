package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/service"
)

// Finalizer runs the submission pipeline for one attempt.
type Finalizer interface {
	Run(ctx context.Context, attemptID uuid.UUID) (*model.Result, error)
}

// SubmissionQueue enqueues terminal attempts for finalization.
type SubmissionQueue struct {
	rdb   *redis.Client
	queue string
}

func NewSubmissionQueue(rdb *redis.Client) *SubmissionQueue {
	return &SubmissionQueue{rdb: rdb, queue: config.WorkerKey.FinalizeAttemptsQueue}
}

// Dispatch appends the attempt to the finalize queue.
func (q *SubmissionQueue) Dispatch(ctx context.Context, attemptID uuid.UUID) error {
	return q.rdb.RPush(ctx, q.queue, attemptID.String()).Err()
}

// SubmissionWorker consumes finalize_attempts_queue and runs the pipeline.
type SubmissionWorker struct {
	rdb          *redis.Client
	queue        string
	finalizer    Finalizer
	retryDelay   time.Duration
	drainTimeout time.Duration
	log          zerolog.Logger
}

// NewSubmissionWorker creates a new SubmissionWorker.
func NewSubmissionWorker(rdb *redis.Client, finalizer Finalizer, cfg *config.Config, log zerolog.Logger) *SubmissionWorker {
	return &SubmissionWorker{
		rdb:          rdb,
		queue:        config.WorkerKey.FinalizeAttemptsQueue,
		finalizer:    finalizer,
		retryDelay:   cfg.DeadlineRetryDelay,
		drainTimeout: 10 * time.Second,
		log:          log.With().Str("component", "submission_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SubmissionWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			sleepCtx(ctx, w.retryDelay)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if requeue := w.handle(ctx, result[1]); requeue {
		w.rdb.RPush(context.Background(), w.queue, result[1])
		sleepCtx(ctx, w.retryDelay)
	}
}

// handle runs one job and reports whether it should be retried later.
func (w *SubmissionWorker) handle(ctx context.Context, member string) bool {
	attemptID, err := uuid.Parse(member)
	if err != nil {
		w.log.Error().Err(err).Str("member", member).Msg("Dropping malformed job")
		return false
	}

	_, err = w.finalizer.Run(ctx, attemptID)
	switch {
	case err == nil:
		return false
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidState):
		w.log.Warn().Err(err).Str("attempt_id", member).Msg("Dropping job")
		return false
	default:
		w.log.Error().Err(err).Str("attempt_id", member).Msg("Finalize error, requeueing")
		return true
	}
}

// drain processes what is left in the queue before shutdown.
func (w *SubmissionWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		member, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}
		if w.handle(ctx, member) {
			w.rdb.RPush(context.Background(), w.queue, member)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
