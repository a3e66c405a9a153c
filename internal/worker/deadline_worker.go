package worker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/service"
)

// ExpireFunc forces the expiry submission of one attempt.
type ExpireFunc func(ctx context.Context, attemptID uuid.UUID) error

// DeadlineWorker keeps attempt deadlines in a Redis sorted set
// (member = attempt id, score = deadline in unix millis) and fires the
// expiry callback for due members. Any number of processes may poll the
// same set; ZREM decides which one owns a fire.
type DeadlineWorker struct {
	rdb        *redis.Client
	key        string
	interval   time.Duration
	batch      int64
	retryDelay time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewDeadlineWorker creates a new DeadlineWorker.
func NewDeadlineWorker(rdb *redis.Client, cfg *config.Config, log zerolog.Logger) *DeadlineWorker {
	return &DeadlineWorker{
		rdb:        rdb,
		key:        config.WorkerKey.AttemptDeadlines,
		interval:   cfg.DeadlinePollInterval,
		batch:      int64(cfg.DeadlineBatchSize),
		retryDelay: cfg.DeadlineRetryDelay,
		log:        log.With().Str("component", "deadline_worker").Logger(),
		now:        time.Now,
	}
}

// Arm schedules (or reschedules) the expiry of an attempt.
func (w *DeadlineWorker) Arm(ctx context.Context, attemptID uuid.UUID, deadline time.Time) error {
	return w.rdb.ZAdd(ctx, w.key, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: attemptID.String(),
	}).Err()
}

// Disarm cancels a scheduled expiry. Removing an absent member is a no-op.
func (w *DeadlineWorker) Disarm(ctx context.Context, attemptID uuid.UUID) error {
	return w.rdb.ZRem(ctx, w.key, attemptID.String()).Err()
}

// Start polls until ctx is cancelled. Call in a goroutine.
func (w *DeadlineWorker) Start(ctx context.Context, fire ExpireFunc) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			for w.FireDue(ctx, fire) == int(w.batch) && ctx.Err() == nil {
				// Full batch: keep going without waiting for the next tick.
			}
		}
	}
}

// FireDue claims and fires up to one batch of due deadlines and returns how
// many were claimed.
func (w *DeadlineWorker) FireDue(ctx context.Context, fire ExpireFunc) int {
	now := w.now()
	due, err := w.rdb.ZRangeByScore(ctx, w.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: w.batch,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("ZRANGEBYSCORE error")
		}
		return 0
	}

	claimed := 0
	for _, member := range due {
		removed, err := w.rdb.ZRem(ctx, w.key, member).Result()
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", member).Msg("Claim error")
			continue
		}
		if removed == 0 {
			// Another poller or a Disarm got there first.
			continue
		}
		claimed++

		attemptID, err := uuid.Parse(member)
		if err != nil {
			w.log.Error().Err(err).Str("member", member).Msg("Dropping malformed deadline member")
			continue
		}
		w.fire(ctx, fire, attemptID)
	}
	return claimed
}

func (w *DeadlineWorker) fire(ctx context.Context, fire ExpireFunc, attemptID uuid.UUID) {
	err := fire(ctx, attemptID)
	switch {
	case err == nil:
		w.log.Info().Str("attempt_id", attemptID.String()).Msg("Deadline fired")
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrNotFound):
		// Already closed, or fired early and re-armed by the state machine.
		w.log.Debug().Err(err).Str("attempt_id", attemptID.String()).Msg("Deadline fire discarded")
	default:
		retryAt := w.now().Add(w.retryDelay)
		w.log.Error().Err(err).
			Str("attempt_id", attemptID.String()).
			Time("retry_at", retryAt).
			Msg("Expiry failed, re-arming")
		if armErr := w.Arm(context.Background(), attemptID, retryAt); armErr != nil {
			w.log.Error().Err(armErr).Str("attempt_id", attemptID.String()).Msg("Re-arm failed, left for reconcile")
		}
	}
}

// Pending returns the number of armed deadlines.
func (w *DeadlineWorker) Pending(ctx context.Context) (int64, error) {
	return w.rdb.ZCard(ctx, w.key).Result()
}
