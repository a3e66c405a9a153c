package service

import (
	"context"
	"errors"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exam-engine/internal/repository"
)

// Retrier retries infrastructure failures with bounded exponential backoff.
// Expected outcomes (domain errors, missing rows, lost CAS races, cancellation) fail fast.
type Retrier struct {
	r *retrier.Retrier
}

func NewRetrier(attempts int, base time.Duration) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	// ExponentialBackoff(n, ...) yields n retries; attempts counts the first try too.
	return &Retrier{r: retrier.New(retrier.ExponentialBackoff(attempts-1, base), infraClassifier{})}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or runs out of tries.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.r.Run(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx)
	})
}

type infraClassifier struct{}

func (infraClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case IsDomainError(err),
		errors.Is(err, pgx.ErrNoRows),
		errors.Is(err, repository.ErrDuplicateActive),
		errors.Is(err, repository.ErrStatusConflict),
		errors.Is(err, repository.ErrAttemptNotWritable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return retrier.Fail
	}
	return retrier.Retry
}
