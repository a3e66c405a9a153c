package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/model"
)

// SubmissionPipeline finalizes terminal attempts. Every step is an overwrite
// of values derived from frozen answers, so a crashed run is recovered by
// running it again.
type SubmissionPipeline struct {
	attempts  AttemptStore
	catalog   ExamCatalog
	answers   AnswerStore
	results   ResultStore
	cache     ResultCache
	publisher ResultPublisher
	notifier  AttemptNotifier
	retry     *Retrier
	log       zerolog.Logger
	now       func() time.Time
}

// NewSubmissionPipeline creates a new SubmissionPipeline.
func NewSubmissionPipeline(
	attempts AttemptStore,
	catalog ExamCatalog,
	answers AnswerStore,
	results ResultStore,
	cache ResultCache,
	publisher ResultPublisher,
	notifier AttemptNotifier,
	retry *Retrier,
	log zerolog.Logger,
) *SubmissionPipeline {
	return &SubmissionPipeline{
		attempts:  attempts,
		catalog:   catalog,
		answers:   answers,
		results:   results,
		cache:     cache,
		publisher: publisher,
		notifier:  notifier,
		retry:     retry,
		log:       log.With().Str("component", "submission_pipeline").Logger(),
		now:       time.Now,
	}
}

// Run finalizes one attempt: grade, persist, cache, publish, mark finalized.
// The attempt must be terminal.
func (p *SubmissionPipeline) Run(ctx context.Context, attemptID uuid.UUID) (*model.Result, error) {
	attempt, err := p.attempts.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, attemptNotFound(attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if !attempt.Status.IsTerminal() {
		return nil, &InvalidStateError{AttemptID: attemptID, Status: attempt.Status, Op: "finalize"}
	}

	res, err := p.Compute(ctx, attempt)
	if err != nil {
		return nil, err
	}

	if err := p.retry.Do(ctx, func(ctx context.Context) error {
		return p.results.Upsert(ctx, res)
	}); err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}

	if err := p.cache.Set(ctx, res); err != nil {
		p.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to cache result")
	}

	if err := p.retry.Do(ctx, func(ctx context.Context) error {
		return p.publisher.PublishFinalized(ctx, res)
	}); err != nil {
		return nil, fmt.Errorf("publish result: %w", err)
	}

	if err := p.retry.Do(ctx, func(ctx context.Context) error {
		return p.attempts.MarkFinalized(ctx, attemptID, res.AnsweredCount, res.ComputedAt)
	}); err != nil {
		return nil, fmt.Errorf("mark finalized: %w", err)
	}

	ev := model.AttemptEvent{
		Type:       model.AttemptEventFinalized,
		AttemptID:  attempt.ID,
		ExamID:     attempt.ExamID,
		StudentID:  attempt.StudentID,
		Status:     attempt.Status,
		Result:     res,
		OccurredAt: res.ComputedAt,
	}
	if err := p.notifier.Notify(ctx, ev); err != nil {
		p.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to notify finalized attempt")
	}

	p.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("answered", res.AnsweredCount).
		Int("total", res.TotalQuestions).
		Float64("score", res.Score).
		Int("pending_manual", res.PendingManual).
		Msg("Attempt finalized")

	return res, nil
}

// Compute grades a terminal attempt without persisting anything.
func (p *SubmissionPipeline) Compute(ctx context.Context, attempt *model.Attempt) (*model.Result, error) {
	exam, err := p.catalog.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, err
	}

	var answers []model.Answer
	if err := p.retry.Do(ctx, func(ctx context.Context) error {
		var listErr error
		answers, listErr = p.answers.ListByAttempt(ctx, attempt.ID)
		return listErr
	}); err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	res := GradeAttempt(exam, attempt, answers)
	res.ComputedAt = p.now().UTC().Truncate(time.Microsecond)
	return res, nil
}
