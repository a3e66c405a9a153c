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
	"github.com/stemsi/exam-engine/internal/repository"
)

// ReviewService is the grading collaborator's read/advance surface.
type ReviewService struct {
	catalog  ExamCatalog
	attempts AttemptStore
	answers  AnswerStore
	cache    ResultCache
	notifier AttemptNotifier
	log      zerolog.Logger
}

// NewReviewService creates a new ReviewService.
func NewReviewService(catalog ExamCatalog, attempts AttemptStore, answers AnswerStore, cache ResultCache, notifier AttemptNotifier, log zerolog.Logger) *ReviewService {
	return &ReviewService{
		catalog:  catalog,
		attempts: attempts,
		answers:  answers,
		cache:    cache,
		notifier: notifier,
		log:      log.With().Str("component", "review_service").Logger(),
	}
}

// ListTerminal pages through the terminal attempts of an exam.
func (s *ReviewService) ListTerminal(ctx context.Context, examID uuid.UUID, page, perPage int) ([]model.Attempt, int, error) {
	if _, err := s.catalog.GetExam(ctx, examID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	attempts, total, err := s.attempts.ListTerminalByExam(ctx, examID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list terminal attempts: %w", err)
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	return attempts, total, nil
}

// FrozenAnswers returns the answers of a terminal attempt.
func (s *ReviewService) FrozenAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, attemptNotFound(attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if !attempt.Status.IsTerminal() {
		return nil, &InvalidStateError{AttemptID: attemptID, Status: attempt.Status, Op: "review", Reason: "attempt still in progress"}
	}

	answers, err := s.answers.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if answers == nil {
		answers = []model.Answer{}
	}
	return answers, nil
}

// MarkGraded advances submitted or expired_submitted to graded.
func (s *ReviewService) MarkGraded(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	graded, err := s.attempts.MarkGraded(ctx, attemptID)
	if errors.Is(err, repository.ErrStatusConflict) {
		current, getErr := s.attempts.GetByID(ctx, attemptID)
		if errors.Is(getErr, pgx.ErrNoRows) {
			return nil, attemptNotFound(attemptID)
		}
		if getErr != nil {
			return nil, fmt.Errorf("get attempt: %w", getErr)
		}
		return nil, &InvalidStateError{AttemptID: attemptID, Status: current.Status, Op: "grade"}
	}
	if err != nil {
		return nil, fmt.Errorf("mark graded: %w", err)
	}

	if err := s.cache.Delete(ctx, attemptID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to drop cached result")
	}

	ev := model.AttemptEvent{
		Type:       model.AttemptEventGraded,
		AttemptID:  graded.ID,
		ExamID:     graded.ExamID,
		StudentID:  graded.StudentID,
		Status:     graded.Status,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to notify graded attempt")
	}

	s.log.Info().Str("attempt_id", attemptID.String()).Msg("Attempt graded")
	return graded, nil
}
