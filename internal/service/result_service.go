package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/model"
)

// ResultComputer grades an attempt without persisting. Implemented by SubmissionPipeline.
type ResultComputer interface {
	Compute(ctx context.Context, attempt *model.Attempt) (*model.Result, error)
}

// ResultService serves the student's result view: cache, then table, then
// recompute from frozen answers.
type ResultService struct {
	attempts AttemptStore
	results  ResultStore
	cache    ResultCache
	computer ResultComputer
	log      zerolog.Logger
}

// NewResultService creates a new ResultService.
func NewResultService(attempts AttemptStore, results ResultStore, cache ResultCache, computer ResultComputer, log zerolog.Logger) *ResultService {
	return &ResultService{
		attempts: attempts,
		results:  results,
		cache:    cache,
		computer: computer,
		log:      log.With().Str("component", "result_service").Logger(),
	}
}

// ByAttempt returns the result of one of the student's attempts.
func (s *ResultService) ByAttempt(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.Result, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, attemptNotFound(attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, attemptNotFound(attemptID)
	}
	return s.project(ctx, attempt)
}

// ByExam returns the result of the student's latest attempt at an exam.
func (s *ResultService) ByExam(ctx context.Context, studentID int, examID uuid.UUID) (*model.Result, error) {
	attempt, err := s.attempts.LatestByStudentExam(ctx, studentID, examID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "attempt for exam", ID: examID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get latest attempt: %w", err)
	}
	return s.project(ctx, attempt)
}

func (s *ResultService) project(ctx context.Context, attempt *model.Attempt) (*model.Result, error) {
	if !attempt.Status.IsTerminal() {
		return nil, &InvalidStateError{AttemptID: attempt.ID, Status: attempt.Status, Op: "read result of", Reason: "attempt still in progress"}
	}

	res, err := s.cache.Get(ctx, attempt.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Result cache unavailable")
	}

	if res == nil {
		res, err = s.results.GetByAttempt(ctx, attempt.ID)
		switch {
		case err == nil:
			if cacheErr := s.cache.Set(ctx, res); cacheErr != nil {
				s.log.Warn().Err(cacheErr).Str("attempt_id", attempt.ID.String()).Msg("Failed to cache result")
			}
		case errors.Is(err, pgx.ErrNoRows):
			// Pipeline has not run yet; the worker persists it.
			res, err = s.computer.Compute(ctx, attempt)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("get result: %w", err)
		}
	}

	// Grading happens after finalization; the attempt row is authoritative for status.
	res.Status = attempt.Status
	res.ScoreStatus = scoreStatus(attempt.Status, res.PendingManual)
	return res, nil
}
