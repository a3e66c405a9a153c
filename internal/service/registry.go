package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository"
)

// SessionRegistry answers "is there a live attempt for (student, exam)".
// The unique partial index is the authority; an attempt leaves the registry
// by leaving in_progress.
type SessionRegistry struct {
	attempts AttemptStore
}

func NewSessionRegistry(attempts AttemptStore) *SessionRegistry {
	return &SessionRegistry{attempts: attempts}
}

// LookupActive returns the live attempt or nil.
func (r *SessionRegistry) LookupActive(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error) {
	a, err := r.attempts.GetActive(ctx, studentID, examID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup active attempt: %w", err)
	}
	return a, nil
}

// Register persists a new in_progress attempt. Losing the unique index race
// returns a ConflictError carrying the winner.
func (r *SessionRegistry) Register(ctx context.Context, a *model.Attempt) error {
	err := r.attempts.Create(ctx, a)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrDuplicateActive) {
		return fmt.Errorf("register attempt: %w", err)
	}

	existing, lookupErr := r.LookupActive(ctx, a.StudentID, a.ExamID)
	if lookupErr != nil {
		return lookupErr
	}
	if existing == nil {
		// Winner was closed between the insert and the lookup.
		return &ConflictError{Reason: "a live attempt was created concurrently"}
	}
	return &ConflictError{Existing: existing, Reason: "a live attempt already exists"}
}

// ListActive returns every in_progress attempt, for recovery.
func (r *SessionRegistry) ListActive(ctx context.Context) ([]model.Attempt, error) {
	attempts, err := r.attempts.ListInProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active attempts: %w", err)
	}
	return attempts, nil
}
