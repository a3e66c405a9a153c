package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exam-engine/internal/model"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)

// NotFoundError reports an unknown or inaccessible exam, question or attempt.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is returned when a student cannot open a new attempt.
// Existing is the live attempt when one is blocking, or the latest attempt
// when the exam's attempt limit is used up. Existing is nil when a concurrent
// winner closed before it could be read.
type ConflictError struct {
	Existing     *model.Attempt
	LimitReached bool
	Reason       string
}

func (e *ConflictError) Error() string {
	if e.Existing != nil {
		return fmt.Sprintf("%s (attempt %s)", e.Reason, e.Existing.ID)
	}
	return e.Reason
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Resumable reports whether the blocking attempt can be continued.
func (e *ConflictError) Resumable() bool {
	return e.Existing != nil && e.Existing.Status == model.AttemptStatusInProgress
}

// InvalidStateError is returned when an operation is illegal for the attempt's status.
type InvalidStateError struct {
	AttemptID uuid.UUID
	Status    model.AttemptStatus
	Op        string
	Reason    string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s attempt %s in status %s", e.Op, e.AttemptID, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// IsDomainError reports whether err is one of the expected, non-retryable outcomes.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidState)
}

func attemptNotFound(id uuid.UUID) error {
	return &NotFoundError{Resource: "attempt", ID: id.String()}
}
