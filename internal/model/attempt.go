package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusInProgress       AttemptStatus = "in_progress"
	AttemptStatusSubmitted        AttemptStatus = "submitted"
	AttemptStatusExpiredSubmitted AttemptStatus = "expired_submitted"
	AttemptStatusGraded           AttemptStatus = "graded"
)

// IsTerminal reports whether edits are forbidden in this status.
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptStatusSubmitted, AttemptStatusExpiredSubmitted, AttemptStatusGraded:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal lifecycle edge.
func (s AttemptStatus) CanTransitionTo(next AttemptStatus) bool {
	switch s {
	case AttemptStatusInProgress:
		return next == AttemptStatusSubmitted || next == AttemptStatusExpiredSubmitted
	case AttemptStatusSubmitted, AttemptStatusExpiredSubmitted:
		return next == AttemptStatusGraded
	}
	return false
}

// SubmitTrigger says who closed the attempt.
type SubmitTrigger string

const (
	SubmitTriggerManual SubmitTrigger = "manual"
	SubmitTriggerExpiry SubmitTrigger = "expiry"
)

// TerminalStatus maps a trigger to the status it produces.
func (t SubmitTrigger) TerminalStatus() AttemptStatus {
	if t == SubmitTriggerExpiry {
		return AttemptStatusExpiredSubmitted
	}
	return AttemptStatusSubmitted
}

func (t SubmitTrigger) Valid() bool {
	return t == SubmitTriggerManual || t == SubmitTriggerExpiry
}

// Attempt is one student's timed run at one exam.
type Attempt struct {
	ID             uuid.UUID     `json:"id"`
	ExamID         uuid.UUID     `json:"exam_id"`
	StudentID      int           `json:"student_id"`
	StartedAt      time.Time     `json:"started_at"`
	Deadline       time.Time     `json:"deadline"`
	Status         AttemptStatus `json:"status"`
	SubmittedAt    *time.Time    `json:"submitted_at,omitempty"`
	AnsweredCount  int           `json:"answered_count"`
	TotalQuestions int           `json:"total_questions"`
	FinalizedAt    *time.Time    `json:"finalized_at,omitempty"`
}

// Expired reports whether the hard deadline has passed at now.
func (a *Attempt) Expired(now time.Time) bool {
	return !now.Before(a.Deadline)
}

// Remaining returns the time left before the deadline, never negative.
func (a *Attempt) Remaining(now time.Time) time.Duration {
	if a.Status != AttemptStatusInProgress {
		return 0
	}
	d := a.Deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// StartAttemptResponse is returned by start-exam, both for new and resumed attempts.
type StartAttemptResponse struct {
	AttemptID uuid.UUID     `json:"attempt_id"`
	ExamID    uuid.UUID     `json:"exam_id"`
	Deadline  time.Time     `json:"deadline"`
	Status    AttemptStatus `json:"status"`
	Resumed   bool          `json:"resumed"`
}

// SubmitAttemptResponse acknowledges a manual submission.
type SubmitAttemptResponse struct {
	AttemptID   uuid.UUID     `json:"attempt_id"`
	Status      AttemptStatus `json:"status"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// AttemptState is what a reloading client needs to restore the exam screen.
type AttemptState struct {
	Attempt          *Attempt                   `json:"attempt"`
	RemainingSeconds int64                      `json:"remaining_seconds"`
	ReadOnly         bool                       `json:"read_only"`
	Questions        []QuestionForStudent       `json:"questions"`
	Answers          map[string]json.RawMessage `json:"answers"`
}
