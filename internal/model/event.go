package model

import (
	"time"

	"github.com/google/uuid"
)

type AttemptEventType string

const (
	AttemptEventExpired   AttemptEventType = "expired"
	AttemptEventSubmitted AttemptEventType = "submitted"
	AttemptEventFinalized AttemptEventType = "finalized"
	AttemptEventGraded    AttemptEventType = "graded"
)

// AttemptEvent is pushed to the attempt's PubSub channel and, for finalized
// attempts, to the review topic.
type AttemptEvent struct {
	Type       AttemptEventType `json:"type"`
	AttemptID  uuid.UUID        `json:"attempt_id"`
	ExamID     uuid.UUID        `json:"exam_id"`
	StudentID  int              `json:"student_id"`
	Status     AttemptStatus    `json:"status"`
	Result     *Result          `json:"result,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
