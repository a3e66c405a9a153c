package model

import (
	"time"

	"github.com/google/uuid"
)

// ScoreStatus qualifies the score of a Result.
type ScoreStatus string

const (
	// ScoreStatusProvisional means every question was auto-graded.
	ScoreStatusProvisional ScoreStatus = "provisional"
	// ScoreStatusPending means free-response questions still await a grader.
	ScoreStatusPending ScoreStatus = "pending"
	// ScoreStatusFinal is set once the attempt is graded externally.
	ScoreStatusFinal ScoreStatus = "final"
)

// Result is the read projection of a terminal attempt.
type Result struct {
	AttemptID      uuid.UUID     `json:"attempt_id"`
	ExamID         uuid.UUID     `json:"exam_id"`
	StudentID      int           `json:"student_id"`
	ExamName       string        `json:"exam_name"`
	SubjectName    string        `json:"subject_name"`
	SubmittedAt    time.Time     `json:"submitted_at"`
	AnsweredCount  int           `json:"answered_count"`
	TotalQuestions int           `json:"total_questions"`
	Status         AttemptStatus `json:"status"`
	Score          float64       `json:"score"`
	MaxScore       float64       `json:"max_score"`
	PendingManual  int           `json:"pending_manual"`
	ScoreStatus    ScoreStatus   `json:"score_status"`
	ComputedAt     time.Time     `json:"computed_at"`
}
