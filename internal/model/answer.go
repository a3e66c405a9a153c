package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Answer is the latest saved response for one question of one attempt.
type Answer struct {
	AttemptID  uuid.UUID       `json:"attempt_id"`
	QuestionID uuid.UUID       `json:"question_id"`
	Payload    json.RawMessage `json:"payload"`
	SavedAt    time.Time       `json:"saved_at"`
}

// SaveAnswerRequest is the autosave body.
type SaveAnswerRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required,answer_payload"`
}

// SaveAnswerResponse acknowledges an autosave.
type SaveAnswerResponse struct {
	QuestionID uuid.UUID `json:"question_id"`
	SavedAt    time.Time `json:"saved_at"`
}
