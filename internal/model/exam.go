package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam is the catalog definition an attempt is taken against.
// Rows referenced by any attempt are frozen by the schema.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	SubjectID       int        `json:"subject_id"`
	SubjectName     string     `json:"subject_name"`
	DurationMinutes int        `json:"duration_minutes"`
	QuestionCount   int        `json:"question_count"`
	MaxAttempts     int        `json:"max_attempts"`
	IsActive        bool       `json:"is_active"`
	Questions       []Question `json:"questions"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Duration is the hard time limit of one attempt.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// TotalQuestions prefers the loaded question list over the declared count.
func (e *Exam) TotalQuestions() int {
	if len(e.Questions) > 0 {
		return len(e.Questions)
	}
	return e.QuestionCount
}

// Question returns the question with the given id, or nil.
func (e *Exam) Question(id uuid.UUID) *Question {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i]
		}
	}
	return nil
}

// ForStudent strips the answer keys.
func (e *Exam) ForStudent() []QuestionForStudent {
	out := make([]QuestionForStudent, 0, len(e.Questions))
	for _, q := range e.Questions {
		out = append(out, q.ForStudent())
	}
	return out
}
