package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeMultipleSelect QuestionType = "MULTIPLE_SELECT"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// Question belongs to exactly one exam.
type Question struct {
	ID             uuid.UUID       `json:"id"`
	ExamID         uuid.UUID       `json:"exam_id"`
	QuestionText   string          `json:"question_text"`
	QuestionType   QuestionType    `json:"question_type"`
	Options        json.RawMessage `json:"options"`
	CorrectOptions []string        `json:"correct_options,omitempty"`
	ScoreValue     float64         `json:"score_value"`
	OrderNum       int             `json:"order_num"`
}

// AutoGradable reports whether the question carries an answer key.
func (q *Question) AutoGradable() bool {
	return q.QuestionType != QuestionTypeEssay && len(q.CorrectOptions) > 0
}

func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		QuestionType: q.QuestionType,
		Options:      q.Options,
		OrderNum:     q.OrderNum,
	}
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id"`
	QuestionText string          `json:"question_text"`
	QuestionType QuestionType    `json:"question_type"`
	Options      json.RawMessage `json:"options"`
	OrderNum     int             `json:"order_num"`
}
