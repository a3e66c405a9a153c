package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-engine/internal/model"
)

func TestExtractSelected(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{"string", `"B"`, []string{"B"}},
		{"blank string", `"  "`, nil},
		{"number", `2`, []string{"2"}},
		{"array", `["A","C"]`, []string{"A", "C"}},
		{"selected object", `{"selected":["D"]}`, []string{"D"}},
		{"answer object", `{"answer":"A"}`, []string{"A"}},
		{"option object", `{"option":3}`, []string{"3"}},
		{"essay text object", `{"text":"free form"}`, nil},
		{"invalid json", `{`, nil},
		{"empty", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractSelected(json.RawMessage(tt.payload))
			if len(got) != len(tt.want) {
				t.Fatalf("extractSelected(%s) = %v, want %v", tt.payload, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("extractSelected(%s) = %v, want %v", tt.payload, got, tt.want)
				}
			}
		})
	}
}

func TestEqualSet(t *testing.T) {
	tests := []struct {
		name string
		got  []string
		want []string
		ok   bool
	}{
		{"same", []string{"A"}, []string{"A"}, true},
		{"case and order", []string{"c", " a"}, []string{"A", "C"}, true},
		{"subset", []string{"A"}, []string{"A", "C"}, false},
		{"superset", []string{"A", "B", "C"}, []string{"A", "C"}, false},
		{"duplicates collapse", []string{"A", "a"}, []string{"A"}, true},
		{"empty answer", nil, []string{"A"}, false},
		{"no key", []string{"A"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := equalSet(tt.got, tt.want); got != tt.ok {
				t.Fatalf("equalSet(%v, %v) = %v, want %v", tt.got, tt.want, got, tt.ok)
			}
		})
	}
}

func TestGradeAttempt(t *testing.T) {
	examID := uuid.New()
	mc := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeMultipleChoice, CorrectOptions: []string{"B"}, ScoreValue: 2}
	ms := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeMultipleSelect, CorrectOptions: []string{"A", "C"}, ScoreValue: 3}
	essay := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeEssay, ScoreValue: 5}
	exam := &model.Exam{
		ID:          examID,
		Title:       "Physics Final",
		SubjectName: "Physics",
		Questions:   []model.Question{mc, ms, essay},
	}

	submitted := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	attempt := &model.Attempt{
		ID:             uuid.New(),
		ExamID:         examID,
		StudentID:      7,
		Status:         model.AttemptStatusSubmitted,
		SubmittedAt:    &submitted,
		TotalQuestions: 3,
	}

	tests := []struct {
		name        string
		answers     map[uuid.UUID]string
		wantScore   float64
		wantAnswers int
	}{
		{"nothing answered", nil, 0, 0},
		{"all correct", map[uuid.UUID]string{mc.ID: `"B"`, ms.ID: `["C","A"]`, essay.ID: `{"text":"E=mc2"}`}, 5, 3},
		{"partial multi select earns nothing", map[uuid.UUID]string{ms.ID: `["A"]`}, 0, 1},
		{"wrong choice", map[uuid.UUID]string{mc.ID: `"A"`}, 0, 1},
		{"object payload", map[uuid.UUID]string{mc.ID: `{"selected":"b"}`}, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var answers []model.Answer
			for qid, p := range tt.answers {
				answers = append(answers, model.Answer{AttemptID: attempt.ID, QuestionID: qid, Payload: json.RawMessage(p)})
			}

			res := GradeAttempt(exam, attempt, answers)
			if res.Score != tt.wantScore {
				t.Errorf("score = %v, want %v", res.Score, tt.wantScore)
			}
			if res.AnsweredCount != tt.wantAnswers {
				t.Errorf("answered = %d, want %d", res.AnsweredCount, tt.wantAnswers)
			}
			if res.MaxScore != 10 || res.TotalQuestions != 3 {
				t.Errorf("max = %v total = %d, want 10 and 3", res.MaxScore, res.TotalQuestions)
			}
			if res.PendingManual != 1 || res.ScoreStatus != model.ScoreStatusPending {
				t.Errorf("pending = %d status = %s, want 1 pending", res.PendingManual, res.ScoreStatus)
			}
			if !res.SubmittedAt.Equal(submitted) || res.ExamName != "Physics Final" {
				t.Errorf("header fields = %+v", res)
			}
		})
	}
}

func TestGradeAttempt_IgnoresOtherAttemptsAndUnknownQuestions(t *testing.T) {
	q := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeMultipleChoice, CorrectOptions: []string{"A"}, ScoreValue: 1}
	exam := &model.Exam{ID: uuid.New(), Questions: []model.Question{q}}
	attempt := &model.Attempt{ID: uuid.New(), ExamID: exam.ID, Status: model.AttemptStatusExpiredSubmitted}

	answers := []model.Answer{
		{AttemptID: uuid.New(), QuestionID: q.ID, Payload: json.RawMessage(`"A"`)},
		{AttemptID: attempt.ID, QuestionID: uuid.New(), Payload: json.RawMessage(`"A"`)},
	}
	res := GradeAttempt(exam, attempt, answers)
	if res.AnsweredCount != 0 || res.Score != 0 {
		t.Fatalf("result = %+v, want nothing counted", res)
	}
	if res.TotalQuestions != 1 {
		t.Fatalf("total = %d, want fallback to the exam's 1", res.TotalQuestions)
	}
	if res.ScoreStatus != model.ScoreStatusProvisional {
		t.Fatalf("score status = %s, want provisional", res.ScoreStatus)
	}
}

func TestScoreStatus(t *testing.T) {
	tests := []struct {
		status  model.AttemptStatus
		pending int
		want    model.ScoreStatus
	}{
		{model.AttemptStatusSubmitted, 0, model.ScoreStatusProvisional},
		{model.AttemptStatusExpiredSubmitted, 2, model.ScoreStatusPending},
		{model.AttemptStatusGraded, 2, model.ScoreStatusFinal},
	}
	for _, tt := range tests {
		if got := scoreStatus(tt.status, tt.pending); got != tt.want {
			t.Errorf("scoreStatus(%s, %d) = %s, want %s", tt.status, tt.pending, got, tt.want)
		}
	}
}
