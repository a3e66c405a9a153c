package service

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/exam-engine/internal/model"
)

// GradeAttempt builds the result projection from frozen answers.
// It is pure: the same attempt, exam and answers always yield the same Result
// (ComputedAt is left for the caller).
func GradeAttempt(exam *model.Exam, attempt *model.Attempt, answers []model.Answer) *model.Result {
	byQuestion := make(map[uuid.UUID]json.RawMessage, len(answers))
	for _, a := range answers {
		if a.AttemptID != uuid.Nil && a.AttemptID != attempt.ID {
			continue
		}
		byQuestion[a.QuestionID] = a.Payload
	}

	res := &model.Result{
		AttemptID:      attempt.ID,
		ExamID:         attempt.ExamID,
		StudentID:      attempt.StudentID,
		ExamName:       exam.Title,
		SubjectName:    exam.SubjectName,
		TotalQuestions: attempt.TotalQuestions,
		Status:         attempt.Status,
	}
	if res.TotalQuestions == 0 {
		res.TotalQuestions = exam.TotalQuestions()
	}
	if attempt.SubmittedAt != nil {
		res.SubmittedAt = *attempt.SubmittedAt
	}

	for i := range exam.Questions {
		q := &exam.Questions[i]
		payload, answered := byQuestion[q.ID]
		if answered {
			res.AnsweredCount++
		}
		res.MaxScore += q.ScoreValue

		if !q.AutoGradable() {
			res.PendingManual++
			continue
		}
		if answered && equalSet(extractSelected(payload), q.CorrectOptions) {
			res.Score += q.ScoreValue
		}
	}

	res.ScoreStatus = scoreStatus(attempt.Status, res.PendingManual)
	return res
}

func scoreStatus(status model.AttemptStatus, pending int) model.ScoreStatus {
	switch {
	case status == model.AttemptStatusGraded:
		return model.ScoreStatusFinal
	case pending > 0:
		return model.ScoreStatusPending
	}
	return model.ScoreStatusProvisional
}

// extractSelected reads the chosen option keys out of an answer payload.
// Accepted shapes: "A", ["A","C"], 2, {"selected": ...}, {"answer": ...}.
func extractSelected(payload json.RawMessage) []string {
	if len(payload) == 0 {
		return nil
	}

	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil
	}
	return selectedFrom(raw)
}

func selectedFrom(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, selectedFrom(item)...)
		}
		return out
	case map[string]any:
		for _, key := range []string{"selected", "answer", "option"} {
			if inner, ok := t[key]; ok {
				return selectedFrom(inner)
			}
		}
	}
	return nil
}

// equalSet compares option keys as case-insensitive sets.
func equalSet(got, want []string) bool {
	if len(got) == 0 || len(want) == 0 {
		return false
	}
	norm := func(in []string) map[string]struct{} {
		m := make(map[string]struct{}, len(in))
		for _, s := range in {
			m[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
		}
		return m
	}
	g, w := norm(got), norm(want)
	if len(g) != len(w) {
		return false
	}
	for k := range w {
		if _, ok := g[k]; !ok {
			return false
		}
	}
	return true
}
