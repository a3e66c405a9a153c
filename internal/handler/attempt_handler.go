package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/middleware"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/service"
	"github.com/stemsi/exam-engine/internal/validator"
)

// AttemptHandler serves the student exam-taking endpoints.
type AttemptHandler struct {
	attempts *service.AttemptService
	results  *service.ResultService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, results *service.ResultService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		results:  results,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartExam godoc
// POST /api/v1/student/exams/:exam_id/start
// Opens an attempt, or resumes the live one with its original deadline.
func (h *AttemptHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, resumed, err := h.attempts.StartOrResume(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	response.Success(c, status, model.StartAttemptResponse{
		AttemptID: attempt.ID,
		ExamID:    attempt.ExamID,
		Deadline:  attempt.Deadline,
		Status:    attempt.Status,
		Resumed:   resumed,
	})
}

// GetAttempt godoc
// GET /api/v1/student/attempts/:attempt_id
// Returns remaining time, questions and saved answers for a reload.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	state, err := h.attempts.GetState(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// SaveAnswer godoc
// PUT /api/v1/student/attempts/:attempt_id/answers/:question_id
// Autosaves one answer; the latest write wins.
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	saved, err := h.attempts.RecordAnswer(c.Request.Context(), claims.UserID, attemptID, questionID, req.Payload)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, model.SaveAnswerResponse{
		QuestionID: saved.QuestionID,
		SavedAt:    saved.SavedAt,
	})
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Manual submission. A second submit answers 409 ATTEMPT_NOT_IN_PROGRESS.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	attempt, err := h.attempts.SubmitManual(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	resp := model.SubmitAttemptResponse{AttemptID: attempt.ID, Status: attempt.Status}
	if attempt.SubmittedAt != nil {
		resp.SubmittedAt = *attempt.SubmittedAt
	}
	response.Success(c, http.StatusOK, resp)
}

// ResultByAttempt godoc
// GET /api/v1/student/attempts/:attempt_id/result
func (h *AttemptHandler) ResultByAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	res, err := h.results.ByAttempt(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// ResultByExam godoc
// GET /api/v1/student/exams/:exam_id/result
// Result of the student's latest attempt at the exam.
func (h *AttemptHandler) ResultByExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	res, err := h.results.ByExam(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *AttemptHandler) attemptParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, attemptID, true
}
