package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/service"
)

// ReviewHandler exposes terminal attempts to teachers.
type ReviewHandler struct {
	review *service.ReviewService
	log    zerolog.Logger
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(review *service.ReviewService, log zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		review: review,
		log:    log.With().Str("component", "review_handler").Logger(),
	}
}

// ListAttempts godoc
// GET /api/v1/teacher/exams/:exam_id/attempts?page=1&per_page=20
func (h *ReviewHandler) ListAttempts(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	attempts, total, err := h.review.ListTerminal(c.Request.Context(), examID, page, perPage)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": attempts},
		response.NewPagination(page, perPage, total))
}

// ListAnswers godoc
// GET /api/v1/teacher/attempts/:attempt_id/answers
func (h *ReviewHandler) ListAnswers(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	answers, err := h.review.FrozenAnswers(c.Request.Context(), attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"answers": answers})
}

// MarkGraded godoc
// POST /api/v1/teacher/attempts/:attempt_id/graded
func (h *ReviewHandler) MarkGraded(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.review.MarkGraded(c.Request.Context(), attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, attempt)
}
