package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/service"
)

// classify maps an engine error to its HTTP status and API code.
func classify(err error) (int, response.ErrCode) {
	var (
		notFound *service.NotFoundError
		conflict *service.ConflictError
		invalid  *service.InvalidStateError
	)
	switch {
	case errors.As(err, &notFound):
		switch notFound.Resource {
		case "exam":
			return http.StatusNotFound, response.ErrExamNotAvailable
		case "question":
			return http.StatusNotFound, response.ErrQuestionNotInExam
		}
		return http.StatusNotFound, response.ErrNotFound
	case errors.As(err, &conflict):
		switch {
		case conflict.Resumable():
			return http.StatusConflict, response.ErrAttemptActive
		case conflict.LimitReached:
			return http.StatusConflict, response.ErrAttemptLimitReached
		}
		return http.StatusConflict, response.ErrConflict
	case errors.As(err, &invalid):
		if invalid.Status == model.AttemptStatusInProgress && invalid.Op != "record answer" {
			return http.StatusConflict, response.ErrAttemptInProgress
		}
		return http.StatusConflict, response.ErrAttemptNotInProgress
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// respondError writes the envelope for err. Unexpected errors are logged and
// surfaced as a generic failure.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", c.GetString(response.ContextKeyRequestID)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}
