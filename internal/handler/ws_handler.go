package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/middleware"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/response"
	"github.com/stemsi/exam-engine/internal/service"
	"github.com/stemsi/exam-engine/internal/validator"
	ws "github.com/stemsi/exam-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one attempt: autosave and submit go up, lifecycle events come down.
type WSHandler struct {
	rdb      *redis.Client
	attempts *service.AttemptService
	limiter  *middleware.RateLimiter
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. limiter throttles autosave frames per student.
func NewWSHandler(rdb *redis.Client, attempts *service.AttemptService, limiter *middleware.RateLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:      rdb,
		attempts: attempts,
		limiter:  limiter,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream?token=...
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Ownership is checked before the upgrade so failures get a normal HTTP response.
	state, err := h.attempts.GetState(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := h.rdb.Subscribe(ctx, config.CacheKey.AttemptEventsChannel(attemptID.String()))
	defer sub.Close()
	go h.forwardEvents(ctx, conn, sub, wsLog)

	if state.ReadOnly {
		_ = conn.WriteTyped(lifecycleFrame(state.Attempt.Status, attemptID))
	}

	deadline := state.Attempt.Deadline
	studentID := claims.UserID
	for {
		var req ws.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch req.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, studentID, attemptID, &req)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, studentID, attemptID, &req)
		case ws.ActionPing:
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			_ = conn.WriteTyped(ws.PongResponse{
				Event:            ws.EventPong,
				ServerTime:       time.Now().UnixMilli(),
				RemainingSeconds: int64(remaining / time.Second),
			})
		default:
			wsLog.Warn().Str("action", string(req.Action)).Msg("Unknown action")
			_ = conn.WriteError(req.RequestID, string(response.ErrInvalidPayload), "unknown action: "+string(req.Action))
		}
	}
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *ws.Conn, studentID int, attemptID uuid.UUID, req *ws.Request) {
	if h.limiter != nil && !h.limiter.Allow(middleware.UserKey(studentID)) {
		_ = conn.WriteError(req.RequestID, string(response.ErrRateLimitExceeded), response.GetMessage(response.ErrRateLimitExceeded))
		return
	}

	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		_ = conn.WriteError(req.RequestID, string(response.ErrInvalidID), "invalid question_id")
		return
	}
	if !validator.ValidAnswerPayload(req.Payload) {
		_ = conn.WriteError(req.RequestID, string(response.ErrValidation), "payload must be a JSON value other than null")
		return
	}

	saved, err := h.attempts.RecordAnswer(ctx, studentID, attemptID, questionID, req.Payload)
	if err != nil {
		h.writeEngineError(conn, req.RequestID, err)
		return
	}
	_ = conn.WriteTyped(ws.SavedResponse{
		Event:      ws.EventSaved,
		RequestID:  req.RequestID,
		QuestionID: saved.QuestionID.String(),
		SavedAt:    saved.SavedAt,
	})
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *ws.Conn, studentID int, attemptID uuid.UUID, req *ws.Request) {
	attempt, err := h.attempts.SubmitManual(ctx, studentID, attemptID)
	if err != nil {
		h.writeEngineError(conn, req.RequestID, err)
		return
	}
	// The same event also arrives through the channel; clients treat repeats as no-ops.
	_ = conn.WriteTyped(lifecycleFrame(attempt.Status, attemptID))
}

func (h *WSHandler) writeEngineError(conn *ws.Conn, requestID string, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("WebSocket action failed")
	}
	_ = conn.WriteError(requestID, string(code), response.GetMessage(code))
}

// forwardEvents relays the attempt's PubSub channel to the socket until ctx ends.
func (h *WSHandler) forwardEvents(ctx context.Context, conn *ws.Conn, sub *redis.PubSub, log zerolog.Logger) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev model.AttemptEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Msg("Dropping malformed attempt event")
				continue
			}
			if err := conn.WriteTyped(eventFrame(&ev)); err != nil {
				log.Debug().Err(err).Msg("Event write failed")
				return
			}
		}
	}
}

func eventFrame(ev *model.AttemptEvent) ws.LifecycleResponse {
	frame := ws.LifecycleResponse{
		AttemptID: ev.AttemptID.String(),
		Status:    string(ev.Status),
	}
	switch ev.Type {
	case model.AttemptEventExpired:
		frame.Event = ws.EventExpired
	case model.AttemptEventSubmitted:
		frame.Event = ws.EventSubmitted
	case model.AttemptEventFinalized:
		frame.Event = ws.EventFinalized
		if ev.Result != nil {
			frame.Result = ev.Result
		}
	default:
		frame.Event = ws.EventGraded
	}
	return frame
}

// lifecycleFrame describes a read-only attempt. in_progress here means the
// deadline passed and the expiry has not been processed yet.
func lifecycleFrame(status model.AttemptStatus, attemptID uuid.UUID) ws.LifecycleResponse {
	ev := model.AttemptEvent{AttemptID: attemptID, Status: status}
	switch status {
	case model.AttemptStatusExpiredSubmitted, model.AttemptStatusInProgress:
		ev.Type = model.AttemptEventExpired
	case model.AttemptStatusGraded:
		ev.Type = model.AttemptEventGraded
	default:
		ev.Type = model.AttemptEventSubmitted
	}
	return eventFrame(&ev)
}
