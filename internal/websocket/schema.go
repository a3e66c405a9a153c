package websocket

import (
	"encoding/json"
	"time"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// Request is any client frame; fields unused by an action are ignored.
type Request struct {
	Action Action `json:"action"`
	// RequestID is echoed back so the client can match acks to saves.
	RequestID  string          `json:"request_id,omitempty"`
	QuestionID string          `json:"question_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventExpired   Event = "expired"
	EventFinalized Event = "finalized"
	EventGraded    Event = "graded"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event      Event     `json:"event"`
	RequestID  string    `json:"request_id,omitempty"`
	QuestionID string    `json:"question_id"`
	SavedAt    time.Time `json:"saved_at"`
}

// LifecycleResponse tells the client its attempt changed state; every event
// but graded makes the exam screen read-only.
type LifecycleResponse struct {
	Event     Event       `json:"event"`
	AttemptID string      `json:"attempt_id"`
	Status    string      `json:"status"`
	Result    interface{} `json:"result,omitempty"`
}

type ErrorResponse struct {
	Event     Event  `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

type PongResponse struct {
	Event      Event `json:"event"`
	ServerTime int64 `json:"server_time"`
	// RemainingSeconds lets the client resync its countdown to the server clock.
	RemainingSeconds int64 `json:"remaining_seconds"`
}
