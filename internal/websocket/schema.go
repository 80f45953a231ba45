package websocket

import (
	"encoding/json"

	"github.com/stemsi/quizjourney/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart         Action = "start"
	ActionQuestionStart Action = "question_start"
	ActionAnswer        Action = "answer"
	ActionNavigate      Action = "navigate"
	ActionComplete      Action = "complete"
	ActionStats         Action = "stats"
	ActionSave          Action = "save"
	ActionPing          Action = "ping"
)

// Request is one client message. Only the fields of its action are read.
type Request struct {
	Action         Action          `json:"action"`
	TotalQuestions int             `json:"total_questions,omitempty"`
	QuestionID     string          `json:"question_id,omitempty"`
	QuestionIndex  *int            `json:"question_index,omitempty"`
	NewIndex       *int            `json:"new_index,omitempty"`
	IsCorrect      *bool           `json:"is_correct,omitempty"`
	ResponseData   json.RawMessage `json:"response_data,omitempty"`
	FinalScore     *float64        `json:"final_score,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventStats   Event = "stats"
	EventSaved   Event = "saved"
	EventPong    Event = "pong"
)

// SuccessResponse acknowledges a tracking action with the updated stats.
type SuccessResponse struct {
	Event  Event               `json:"event"`
	Action Action              `json:"action"`
	Stats  model.ProgressStats `json:"stats"`
}

type StatsResponse struct {
	Event Event               `json:"event"`
	Stats model.ProgressStats `json:"stats"`
}

// SavedResponse reports where a snapshot ended up: remote, fallback or failed.
type SavedResponse struct {
	Event   Event  `json:"event"`
	Outcome string `json:"outcome"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
