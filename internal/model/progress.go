package model

import (
	"encoding/json"
	"time"
)

// RecordStatus is the coarse status persisted remotely.
type RecordStatus string

const (
	RecordStatusInProgress RecordStatus = "IN_PROGRESS"
	RecordStatusCompleted  RecordStatus = "COMPLETED"
)

// ProgressRecord is the snapshot written to the remote progress store.
type ProgressRecord struct {
	UserID               string       `json:"user_id"`
	AssignmentID         string       `json:"assignment_id"`
	StartedAt            time.Time    `json:"started_at"`
	TimeSpent            int          `json:"time_spent"`
	Status               RecordStatus `json:"status"`
	Feedback             string       `json:"feedback"`
	CurrentQuestionIndex int          `json:"current_question_index"`
	QuestionsAnswered    int          `json:"questions_answered"`
	FinalScore           *float64     `json:"final_score,omitempty"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// FallbackSnapshot is the full journey written to local storage when the
// remote write fails.
type FallbackSnapshot struct {
	Journey
	LastSaved          time.Time `json:"last_saved"`
	ProgressPercentage int       `json:"progress_percentage"`
	Milestone          string    `json:"milestone"`
}

// ProgressStats is the read-only view consumed by dashboards.
type ProgressStats struct {
	AssignmentID         string         `json:"assignment_id"`
	UserID               string         `json:"user_id"`
	Status               JourneyStatus  `json:"status"`
	Milestone            string         `json:"milestone"`
	ProgressPercentage   int            `json:"progress_percentage"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	TotalQuestions       int            `json:"total_questions"`
	QuestionsAnswered    int            `json:"questions_answered"`
	TotalTimeSpent       int            `json:"total_time_spent"`
	QuestionTimes        map[string]int `json:"question_times"`
	Milestones           Milestones     `json:"milestones"`
}

// ProgressHistory is what a client sees for a previously saved attempt.
type ProgressHistory struct {
	Source   string            `json:"source"` // "remote" or "fallback"
	Record   *ProgressRecord   `json:"record,omitempty"`
	Snapshot *FallbackSnapshot `json:"snapshot,omitempty"`
}

// EventType names a tracked journey event.
type EventType string

const (
	EventAttemptStarted    EventType = "attempt_started"
	EventQuestionStarted   EventType = "question_started"
	EventQuestionAnswered  EventType = "question_answered"
	EventQuestionNavigated EventType = "question_navigated"
	EventHalfwayReached    EventType = "halfway_reached"
	EventJourneyCompleted  EventType = "journey_completed"
	EventJourneyAbandoned  EventType = "journey_abandoned"
)

// ProgressEvent is emitted after every journey mutation.
type ProgressEvent struct {
	Type               EventType       `json:"type"`
	UserID             string          `json:"user_id"`
	AssignmentID       string          `json:"assignment_id"`
	QuestionID         string          `json:"question_id,omitempty"`
	QuestionIndex      int             `json:"question_index"`
	IsCorrect          *bool           `json:"is_correct,omitempty"`
	Status             JourneyStatus   `json:"status"`
	ProgressPercentage int             `json:"progress_percentage"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	OccurredAt         time.Time       `json:"occurred_at"`
}

// ─── Requests ────────────────────────────────────────────────────────

// StartAttemptRequest begins a journey.
type StartAttemptRequest struct {
	TotalQuestions int `json:"total_questions" binding:"required,min=1,max=1000"`
}

// QuestionStartRequest records entry into a question.
type QuestionStartRequest struct {
	QuestionIndex *int `json:"question_index" binding:"required,min=0"`
}

// QuestionAnswerRequest records an answer.
type QuestionAnswerRequest struct {
	IsCorrect    *bool           `json:"is_correct" binding:"required"`
	ResponseData json.RawMessage `json:"response_data"`
}

// NavigateRequest records navigation to another question index.
type NavigateRequest struct {
	NewIndex *int `json:"new_index" binding:"required,min=0"`
}

// CompleteRequest finishes a journey.
type CompleteRequest struct {
	FinalScore *float64 `json:"final_score" binding:"omitempty,min=0"`
}
