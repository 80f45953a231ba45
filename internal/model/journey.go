package model

import (
	"encoding/json"
	"time"
)

// JourneyStatus enumerates journey lifecycle states.
type JourneyStatus string

const (
	JourneyStatusNotStarted JourneyStatus = "NOT_STARTED"
	JourneyStatusInProgress JourneyStatus = "IN_PROGRESS"
	JourneyStatusHalfway    JourneyStatus = "HALFWAY"
	JourneyStatusCompleted  JourneyStatus = "COMPLETED"
	JourneyStatusAbandoned  JourneyStatus = "ABANDONED"
)

// Terminal reports whether no further tracking is accepted in this state.
func (s JourneyStatus) Terminal() bool {
	return s == JourneyStatusCompleted || s == JourneyStatusAbandoned
}

// Milestone labels as shown on dashboards.
const (
	MilestoneNotStarted  = "Not Started"
	MilestoneJustStarted = "Just Started"
	MilestoneInProgress  = "In Progress"
	MilestoneHalfway     = "Halfway Complete"
	MilestoneCompleted   = "Completed"
)

// Milestones holds the timestamped checkpoints of a journey.
type Milestones struct {
	Started               time.Time  `json:"started"`
	FirstQuestionAnswered *time.Time `json:"first_question_answered,omitempty"`
	HalfwayComplete       *time.Time `json:"halfway_complete,omitempty"`
	Completed             *time.Time `json:"completed,omitempty"`
}

// QuestionProgress is the per-question bookkeeping within a journey.
type QuestionProgress struct {
	QuestionID    string          `json:"question_id"`
	QuestionIndex int             `json:"question_index"`
	StartedAt     time.Time       `json:"started_at"`
	AnsweredAt    *time.Time      `json:"answered_at,omitempty"`
	TimeSpent     int             `json:"time_spent"` // seconds
	Attempts      int             `json:"attempts"`
	IsCorrect     *bool           `json:"is_correct,omitempty"`
	ResponseData  json.RawMessage `json:"response_data,omitempty"`

	// Elapsed is the exact accrued time; TimeSpent is its whole-second view.
	Elapsed time.Duration `json:"-"`
}

// Answered reports whether an answer has been recorded.
func (q *QuestionProgress) Answered() bool {
	return q.AnsweredAt != nil
}

// Journey is one user's attempt at an assignment.
type Journey struct {
	AssignmentID         string                       `json:"assignment_id"`
	UserID               string                       `json:"user_id"`
	StartedAt            time.Time                    `json:"started_at"`
	CurrentQuestionIndex int                          `json:"current_question_index"`
	CurrentQuestionID    string                       `json:"current_question_id,omitempty"`
	TotalQuestions       int                          `json:"total_questions"`
	TotalTimeSpent       int                          `json:"total_time_spent"` // seconds
	Status               JourneyStatus                `json:"status"`
	QuestionsProgress    map[string]*QuestionProgress `json:"questions_progress"`
	Milestones           Milestones                   `json:"milestones"`
	FinalScore           *float64                     `json:"final_score,omitempty"`

	Elapsed time.Duration `json:"-"`
}

// NewJourney creates an IN_PROGRESS journey started at now.
func NewJourney(userID, assignmentID string, totalQuestions int, now time.Time) *Journey {
	return &Journey{
		AssignmentID:      assignmentID,
		UserID:            userID,
		StartedAt:         now,
		TotalQuestions:    totalQuestions,
		Status:            JourneyStatusInProgress,
		QuestionsProgress: make(map[string]*QuestionProgress),
		Milestones:        Milestones{Started: now},
	}
}

// AnsweredCount returns the number of questions with a recorded answer.
func (j *Journey) AnsweredCount() int {
	n := 0
	for _, q := range j.QuestionsProgress {
		if q.Answered() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Journey) Clone() *Journey {
	c := *j
	c.QuestionsProgress = make(map[string]*QuestionProgress, len(j.QuestionsProgress))
	for id, q := range j.QuestionsProgress {
		qc := *q
		if q.ResponseData != nil {
			qc.ResponseData = append(json.RawMessage(nil), q.ResponseData...)
		}
		c.QuestionsProgress[id] = &qc
	}
	return &c
}
