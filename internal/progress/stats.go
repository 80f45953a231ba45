package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/stemsi/quizjourney/internal/model"
)

func percentage(j *model.Journey) int {
	if j == nil || j.TotalQuestions <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(j.AnsweredCount()) / float64(j.TotalQuestions)))
}

// milestone is derived from status and the first-answer checkpoint only.
func milestone(j *model.Journey) string {
	if j == nil {
		return model.MilestoneNotStarted
	}
	switch j.Status {
	case model.JourneyStatusCompleted:
		return model.MilestoneCompleted
	case model.JourneyStatusHalfway:
		return model.MilestoneHalfway
	}
	if j.Milestones.FirstQuestionAnswered != nil {
		return model.MilestoneInProgress
	}
	return model.MilestoneJustStarted
}

// Feedback renders the human-readable progress line stored remotely.
func Feedback(percent int, label string) string {
	return fmt.Sprintf("Progress: %d%% - %s", percent, label)
}

func coarseStatus(s model.JourneyStatus) model.RecordStatus {
	if s == model.JourneyStatusCompleted {
		return model.RecordStatusCompleted
	}
	return model.RecordStatusInProgress
}

func buildRecord(j *model.Journey, now time.Time) *model.ProgressRecord {
	rec := &model.ProgressRecord{
		UserID:               j.UserID,
		AssignmentID:         j.AssignmentID,
		StartedAt:            j.StartedAt,
		TimeSpent:            j.TotalTimeSpent,
		Status:               coarseStatus(j.Status),
		Feedback:             Feedback(percentage(j), milestone(j)),
		CurrentQuestionIndex: j.CurrentQuestionIndex,
		QuestionsAnswered:    j.AnsweredCount(),
		UpdatedAt:            now,
	}
	if j.FinalScore != nil {
		score := *j.FinalScore
		rec.FinalScore = &score
	}
	return rec
}

func buildFallback(j *model.Journey, now time.Time) *model.FallbackSnapshot {
	return &model.FallbackSnapshot{
		Journey:            *j.Clone(),
		LastSaved:          now,
		ProgressPercentage: percentage(j),
		Milestone:          milestone(j),
	}
}

func buildStats(j *model.Journey) model.ProgressStats {
	times := make(map[string]int, len(j.QuestionsProgress))
	for id, q := range j.QuestionsProgress {
		times[id] = q.TimeSpent
	}
	return model.ProgressStats{
		AssignmentID:         j.AssignmentID,
		UserID:               j.UserID,
		Status:               j.Status,
		Milestone:            milestone(j),
		ProgressPercentage:   percentage(j),
		CurrentQuestionIndex: j.CurrentQuestionIndex,
		TotalQuestions:       j.TotalQuestions,
		QuestionsAnswered:    j.AnsweredCount(),
		TotalTimeSpent:       j.TotalTimeSpent,
		QuestionTimes:        times,
		Milestones:           j.Milestones,
	}
}
