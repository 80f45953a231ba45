package repository

import (
	"context"

	"github.com/stemsi/quizjourney/internal/model"
)

const progressColumns = `user_id, assignment_id, started_at, time_spent, status, feedback,
	current_question_index, questions_answered, final_score, updated_at`

// ProgressRepository is the remote store for journey snapshots.
type ProgressRepository struct {
	db DB
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(db DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// UpsertProgress writes the latest snapshot for a (user, assignment) pair.
// A newer attempt replaces the previous row.
func (r *ProgressRepository) UpsertProgress(ctx context.Context, rec *model.ProgressRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_progress (`+progressColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, assignment_id) DO UPDATE
		 SET started_at = EXCLUDED.started_at,
		     time_spent = EXCLUDED.time_spent,
		     status = EXCLUDED.status,
		     feedback = EXCLUDED.feedback,
		     current_question_index = EXCLUDED.current_question_index,
		     questions_answered = EXCLUDED.questions_answered,
		     final_score = EXCLUDED.final_score,
		     updated_at = EXCLUDED.updated_at`,
		rec.UserID, rec.AssignmentID, rec.StartedAt, rec.TimeSpent, rec.Status, rec.Feedback,
		rec.CurrentQuestionIndex, rec.QuestionsAnswered, rec.FinalScore, rec.UpdatedAt,
	)
	return err
}

// GetByUserAndAssignment retrieves the stored snapshot; pgx.ErrNoRows if none.
func (r *ProgressRepository) GetByUserAndAssignment(ctx context.Context, userID, assignmentID string) (*model.ProgressRecord, error) {
	p := &model.ProgressRecord{}
	err := r.db.QueryRow(ctx,
		`SELECT `+progressColumns+`
		 FROM user_progress
		 WHERE user_id = $1 AND assignment_id = $2`, userID, assignmentID,
	).Scan(&p.UserID, &p.AssignmentID, &p.StartedAt, &p.TimeSpent, &p.Status, &p.Feedback,
		&p.CurrentQuestionIndex, &p.QuestionsAnswered, &p.FinalScore, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListByAssignment returns the most recently updated snapshots for an assignment.
func (r *ProgressRepository) ListByAssignment(ctx context.Context, assignmentID string, limit int) ([]model.ProgressRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+progressColumns+`
		 FROM user_progress
		 WHERE assignment_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2`, assignmentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ProgressRecord
	for rows.Next() {
		var p model.ProgressRecord
		if err := rows.Scan(&p.UserID, &p.AssignmentID, &p.StartedAt, &p.TimeSpent, &p.Status, &p.Feedback,
			&p.CurrentQuestionIndex, &p.QuestionsAnswered, &p.FinalScore, &p.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	return records, rows.Err()
}
