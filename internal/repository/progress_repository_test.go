package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/quizjourney/internal/model"
	"github.com/stemsi/quizjourney/internal/repository"
)

var progressCols = []string{
	"user_id", "assignment_id", "started_at", "time_spent", "status", "feedback",
	"current_question_index", "questions_answered", "final_score", "updated_at",
}

func sampleRecord() *model.ProgressRecord {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	score := 87.5
	return &model.ProgressRecord{
		UserID:               "u-1",
		AssignmentID:         "A1",
		StartedAt:            started,
		TimeSpent:            125,
		Status:               model.RecordStatusCompleted,
		Feedback:             "Progress: 100% - Completed",
		CurrentQuestionIndex: 3,
		QuestionsAnswered:    4,
		FinalScore:           &score,
		UpdatedAt:            started.Add(125 * time.Second),
	}
}

func TestUpsertProgress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := sampleRecord()
	mock.ExpectExec("INSERT INTO user_progress").
		WithArgs(rec.UserID, rec.AssignmentID, rec.StartedAt, rec.TimeSpent, rec.Status, rec.Feedback,
			rec.CurrentQuestionIndex, rec.QuestionsAnswered, rec.FinalScore, rec.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := repository.NewProgressRepository(mock)
	require.NoError(t, repo.UpsertProgress(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProgress_PropagatesError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	denied := errors.New("new row violates row-level security policy")
	rec := sampleRecord()
	mock.ExpectExec("INSERT INTO user_progress").
		WithArgs(rec.UserID, rec.AssignmentID, rec.StartedAt, rec.TimeSpent, rec.Status, rec.Feedback,
			rec.CurrentQuestionIndex, rec.QuestionsAnswered, rec.FinalScore, rec.UpdatedAt).
		WillReturnError(denied)

	repo := repository.NewProgressRepository(mock)
	err = repo.UpsertProgress(context.Background(), rec)
	assert.ErrorIs(t, err, denied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByUserAndAssignment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	want := sampleRecord()
	mock.ExpectQuery("FROM user_progress").
		WithArgs("u-1", "A1").
		WillReturnRows(pgxmock.NewRows(progressCols).AddRow(
			want.UserID, want.AssignmentID, want.StartedAt, want.TimeSpent, want.Status, want.Feedback,
			want.CurrentQuestionIndex, want.QuestionsAnswered, want.FinalScore, want.UpdatedAt,
		))

	repo := repository.NewProgressRepository(mock)
	got, err := repo.GetByUserAndAssignment(context.Background(), "u-1", "A1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByUserAndAssignment_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM user_progress").
		WithArgs("u-1", "missing").
		WillReturnError(pgx.ErrNoRows)

	repo := repository.NewProgressRepository(mock)
	_, err = repo.GetByUserAndAssignment(context.Background(), "u-1", "missing")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestListByAssignment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleRecord()
	b := sampleRecord()
	b.UserID = "u-2"
	b.Status = model.RecordStatusInProgress

	mock.ExpectQuery("ORDER BY updated_at DESC").
		WithArgs("A1", 50).
		WillReturnRows(pgxmock.NewRows(progressCols).
			AddRow(a.UserID, a.AssignmentID, a.StartedAt, a.TimeSpent, a.Status, a.Feedback,
				a.CurrentQuestionIndex, a.QuestionsAnswered, a.FinalScore, a.UpdatedAt).
			AddRow(b.UserID, b.AssignmentID, b.StartedAt, b.TimeSpent, b.Status, b.Feedback,
				b.CurrentQuestionIndex, b.QuestionsAnswered, b.FinalScore, b.UpdatedAt))

	repo := repository.NewProgressRepository(mock)
	records, err := repo.ListByAssignment(context.Background(), "A1", 50)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "u-1", records[0].UserID)
	assert.Equal(t, model.RecordStatusInProgress, records[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
