package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"duotime/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

var columns = []string{"id", "queue", "job_id", "job_name", "payload", "attempts", "error", "trace_id", "status", "failed_at", "replayed_at"}

func TestRepository_Insert(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewRepository(db)
	failedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO dead_letter_jobs")).
		WithArgs("notifications", "job-1", "send-notification", []byte(`{"title":"hi"}`), 3, "boom", "trace-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "failed_at"}).AddRow(int64(7), "failed", failedAt))

	j := &model.DeadLetterJob{
		Queue:    "notifications",
		JobID:    "job-1",
		JobName:  "send-notification",
		Payload:  json.RawMessage(`{"title":"hi"}`),
		Attempts: 3,
		Error:    "boom",
		TraceID:  "trace-1",
	}
	require.NoError(t, repo.Insert(context.Background(), j))
	assert.Equal(t, int64(7), j.ID)
	assert.Equal(t, model.DeadLetterFailed, j.Status)
	assert.Equal(t, failedAt, j.FailedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_InsertError(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO dead_letter_jobs")).WillReturnError(errors.New("conn reset"))

	err := repo.Insert(context.Background(), &model.DeadLetterJob{Queue: "q"})
	assert.ErrorContains(t, err, "conn reset")
}

func TestRepository_List(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewRepository(db)
	failedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	replayedAt := failedAt.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM dead_letter_jobs")).
		WithArgs("", 50).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(2), "reminders", "r-1", "send-reminder", []byte(`{}`), 3, "x", "t2", "replayed", failedAt, replayedAt).
			AddRow(int64(1), "notifications", "n-1", "send-notification", []byte(`{}`), 3, "y", "t1", "failed", failedAt, nil))

	jobs, err := repo.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "reminders", jobs[0].Queue)
	require.NotNil(t, jobs[0].ReplayedAt)
	assert.Equal(t, replayedAt, *jobs[0].ReplayedAt)
	assert.Nil(t, jobs[1].ReplayedAt)
	assert.Equal(t, json.RawMessage(`{}`), jobs[1].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetNotFound(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM dead_letter_jobs WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.Get(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_MarkReplayed(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dead_letter_jobs")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE dead_letter_jobs")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, repo.MarkReplayed(ctx, 1))
	assert.ErrorIs(t, repo.MarkReplayed(ctx, 1), ErrAlreadyReplayed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
