// Package deadletter keeps queue jobs that ran out of attempts: they are
// stored in Postgres, announced on the RabbitMQ dead letter exchange and can
// be replayed onto their original queue by an admin.
package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"duotime/internal/model"
)

var (
	ErrNotFound        = errors.New("dead letter job not found")
	ErrAlreadyReplayed = errors.New("dead letter job already replayed")
)

// Store is the persistence used by Sink and Service.
type Store interface {
	Insert(ctx context.Context, j *model.DeadLetterJob) error
	List(ctx context.Context, status string, limit int) ([]*model.DeadLetterJob, error)
	Get(ctx context.Context, id int64) (*model.DeadLetterJob, error)
	MarkReplayed(ctx context.Context, id int64) error
}

// Repository 提供 dead_letter_jobs 表的读写
type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

// NewRepository takes a database/sql handle, typically
// stdlib.OpenDBFromPool(pool).
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectColumns = `id, queue, job_id, job_name, payload, attempts, error, trace_id, status, failed_at, replayed_at`

// Insert stores a dead job.
func (r *Repository) Insert(ctx context.Context, j *model.DeadLetterJob) error {
	query := `
		INSERT INTO dead_letter_jobs (queue, job_id, job_name, payload, attempts, error, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, status, failed_at
	`
	err := r.db.QueryRowContext(ctx, query,
		j.Queue, j.JobID, j.JobName, []byte(j.Payload), j.Attempts, j.Error, j.TraceID,
	).Scan(&j.ID, &j.Status, &j.FailedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter job: %w", err)
	}
	return nil
}

// List returns jobs with the given status, newest first. Empty status means
// every job.
func (r *Repository) List(ctx context.Context, status string, limit int) ([]*model.DeadLetterJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + selectColumns + `
		FROM dead_letter_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY failed_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.DeadLetterJob
	for rows.Next() {
		j, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Get 根据 ID 获取死信任务（用于 Replay）
func (r *Repository) Get(ctx context.Context, id int64) (*model.DeadLetterJob, error) {
	query := `SELECT ` + selectColumns + ` FROM dead_letter_jobs WHERE id = $1`
	j, err := scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// MarkReplayed flips a failed job to replayed. It returns ErrAlreadyReplayed
// when the row was not in the failed state.
func (r *Repository) MarkReplayed(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letter_jobs
		SET status = 'replayed', replayed_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark dead letter job replayed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyReplayed
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*model.DeadLetterJob, error) {
	var (
		j          model.DeadLetterJob
		payload    []byte
		replayedAt sql.NullTime
	)
	err := s.Scan(&j.ID, &j.Queue, &j.JobID, &j.JobName, &payload, &j.Attempts,
		&j.Error, &j.TraceID, &j.Status, &j.FailedAt, &replayedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	if replayedAt.Valid {
		t := replayedAt.Time.UTC()
		j.ReplayedAt = &t
	}
	j.FailedAt = j.FailedAt.UTC()
	return &j, nil
}

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu   sync.Mutex
	next int64
	jobs []*model.DeadLetterJob
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Insert(_ context.Context, j *model.DeadLetterJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	j.ID = m.next
	j.Status = model.DeadLetterFailed
	j.FailedAt = m.now().UTC()
	cp := *j
	m.jobs = append(m.jobs, &cp)
	return nil
}

func (m *MemoryStore) List(_ context.Context, status string, limit int) ([]*model.DeadLetterJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DeadLetterJob
	for i := len(m.jobs) - 1; i >= 0; i-- {
		j := m.jobs[i]
		if status != "" && j.Status != status {
			continue
		}
		cp := *j
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*model.DeadLetterJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) MarkReplayed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			if j.Status != model.DeadLetterFailed {
				return ErrAlreadyReplayed
			}
			now := m.now().UTC()
			j.Status = model.DeadLetterReplayed
			j.ReplayedAt = &now
			return nil
		}
	}
	return ErrAlreadyReplayed
}
