package deadletter

import (
	"context"
	"fmt"

	"duotime/internal/model"
	"duotime/pkg/queue"

	"go.uber.org/zap"
)

// Enqueuer is the part of *queue.Queue replay needs.
type Enqueuer interface {
	Name() string
	Enqueue(ctx context.Context, name string, payload any, opts queue.JobOptions) (string, error)
}

// Service lists and replays dead jobs.
type Service struct {
	store  Store
	queues map[string]Enqueuer
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger, queues ...Enqueuer) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := make(map[string]Enqueuer, len(queues))
	for _, q := range queues {
		m[q.Name()] = q
	}
	return &Service{store: store, queues: m, logger: logger}
}

func (s *Service) List(ctx context.Context, status string, limit int) ([]*model.DeadLetterJob, error) {
	return s.store.List(ctx, status, limit)
}

func (s *Service) Get(ctx context.Context, id int64) (*model.DeadLetterJob, error) {
	return s.store.Get(ctx, id)
}

// Replay puts a dead job back on its queue under the same job id with a
// fresh attempt budget.
func (s *Service) Replay(ctx context.Context, id int64) (*model.DeadLetterJob, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.Status != model.DeadLetterFailed {
		return nil, ErrAlreadyReplayed
	}

	q, ok := s.queues[row.Queue]
	if !ok {
		return nil, fmt.Errorf("replay %d: unknown queue %q", id, row.Queue)
	}

	if _, err := q.Enqueue(ctx, row.JobName, row.Payload, queue.JobOptions{JobID: row.JobID}); err != nil {
		return nil, fmt.Errorf("replay %d: %w", id, err)
	}
	if err := s.store.MarkReplayed(ctx, id); err != nil {
		return nil, err
	}

	s.logger.Info("Dead letter job replayed",
		zap.Int64("id", id),
		zap.String("queue", row.Queue),
		zap.String("job_id", row.JobID),
		zap.String("job_name", row.JobName),
	)
	return s.store.Get(ctx, id)
}
