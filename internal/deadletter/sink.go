package deadletter

import (
	"context"
	"errors"

	"duotime/internal/model"
	"duotime/pkg/mq"
	"duotime/pkg/queue"

	"go.uber.org/zap"
)

// Publisher announces dead jobs on the broker. *mq.Publisher satisfies it.
type Publisher interface {
	PublishToDLQ(ctx context.Context, jobQueue string, payload []byte, h mq.DeadLetterHeaders) error
}

// Sink records dead jobs. The Postgres row is the source of truth for replay,
// the DLQ message is for whoever watches the broker.
type Sink struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
}

var _ queue.DeadLetterSink = (*Sink)(nil)

// NewSink builds a sink. publisher may be nil.
func NewSink(store Store, publisher Publisher, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, publisher: publisher, logger: logger}
}

func (s *Sink) DeadLetter(ctx context.Context, j *queue.Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	row := &model.DeadLetterJob{
		Queue:    j.Queue,
		JobID:    j.ID,
		JobName:  j.Name,
		Payload:  j.Data,
		Attempts: j.AttemptsMade,
		Error:    msg,
		TraceID:  j.TraceID,
	}

	var errs []error
	if err := s.store.Insert(ctx, row); err != nil {
		errs = append(errs, err)
	}

	if s.publisher != nil {
		err := s.publisher.PublishToDLQ(ctx, j.Queue, j.Data, mq.DeadLetterHeaders{
			JobID:    j.ID,
			JobName:  j.Name,
			Attempts: j.AttemptsMade,
			Error:    msg,
			TraceID:  j.TraceID,
		})
		if err != nil {
			s.logger.Warn("Failed to publish to DLQ",
				zap.String("queue", j.Queue),
				zap.String("job_id", j.ID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
