package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// DLQExchangeName receives jobs that exhausted their attempts. The routing
	// key is the job queue name.
	DLQExchangeName = "duotime.dlq"
)

// DeclareDLQQueue declares a durable dead letter queue for one job queue so
// dead jobs are kept until someone reads them.
func DeclareDLQQueue(ch *amqp091.Channel, jobQueue string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		DLQQueueName(jobQueue),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, jobQueue, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}
	return q, nil
}

// DeclareDLQQueues declares and binds a DLQ queue per job queue on the
// publisher's channel. Without a bound queue the broker drops what
// PublishToDLQ sends.
func (p *Publisher) DeclareDLQQueues(jobQueues ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return errors.New("publisher has no channel")
	}
	for _, jq := range jobQueues {
		if _, err := DeclareDLQQueue(p.channel, jq); err != nil {
			return fmt.Errorf("dlq for %s: %w", jq, err)
		}
	}
	return nil
}

func DLQQueueName(jobQueue string) string {
	return fmt.Sprintf("%s.dlq", jobQueue)
}

// DeadLetterHeaders describes why a job ended up in the DLQ.
type DeadLetterHeaders struct {
	JobID    string
	JobName  string
	Attempts int
	Error    string
	TraceID  string
}

// PublishToDLQ publishes a dead job payload to the dead letter exchange.
func (p *Publisher) PublishToDLQ(ctx context.Context, jobQueue string, payload []byte, h DeadLetterHeaders) error {
	headers := amqp091.Table{
		"x-job-id":         h.JobID,
		"x-job-name":       h.JobName,
		"x-attempts":       int32(h.Attempts),
		"x-original-error": h.Error,
		"x-trace-id":       h.TraceID,
		"x-failed-at":      time.Now().UTC().Format(time.RFC3339),
	}
	return p.Publish(ctx, DLQExchangeName, jobQueue, payload, headers)
}
