package service

import (
	"context"
	"fmt"

	"duotime/contracts/jobs"
	"duotime/pkg/queue"
)

// Notifier enqueues send-notification jobs on the notifications queue.
type Notifier struct {
	q JobQueue
}

func NewNotifier(q JobQueue) *Notifier {
	return &Notifier{q: q}
}

// Notify returns the id of the queued job.
func (n *Notifier) Notify(ctx context.Context, job jobs.NotificationJob) (string, error) {
	return n.NotifyAs(ctx, "", job)
}

// NotifyAs queues the job under a caller chosen id. Queueing the same id
// again replaces a pending job, and the worker skips ids it already
// processed, so a producer that may run twice gets one notification.
func (n *Notifier) NotifyAs(ctx context.Context, jobID string, job jobs.NotificationJob) (string, error) {
	if job.RecipientUserID == "" {
		return "", fmt.Errorf("%w: recipient_user_id is required", ErrInvalidInput)
	}
	id, err := n.q.Enqueue(ctx, jobs.JobSendNotification, job, queue.JobOptions{JobID: jobID})
	if err != nil {
		return "", fmt.Errorf("enqueue notification for %s: %w", job.RecipientUserID, err)
	}
	return id, nil
}
