package service

import (
	"context"
	"fmt"
	"time"

	"duotime/contracts/jobs"
	"duotime/internal/model"
	"duotime/pkg/queue"

	"go.uber.org/zap"
)

// JobQueue is the part of *queue.Queue the domain services use.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any, opts queue.JobOptions) (string, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

// ReminderScheduler turns reminders into delayed send-reminder jobs. The job
// id is the reminder id, so scheduling the same reminder twice replaces the
// pending job instead of adding a second one.
type ReminderScheduler struct {
	q      JobQueue
	logger *zap.Logger
	now    func() time.Time
}

func NewReminderScheduler(q JobQueue, logger *zap.Logger) *ReminderScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderScheduler{q: q, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (s *ReminderScheduler) SetClock(now func() time.Time) { s.now = now }

// Schedule enqueues the reminder to fire at ScheduledAt. Reminders that are
// already due are not fired; Schedule then reports false.
func (s *ReminderScheduler) Schedule(ctx context.Context, r *model.Reminder) (bool, error) {
	delay := r.ScheduledAt.Sub(s.now())
	if delay <= 0 {
		s.logger.Info("Reminder is past due, not scheduling",
			zap.String("reminder_id", r.ID),
			zap.Time("scheduled_at", r.ScheduledAt),
			zap.Duration("overdue", -delay),
		)
		return false, nil
	}

	_, err := s.q.Enqueue(ctx, jobs.JobSendReminder, jobs.ReminderJob{ReminderID: r.ID}, queue.JobOptions{
		Delay: delay,
		JobID: r.ID,
	})
	if err != nil {
		return false, fmt.Errorf("schedule reminder %s: %w", r.ID, err)
	}

	s.logger.Debug("Reminder scheduled",
		zap.String("reminder_id", r.ID),
		zap.Time("scheduled_at", r.ScheduledAt),
		zap.Duration("delay", delay),
	)
	return true, nil
}

// Reschedule is Schedule; the stable job id supersedes whatever is pending.
// A reminder moved into the past keeps no pending job.
func (s *ReminderScheduler) Reschedule(ctx context.Context, r *model.Reminder) (bool, error) {
	ok, err := s.Schedule(ctx, r)
	if err != nil || ok {
		return ok, err
	}
	return false, s.Cancel(ctx, r.ID)
}

// Cancel drops the pending job of a reminder. Unknown or running jobs are
// left alone.
func (s *ReminderScheduler) Cancel(ctx context.Context, reminderID string) error {
	removed, err := s.q.Cancel(ctx, reminderID)
	if err != nil {
		return fmt.Errorf("cancel reminder %s: %w", reminderID, err)
	}
	if removed {
		s.logger.Debug("Reminder job cancelled", zap.String("reminder_id", reminderID))
	}
	return nil
}
