package mqhandler

import (
	"context"
	"errors"
	"fmt"

	"duotime/contracts/jobs"
	"duotime/internal/model"
	"duotime/internal/repository"
	"duotime/internal/service"
	"duotime/internal/store"
	"duotime/pkg/logger"
	"duotime/pkg/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReminderHandler fires send-reminder jobs. The job only carries the
// reminder id; everything else is read fresh because the reminder may have
// been edited after it was scheduled.
type ReminderHandler struct {
	reminders *repository.ReminderRepository
	notifier  *service.Notifier
	scheduler *service.ReminderScheduler
	logger    *zap.Logger
}

func NewReminderHandler(
	reminders *repository.ReminderRepository,
	notifier *service.Notifier,
	scheduler *service.ReminderScheduler,
	logger *zap.Logger,
) *ReminderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderHandler{reminders: reminders, notifier: notifier, scheduler: scheduler, logger: logger}
}

func (h *ReminderHandler) Handle(ctx context.Context, j *queue.Job) error {
	var p jobs.ReminderJob
	if err := j.Decode(&p); err != nil {
		return queue.Permanent(err)
	}
	log := logger.WithTrace(ctx, h.logger).With(zap.String("reminder_id", p.ReminderID))

	r, err := h.reminders.FindByID(ctx, p.ReminderID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("Reminder no longer exists, dropping job")
		return queue.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("load reminder %s: %w", p.ReminderID, err)
	}

	recipients := Recipients(r)
	if len(recipients) == 0 {
		log.Error("Reminder has no recipient", zap.String("target_type", r.TargetType))
	}
	for _, recipient := range recipients {
		_, err := h.notifier.NotifyAs(ctx, notificationJobID(r, recipient), jobs.NotificationJob{
			Kind:              jobs.KindReminder,
			Title:             r.Title,
			Body:              r.Description,
			RecipientUserID:   recipient,
			RelatedReminderID: &r.ID,
			Metadata: map[string]any{
				"reminder_id":  r.ID,
				"creator_id":   r.CreatorID,
				"target_type":  r.TargetType,
				"scheduled_at": r.ScheduledAt,
			},
		})
		if err != nil {
			return err
		}
	}
	log.Info("Reminder fired", zap.String("target_type", r.TargetType))

	if r.IsRecurring {
		return h.scheduleSuccessor(ctx, log, r)
	}
	return nil
}

// Recipients lists who gets notified for a reminder: the creator for FOR_ME,
// the recipient for FOR_PARTNER, and both (separately) for FOR_BOTH.
func Recipients(r *model.Reminder) []string {
	switch r.TargetType {
	case model.TargetForPartner:
		if r.RecipientID != nil {
			return []string{*r.RecipientID}
		}
	case model.TargetForBoth:
		if r.RecipientID != nil {
			return []string{r.CreatorID, *r.RecipientID}
		}
		return []string{r.CreatorID}
	default:
		return []string{r.CreatorID}
	}
	return nil
}

// notificationJobID is stable per firing so a redelivered reminder job does
// not notify twice. updated_at is part of it: an edited reminder is a new
// firing even when it lands on the same time again.
func notificationJobID(r *model.Reminder, recipient string) string {
	return fmt.Sprintf("reminder:%s:%d:%d:%s", r.ID, r.ScheduledAt.Unix(), r.UpdatedAt.UnixMicro(), recipient)
}

// scheduleSuccessor creates the next occurrence once. successor_id on the
// fired row is claimed before the successor row is written; a redelivered
// job finds the claim and only re-schedules the existing successor.
func (h *ReminderHandler) scheduleSuccessor(ctx context.Context, log *zap.Logger, r *model.Reminder) error {
	if r.SuccessorID != nil {
		next, err := h.reminders.FindByID(ctx, *r.SuccessorID)
		if err != nil {
			return fmt.Errorf("load successor %s: %w", *r.SuccessorID, err)
		}
		_, err = h.scheduler.Schedule(ctx, next)
		return err
	}

	pattern := ""
	if r.RecurringPattern != nil {
		pattern = *r.RecurringPattern
	}
	at, ok := service.NextOccurrence(r.ScheduledAt, pattern)
	if !ok {
		log.Warn("Unknown recurring pattern, reminder stops recurring", zap.String("pattern", pattern))
		return nil
	}

	successorID := uuid.NewString()
	if err := h.reminders.ClaimSuccessor(ctx, r, successorID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// 另一个 worker 已经创建了下一次提醒
			return nil
		}
		return fmt.Errorf("claim successor: %w", err)
	}

	next := &model.Reminder{
		ID:               successorID,
		CreatorID:        r.CreatorID,
		RecipientID:      r.RecipientID,
		Title:            r.Title,
		Description:      r.Description,
		ScheduledAt:      at,
		IsRecurring:      true,
		RecurringPattern: r.RecurringPattern,
		TargetType:       r.TargetType,
	}
	if err := h.reminders.Create(ctx, next); err != nil {
		if rerr := h.reminders.ReleaseSuccessor(ctx, r, successorID); rerr != nil {
			log.Error("Failed to release successor claim", zap.String("successor_id", successorID), zap.Error(rerr))
		}
		return fmt.Errorf("create successor: %w", err)
	}

	scheduled, err := h.scheduler.Schedule(ctx, next)
	if err != nil {
		return err
	}
	log.Info("Next occurrence created",
		zap.String("successor_id", next.ID),
		zap.Time("scheduled_at", next.ScheduledAt),
		zap.Bool("scheduled", scheduled),
	)
	return nil
}
