package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"duotime/internal/model"
	"duotime/internal/repository"
	"duotime/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReminderInput is what a caller may set on a reminder.
type ReminderInput struct {
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	IsRecurring      bool      `json:"is_recurring"`
	RecurringPattern *string   `json:"recurring_pattern,omitempty"`
	TargetType       string    `json:"target_type"`
	RecipientID      *string   `json:"recipient_id,omitempty"`
}

type ReminderService struct {
	reminders *repository.ReminderRepository
	users     *repository.UserRepository
	scheduler *ReminderScheduler
	logger    *zap.Logger
}

func NewReminderService(
	reminders *repository.ReminderRepository,
	users *repository.UserRepository,
	scheduler *ReminderScheduler,
	logger *zap.Logger,
) *ReminderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderService{reminders: reminders, users: users, scheduler: scheduler, logger: logger}
}

// Create stores a reminder and schedules it.
func (s *ReminderService) Create(ctx context.Context, creatorID string, in ReminderInput) (*model.Reminder, error) {
	if err := s.validate(ctx, creatorID, &in); err != nil {
		return nil, err
	}

	r := &model.Reminder{
		ID:        uuid.NewString(),
		CreatorID: creatorID,
	}
	apply(r, in)
	if err := s.reminders.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}

	if _, err := s.scheduler.Schedule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Update rewrites the reminder and reschedules its pending job.
func (s *ReminderService) Update(ctx context.Context, userID, id string, in ReminderInput) (*model.Reminder, error) {
	r, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, userID, &in); err != nil {
		return nil, err
	}

	apply(r, in)
	if err := s.reminders.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}

	if _, err := s.scheduler.Reschedule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes the reminder and its pending job.
func (s *ReminderService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.scheduler.Cancel(ctx, id); err != nil {
		return err
	}
	return s.reminders.Delete(ctx, id)
}

func (s *ReminderService) Get(ctx context.Context, userID, id string) (*model.Reminder, error) {
	return s.owned(ctx, userID, id)
}

func (s *ReminderService) List(ctx context.Context, userID string) ([]*model.Reminder, error) {
	return s.reminders.ListByCreator(ctx, userID)
}

func (s *ReminderService) owned(ctx context.Context, userID, id string) (*model.Reminder, error) {
	r, err := s.reminders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.CreatorID != userID {
		return nil, ErrForbidden
	}
	return r, nil
}

// validate enforces the partner rule: FOR_PARTNER and FOR_BOTH need a
// recipient, and it must be the creator's linked partner. FOR_ME ignores
// any recipient.
func (s *ReminderService) validate(ctx context.Context, creatorID string, in *ReminderInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled_at is required", ErrInvalidInput)
	}
	if in.IsRecurring {
		if in.RecurringPattern == nil {
			return fmt.Errorf("%w: recurring_pattern is required for recurring reminders", ErrInvalidInput)
		}
		if _, ok := NextOccurrence(in.ScheduledAt, *in.RecurringPattern); !ok {
			return fmt.Errorf("%w: unknown recurring_pattern %q", ErrInvalidInput, *in.RecurringPattern)
		}
	}

	switch in.TargetType {
	case "":
		in.TargetType = model.TargetForMe
		fallthrough
	case model.TargetForMe:
		in.RecipientID = nil
		return nil
	case model.TargetForPartner, model.TargetForBoth:
	default:
		return fmt.Errorf("%w: unknown target_type %q", ErrInvalidTarget, in.TargetType)
	}

	if in.RecipientID == nil || *in.RecipientID == "" {
		return fmt.Errorf("%w: recipient_id is required for %s", ErrInvalidTarget, in.TargetType)
	}
	creator, err := s.users.FindByID(ctx, creatorID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: unknown creator", ErrInvalidTarget)
	}
	if err != nil {
		return err
	}
	if creator.PartnerID == nil || *creator.PartnerID != *in.RecipientID {
		return fmt.Errorf("%w: recipient is not the creator's partner", ErrInvalidTarget)
	}
	return nil
}

func apply(r *model.Reminder, in ReminderInput) {
	r.Title = in.Title
	r.Description = in.Description
	r.ScheduledAt = in.ScheduledAt.UTC()
	r.IsRecurring = in.IsRecurring
	r.RecurringPattern = in.RecurringPattern
	if !in.IsRecurring {
		r.RecurringPattern = nil
	}
	r.TargetType = in.TargetType
	r.RecipientID = in.RecipientID
}
