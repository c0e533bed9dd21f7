package repository

import (
	"context"

	"duotime/internal/model"
	"duotime/internal/store"
)

type ReminderRepository struct {
	db store.Store
}

func NewReminderRepository(db store.Store) *ReminderRepository {
	return &ReminderRepository{db: db}
}

func reminderFromRecord(r store.Record) *model.Reminder {
	return &model.Reminder{
		ID:               str(r, "id"),
		CreatorID:        str(r, "creator_id"),
		RecipientID:      strPtr(r, "recipient_id"),
		Title:            str(r, "title"),
		Description:      str(r, "description"),
		ScheduledAt:      timestamp(r, "scheduled_at"),
		IsRecurring:      boolean(r, "is_recurring"),
		RecurringPattern: strPtr(r, "recurring_pattern"),
		TargetType:       str(r, "target_type"),
		SuccessorID:      strPtr(r, "successor_id"),
		CreatedAt:        timestamp(r, "created_at"),
		UpdatedAt:        timestamp(r, "updated_at"),
	}
}

// content is every column a caller may change.
func reminderContent(m *model.Reminder) store.Record {
	return store.Record{
		"recipient_id":      nullable(m.RecipientID),
		"title":             m.Title,
		"description":       m.Description,
		"scheduled_at":      m.ScheduledAt.UTC(),
		"is_recurring":      m.IsRecurring,
		"recurring_pattern": nullable(m.RecurringPattern),
		"target_type":       m.TargetType,
	}
}

func (r *ReminderRepository) Create(ctx context.Context, m *model.Reminder) error {
	data := reminderContent(m)
	data["id"] = m.ID
	data["creator_id"] = m.CreatorID

	rec, err := r.db.Create(ctx, store.KindReminder, data)
	if err != nil {
		return err
	}
	*m = *reminderFromRecord(rec)
	return nil
}

func (r *ReminderRepository) FindByID(ctx context.Context, id string) (*model.Reminder, error) {
	rec, err := r.db.FindUnique(ctx, store.KindReminder, store.Record{"id": id})
	if err != nil {
		return nil, err
	}
	return reminderFromRecord(rec), nil
}

// ListByCreator returns the creator's reminders, soonest first.
func (r *ReminderRepository) ListByCreator(ctx context.Context, creatorID string) ([]*model.Reminder, error) {
	rows, err := r.db.FindMany(ctx, store.KindReminder, store.Query{
		Where:   store.Record{"creator_id": creatorID},
		OrderBy: "scheduled_at",
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Reminder, 0, len(rows))
	for _, row := range rows {
		out = append(out, reminderFromRecord(row))
	}
	return out, nil
}

// Update writes the mutable content of m.
func (r *ReminderRepository) Update(ctx context.Context, m *model.Reminder) error {
	rec, err := r.db.Update(ctx, store.KindReminder, store.Record{"id": m.ID}, reminderContent(m))
	if err != nil {
		return err
	}
	*m = *reminderFromRecord(rec)
	return nil
}

// ClaimSuccessor records successorID on the reminder unless one is already
// set. It returns store.ErrNotFound when another run got there first.
// updated_at is kept as is; successor bookkeeping is not an edit.
func (r *ReminderRepository) ClaimSuccessor(ctx context.Context, m *model.Reminder, successorID string) error {
	_, err := r.db.Update(ctx, store.KindReminder,
		store.Record{"id": m.ID, "successor_id": nil},
		store.Record{"successor_id": successorID, "updated_at": m.UpdatedAt.UTC()},
	)
	return err
}

// ReleaseSuccessor undoes ClaimSuccessor when creating the successor failed.
func (r *ReminderRepository) ReleaseSuccessor(ctx context.Context, m *model.Reminder, successorID string) error {
	_, err := r.db.Update(ctx, store.KindReminder,
		store.Record{"id": m.ID, "successor_id": successorID},
		store.Record{"successor_id": nil, "updated_at": m.UpdatedAt.UTC()},
	)
	return err
}

func (r *ReminderRepository) Delete(ctx context.Context, id string) error {
	return r.db.Delete(ctx, store.KindReminder, store.Record{"id": id})
}
