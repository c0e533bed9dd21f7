package repository

import (
	"context"

	"duotime/internal/model"
	"duotime/internal/store"
)

type NotificationRepository struct {
	db store.Store
}

func NewNotificationRepository(db store.Store) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func notificationFromRecord(r store.Record) *model.Notification {
	return &model.Notification{
		ID:                str(r, "id"),
		Kind:              str(r, "kind"),
		Title:             str(r, "title"),
		Message:           str(r, "message"),
		RecipientUserID:   str(r, "recipient_user_id"),
		IsRead:            boolean(r, "is_read"),
		SentAt:            timestamp(r, "sent_at"),
		RelatedReminderID: strPtr(r, "related_reminder_id"),
		Metadata:          object(r, "metadata"),
	}
}

// Create stores an unread notification. SentAt and ID are filled in when
// zero.
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	data := store.Record{
		"kind":                n.Kind,
		"title":               n.Title,
		"message":             n.Message,
		"recipient_user_id":   n.RecipientUserID,
		"is_read":             false,
		"related_reminder_id": nullable(n.RelatedReminderID),
	}
	if n.ID != "" {
		data["id"] = n.ID
	}
	if !n.SentAt.IsZero() {
		data["sent_at"] = n.SentAt.UTC()
	}
	if n.Metadata != nil {
		data["metadata"] = n.Metadata
	}

	rec, err := r.db.Create(ctx, store.KindNotification, data)
	if err != nil {
		return err
	}
	*n = *notificationFromRecord(rec)
	return nil
}

func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	rec, err := r.db.FindUnique(ctx, store.KindNotification, store.Record{"id": id})
	if err != nil {
		return nil, err
	}
	return notificationFromRecord(rec), nil
}

// ListForUser returns the newest notifications first.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	where := store.Record{"recipient_user_id": userID}
	if unreadOnly {
		where["is_read"] = false
	}
	rows, err := r.db.FindMany(ctx, store.KindNotification, store.Query{
		Where:   where,
		OrderBy: "sent_at",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Notification, 0, len(rows))
	for _, row := range rows {
		out = append(out, notificationFromRecord(row))
	}
	return out, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	rows, err := r.db.FindMany(ctx, store.KindNotification, store.Query{
		Where: store.Record{"recipient_user_id": userID, "is_read": false},
	})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// MarkRead marks one of the user's notifications as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string) (*model.Notification, error) {
	rec, err := r.db.Update(ctx, store.KindNotification,
		store.Record{"id": id, "recipient_user_id": userID},
		store.Record{"is_read": true},
	)
	if err != nil {
		return nil, err
	}
	return notificationFromRecord(rec), nil
}

// MarkAllRead marks every unread notification of the user and returns how
// many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return r.db.UpdateMany(ctx, store.KindNotification,
		store.Record{"recipient_user_id": userID, "is_read": false},
		store.Record{"is_read": true},
	)
}

func (r *NotificationRepository) Delete(ctx context.Context, userID, id string) error {
	return r.db.Delete(ctx, store.KindNotification, store.Record{"id": id, "recipient_user_id": userID})
}
