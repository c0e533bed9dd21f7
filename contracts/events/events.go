package events

import "time"

// NotificationCreated is published on notification.created once the row is
// stored. It is the only feed for real-time clients and push delivery.
type NotificationCreated struct {
	ID                string         `json:"id"`
	Kind              string         `json:"kind"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	IsRead            bool           `json:"is_read"`
	SentAt            time.Time      `json:"sent_at"`
	RecipientUserID   string         `json:"recipient_user_id"`
	RelatedReminderID *string        `json:"related_reminder_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// NotificationRead is published on notification.read. All is set for
// mark-all-read, in which case IDs is empty.
type NotificationRead struct {
	RecipientUserID string   `json:"recipient_user_id"`
	IDs             []string `json:"ids,omitempty"`
	All             bool     `json:"all,omitempty"`
}

// NotificationDeleted is published on notification.deleted.
type NotificationDeleted struct {
	ID              string `json:"id"`
	RecipientUserID string `json:"recipient_user_id"`
}
