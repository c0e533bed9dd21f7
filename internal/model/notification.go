package model

import "time"

type Notification struct {
	ID                string         `json:"id"`
	Kind              string         `json:"kind"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	RecipientUserID   string         `json:"recipient_user_id"`
	IsRead            bool           `json:"is_read"`
	SentAt            time.Time      `json:"sent_at"`
	RelatedReminderID *string        `json:"related_reminder_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}
