package jobs

// Queues and job names shared by producers (API) and consumers (worker).
const (
	QueueNotifications  = "notifications"
	JobSendNotification = "send-notification"

	QueueReminders  = "reminders"
	JobSendReminder = "send-reminder"
)

// Notification kinds.
const (
	KindReminder = "REMINDER"
	KindLoveNote = "LOVE_NOTE"
	KindSystem   = "SYSTEM"
)

// NotificationJob asks the worker to persist a notification and announce it.
type NotificationJob struct {
	Kind              string         `json:"kind"`
	Title             string         `json:"title"`
	Body              string         `json:"body"`
	RecipientUserID   string         `json:"recipient_user_id"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	RelatedReminderID *string        `json:"related_reminder_id,omitempty"`
}

// ReminderJob carries only the reminder id; the worker reloads the rest.
type ReminderJob struct {
	ReminderID string `json:"reminder_id"`
}
