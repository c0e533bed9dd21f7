package model

import "time"

// Reminder target types.
const (
	TargetForMe      = "FOR_ME"
	TargetForPartner = "FOR_PARTNER"
	TargetForBoth    = "FOR_BOTH"
)

// Recurrence patterns.
const (
	PatternDaily   = "daily"
	PatternWeekly  = "weekly"
	PatternMonthly = "monthly"
	PatternYearly  = "yearly"
)

type Reminder struct {
	ID               string    `json:"id"`
	CreatorID        string    `json:"creator_id"`
	RecipientID      *string   `json:"recipient_id,omitempty"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	IsRecurring      bool      `json:"is_recurring"`
	RecurringPattern *string   `json:"recurring_pattern,omitempty"`
	TargetType       string    `json:"target_type"`
	// SuccessorID is set once the next occurrence of a recurring reminder
	// has been created.
	SuccessorID *string   `json:"successor_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
