package store

import (
	"fmt"
	"time"
)

// table describes how one entity kind is laid out in Postgres. Columns act as
// a whitelist for every identifier that ends up in generated SQL.
type table struct {
	Name     string
	Columns  []string
	Defaults Record
	// Stamps are filled with the current time on insert when absent.
	Stamps []string
	// Touch is set to the current time on every update, if non-empty.
	Touch string
}

var schema = map[string]table{
	KindUser: {
		Name:     "users",
		Columns:  []string{"id", "email", "name", "push_token", "partner_id", "created_at"},
		Defaults: Record{"name": ""},
		Stamps:   []string{"created_at"},
	},
	KindReminder: {
		Name: "reminders",
		Columns: []string{
			"id", "creator_id", "recipient_id", "title", "description", "scheduled_at",
			"is_recurring", "recurring_pattern", "target_type", "successor_id", "created_at", "updated_at",
		},
		Defaults: Record{"description": "", "is_recurring": false, "target_type": "FOR_ME"},
		Stamps:   []string{"created_at", "updated_at"},
		Touch:    "updated_at",
	},
	KindLoveNote: {
		Name:    "love_notes",
		Columns: []string{"id", "sender_id", "receiver_id", "message", "created_at"},
		Stamps:  []string{"created_at"},
	},
	KindNotification: {
		Name: "notifications",
		Columns: []string{
			"id", "kind", "title", "message", "recipient_user_id", "is_read", "sent_at",
			"related_reminder_id", "metadata",
		},
		Defaults: Record{"is_read": false},
		Stamps:   []string{"sent_at"},
	},
}

func lookup(kind string) (table, error) {
	t, ok := schema[kind]
	if !ok {
		return table{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return t, nil
}

func (t table) has(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

func (t table) check(cols Record) error {
	for c := range cols {
		if !t.has(c) {
			return fmt.Errorf("%w: %s.%s", ErrBadColumn, t.Name, c)
		}
	}
	return nil
}

// withDefaults fills the column defaults the database would apply, so both
// backends return the same shape from Create.
func (t table) withDefaults(r Record, now time.Time) Record {
	out := clone(r)
	for k, v := range t.Defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	for _, c := range t.Stamps {
		if _, ok := out[c]; !ok {
			out[c] = now.UTC()
		}
	}
	return out
}
