package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelect(t *testing.T) {
	tbl := schema[KindNotification]

	sql, args, err := buildSelect(tbl, Query{
		Where:   Record{"recipient_user_id": "u1", "is_read": false, "related_reminder_id": nil},
		OrderBy: "sent_at",
		Desc:    true,
		Limit:   20,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, kind, title, message, recipient_user_id, is_read, sent_at, related_reminder_id, metadata FROM notifications"+
			" WHERE is_read = $1 AND recipient_user_id = $2 AND related_reminder_id IS NULL ORDER BY sent_at DESC LIMIT 20",
		sql)
	assert.Equal(t, []any{false, "u1"}, args)
}

func TestBuildSelect_RejectsUnknownIdentifiers(t *testing.T) {
	tbl := schema[KindUser]

	_, _, err := buildSelect(tbl, Query{Where: Record{"email; DROP TABLE users": "x"}})
	assert.ErrorIs(t, err, ErrBadColumn)

	_, _, err = buildSelect(tbl, Query{OrderBy: "random()"})
	assert.ErrorIs(t, err, ErrBadColumn)
}

func TestBuildInsert(t *testing.T) {
	sql, args, err := buildInsert(schema[KindLoveNote], Record{"id": "ln1", "sender_id": "u1", "receiver_id": "u2", "message": "enc:v1:x"})
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO love_notes (id, message, receiver_id, sender_id) VALUES ($1, $2, $3, $4)"+
			" RETURNING id, sender_id, receiver_id, message, created_at",
		sql)
	assert.Equal(t, []any{"ln1", "enc:v1:x", "u2", "u1"}, args)
}

func TestBuildUpdate(t *testing.T) {
	tbl := schema[KindReminder]

	sql, args, err := buildUpdate(tbl, Record{"id": "r1"}, Record{"title": "new", "successor_id": "r2"}, true)
	require.NoError(t, err)
	assert.Equal(t,
		"UPDATE reminders SET successor_id = $1, title = $2, updated_at = NOW()"+
			" WHERE id = (SELECT id FROM reminders WHERE id = $3 LIMIT 1 FOR UPDATE) AND id = $3"+
			" RETURNING id, creator_id, recipient_id, title, description, scheduled_at, is_recurring, recurring_pattern, target_type, successor_id, created_at, updated_at",
		sql)
	assert.Equal(t, []any{"r2", "new", "r1"}, args)

	// Successor claim: a second claimer that waited on the row lock must not
	// match once successor_id is set.
	sql, args, err = buildUpdate(tbl, Record{"id": "r1", "successor_id": nil}, Record{"successor_id": "r2"}, true)
	require.NoError(t, err)
	assert.Equal(t,
		"UPDATE reminders SET successor_id = $1, updated_at = NOW()"+
			" WHERE id = (SELECT id FROM reminders WHERE id = $2 AND successor_id IS NULL LIMIT 1 FOR UPDATE)"+
			" AND id = $2 AND successor_id IS NULL"+
			" RETURNING id, creator_id, recipient_id, title, description, scheduled_at, is_recurring, recurring_pattern, target_type, successor_id, created_at, updated_at",
		sql)
	assert.Equal(t, []any{"r2", "r1"}, args)

	sql, args, err = buildUpdate(schema[KindNotification], Record{"recipient_user_id": "u1", "is_read": false}, Record{"is_read": true}, false)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE notifications SET is_read = $1 WHERE is_read = $2 AND recipient_user_id = $3", sql)
	assert.Equal(t, []any{true, false, "u1"}, args)

	_, _, err = buildUpdate(tbl, Record{"id": "r1"}, Record{}, true)
	assert.Error(t, err)
}

func TestBuildDelete(t *testing.T) {
	tbl := schema[KindNotification]

	sql, args, err := buildDelete(tbl, Record{"id": "n1", "recipient_user_id": "u1"}, true)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM notifications WHERE id = (SELECT id FROM notifications WHERE id = $1 AND recipient_user_id = $2 LIMIT 1 FOR UPDATE)"+
		" AND id = $1 AND recipient_user_id = $2", sql)
	assert.Equal(t, []any{"n1", "u1"}, args)

	sql, _, err = buildDelete(tbl, Record{"recipient_user_id": "u1"}, false)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM notifications WHERE recipient_user_id = $1", sql)
}

func TestMapError(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: "23505", ConstraintName: "notifications_pkey"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "notifications_pkey")

	assert.ErrorIs(t, mapError(pgx.ErrNoRows), ErrNotFound)

	other := errors.New("conn reset")
	assert.Same(t, other, mapError(other))
}

func TestMemory_CreateDuplicateIDConflicts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	row := Record{"id": "n1", "kind": "SYSTEM", "title": "t", "message": "m", "recipient_user_id": "u1"}

	_, err := m.Create(ctx, KindNotification, row)
	require.NoError(t, err)
	_, err = m.Create(ctx, KindNotification, row)
	assert.ErrorIs(t, err, ErrConflict)
}
