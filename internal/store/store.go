// Package store is the record-level persistence boundary. Records are keyed by
// entity kind and addressed with equality filters; Postgres and in-memory
// implementations are provided, and NewEncrypted decorates either one with
// transparent field encryption.
package store

import (
	"context"
	"errors"
)

// Entity kinds.
const (
	KindUser         = "User"
	KindReminder     = "Reminder"
	KindLoveNote     = "LoveNote"
	KindNotification = "Notification"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrUnknownKind = errors.New("unknown entity kind")
	ErrBadColumn   = errors.New("unknown column")
	// ErrConflict is returned by Create when the id is already taken.
	ErrConflict = errors.New("record already exists")
)

// Record is one row, keyed by column name.
type Record = map[string]any

// Query selects records with equality filters. A nil value in Where matches
// NULL.
type Query struct {
	Where   Record
	OrderBy string
	Desc    bool
	Limit   int
}

// Store is implemented by every persistence backend and by the encryption
// decorator.
type Store interface {
	Create(ctx context.Context, kind string, data Record) (Record, error)
	Update(ctx context.Context, kind string, where Record, data Record) (Record, error)
	UpdateMany(ctx context.Context, kind string, where Record, data Record) (int64, error)
	FindUnique(ctx context.Context, kind string, where Record) (Record, error)
	FindFirst(ctx context.Context, kind string, q Query) (Record, error)
	FindMany(ctx context.Context, kind string, q Query) ([]Record, error)
	Delete(ctx context.Context, kind string, where Record) error
	DeleteMany(ctx context.Context, kind string, where Record) (int64, error)
}
