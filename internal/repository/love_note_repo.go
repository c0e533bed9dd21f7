package repository

import (
	"context"

	"duotime/internal/model"
	"duotime/internal/store"
)

type LoveNoteRepository struct {
	db store.Store
}

func NewLoveNoteRepository(db store.Store) *LoveNoteRepository {
	return &LoveNoteRepository{db: db}
}

func loveNoteFromRecord(r store.Record) *model.LoveNote {
	return &model.LoveNote{
		ID:         str(r, "id"),
		SenderID:   str(r, "sender_id"),
		ReceiverID: str(r, "receiver_id"),
		Message:    str(r, "message"),
		CreatedAt:  timestamp(r, "created_at"),
	}
}

func (r *LoveNoteRepository) Create(ctx context.Context, n *model.LoveNote) error {
	rec, err := r.db.Create(ctx, store.KindLoveNote, store.Record{
		"id":          n.ID,
		"sender_id":   n.SenderID,
		"receiver_id": n.ReceiverID,
		"message":     n.Message,
	})
	if err != nil {
		return err
	}
	*n = *loveNoteFromRecord(rec)
	return nil
}

func (r *LoveNoteRepository) FindByID(ctx context.Context, id string) (*model.LoveNote, error) {
	rec, err := r.db.FindUnique(ctx, store.KindLoveNote, store.Record{"id": id})
	if err != nil {
		return nil, err
	}
	return loveNoteFromRecord(rec), nil
}
