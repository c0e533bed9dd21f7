package repository

import (
	"context"

	"duotime/internal/model"
	"duotime/internal/store"
)

type UserRepository struct {
	db store.Store
}

func NewUserRepository(db store.Store) *UserRepository {
	return &UserRepository{db: db}
}

func userFromRecord(r store.Record) *model.User {
	return &model.User{
		ID:        str(r, "id"),
		Email:     str(r, "email"),
		Name:      str(r, "name"),
		PushToken: strPtr(r, "push_token"),
		PartnerID: strPtr(r, "partner_id"),
		CreatedAt: timestamp(r, "created_at"),
	}
}

// CreateUser inserts a new user. Email and push token are encrypted by the
// store wrapper.
func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	rec, err := r.db.Create(ctx, store.KindUser, store.Record{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"push_token": nullable(u.PushToken),
		"partner_id": nullable(u.PartnerID),
	})
	if err != nil {
		return err
	}
	*u = *userFromRecord(rec)
	return nil
}

// FindByID returns the user with decrypted fields.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	rec, err := r.db.FindUnique(ctx, store.KindUser, store.Record{"id": id})
	if err != nil {
		return nil, err
	}
	return userFromRecord(rec), nil
}

// SetPushToken stores (or clears, with nil) the Expo push token.
func (r *UserRepository) SetPushToken(ctx context.Context, id string, token *string) error {
	_, err := r.db.Update(ctx, store.KindUser, store.Record{"id": id}, store.Record{"push_token": nullable(token)})
	return err
}

// LinkPartners points two users at each other.
func (r *UserRepository) LinkPartners(ctx context.Context, a, b string) error {
	if _, err := r.db.Update(ctx, store.KindUser, store.Record{"id": a}, store.Record{"partner_id": b}); err != nil {
		return err
	}
	_, err := r.db.Update(ctx, store.KindUser, store.Record{"id": b}, store.Record{"partner_id": a})
	return err
}
