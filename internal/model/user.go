package model

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	PushToken *string   `json:"-"`
	PartnerID *string   `json:"partner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
