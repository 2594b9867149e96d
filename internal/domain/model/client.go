package model

import (
	"time"

	"license-server/internal/domain"
)

// Client is the owning customer of one or more licenses. Only the fields
// the signing payload and the admin create-license flow need are modeled;
// the full customer record lives in the admin CRUD layer.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Document  string    `json:"document"` // tax/company document, free-form
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func NewClient(id, name, email, document string) (*Client, error) {
	if id == "" || name == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Client{
		ID:        id,
		Name:      name,
		Email:     email,
		Document:  document,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}, nil
}
