package repository

import (
	"context"

	"license-server/internal/domain/model"
)

// ClientRepository is the port for customer records.
type ClientRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Client) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Client, error)
	List(ctx context.Context, tx Tx, offset, limit int) ([]*model.Client, error)
}
