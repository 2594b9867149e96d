package repository

import (
	"context"
	"time"

	"license-server/internal/domain/model"
)

// LicenseRepository is the port for license persistence. Licenses are never
// deleted; revocation is the terminal write.
type LicenseRepository interface {
	// Save inserts or updates a license row. Insert fails with
	// domain.ErrAlreadyExists when the license_key is already taken.
	Save(ctx context.Context, tx Tx, lic *model.License) error
	// FindByID returns domain.ErrNotFound when absent.
	FindByID(ctx context.Context, tx Tx, id string) (*model.License, error)
	// FindByKey resolves the human-presentable key.
	FindByKey(ctx context.Context, tx Tx, key string) (*model.License, error)
	// FindByKeyForUpdate locks the row for the duration of tx. tx must be a
	// live transaction handle; activation uses this to serialize the
	// transition out of pending.
	FindByKeyForUpdate(ctx context.Context, tx Tx, key string) (*model.License, error)
	// FindByIDForUpdate is the same row lock keyed by id; admin status
	// transitions use it so they never race a concurrent write.
	FindByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.License, error)
	// TouchValidation updates only the last-seen timestamps. Heartbeats
	// must not carry the rest of the row back to the store: a stale
	// in-memory copy would overwrite status changes committed in between.
	TouchValidation(ctx context.Context, tx Tx, id string, at time.Time, heartbeat bool) error
	// List returns licenses ordered by created_at descending.
	List(ctx context.Context, tx Tx, offset, limit int) ([]*model.License, error)
	// CountByStatus reports stored (not effective) status counts.
	CountByStatus(ctx context.Context, tx Tx) (map[model.LicenseStatus]int, error)
}
