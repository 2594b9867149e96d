package repository

import (
	"context"
	"time"

	"license-server/internal/domain/model"
)

// ValidationRecordRepository is the port for the append-only audit log.
// There is no update or delete.
type ValidationRecordRepository interface {
	Append(ctx context.Context, tx Tx, rec *model.ValidationRecord) error
	// ListByLicense returns records for one license ordered by created_at
	// descending (dashboard/audit consumption order).
	ListByLicense(ctx context.Context, tx Tx, licenseID string, limit int) ([]*model.ValidationRecord, error)
	// CountFailuresSince counts failed attempts for a license after the
	// given time, the primary fraud-detection query.
	CountFailuresSince(ctx context.Context, tx Tx, licenseID string, since time.Time) (int, error)
}
