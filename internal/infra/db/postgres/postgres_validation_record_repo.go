package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"license-server/internal/domain/model"
	"license-server/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.ValidationRecordRepository = (*PostgresValidationRecordRepo)(nil)

// PostgresValidationRecordRepo persists the append-only audit trail.
// There is deliberately no UPDATE or DELETE statement in this file.
type PostgresValidationRecordRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresValidationRecordRepo(pool *pgxpool.Pool) *PostgresValidationRecordRepo {
	return &PostgresValidationRecordRepo{pool: pool}
}

func (r *PostgresValidationRecordRepo) Append(ctx context.Context, tx repository.Tx, rec *model.ValidationRecord) error {
	const q = `
INSERT INTO validation_records (
  id, license_id, validation_type, success, error_message,
  ip_address, hardware_id, user_agent, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);
`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q,
		rec.ID, rec.LicenseID, string(rec.Type), rec.Success, rec.ErrorMessage,
		rec.IPAddress, rec.HardwareID, rec.UserAgent, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append validation record: %w", err)
	}
	return nil
}

func (r *PostgresValidationRecordRepo) ListByLicense(ctx context.Context, tx repository.Tx, licenseID string, limit int) ([]*model.ValidationRecord, error) {
	const q = `
SELECT id, license_id, validation_type, success, error_message,
       ip_address, hardware_id, user_agent, created_at
  FROM validation_records
 WHERE license_id=$1
 ORDER BY created_at DESC
 LIMIT $2;
`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, licenseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list validation records: %w", err)
	}
	defer rows.Close()
	var out []*model.ValidationRecord
	for rows.Next() {
		var rec model.ValidationRecord
		var typ string
		if err := rows.Scan(
			&rec.ID, &rec.LicenseID, &typ, &rec.Success, &rec.ErrorMessage,
			&rec.IPAddress, &rec.HardwareID, &rec.UserAgent, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Type = model.ValidationType(typ)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *PostgresValidationRecordRepo) CountFailuresSince(ctx context.Context, tx repository.Tx, licenseID string, since time.Time) (int, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	var n int
	err = ex.QueryRow(ctx,
		`SELECT COUNT(*) FROM validation_records WHERE license_id=$1 AND success=false AND created_at >= $2;`,
		licenseID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}
