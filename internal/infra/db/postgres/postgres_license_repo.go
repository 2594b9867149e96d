package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"license-server/internal/domain"
	"license-server/internal/domain/model"
	"license-server/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.LicenseRepository = (*PostgresLicenseRepo)(nil)

type PostgresLicenseRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresLicenseRepo(pool *pgxpool.Pool) *PostgresLicenseRepo {
	return &PostgresLicenseRepo{pool: pool}
}

const licenseColumns = `
id, license_key, client_id, plan, features,
max_users, max_customers, max_products, max_monthly_transactions,
status, hardware_id, is_trial,
issued_at, activated_at, expires_at, last_validated_at, last_heartbeat_at,
notes, created_at, updated_at`

func (r *PostgresLicenseRepo) Save(ctx context.Context, tx repository.Tx, lic *model.License) error {
	const q = `
INSERT INTO licenses (
  id, license_key, client_id, plan, features,
  max_users, max_customers, max_products, max_monthly_transactions,
  status, hardware_id, is_trial,
  issued_at, activated_at, expires_at, last_validated_at, last_heartbeat_at,
  notes, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19, now()
) ON CONFLICT (id) DO UPDATE SET
  status=$10, hardware_id=$11,
  plan=$4, features=$5,
  max_users=$6, max_customers=$7, max_products=$8, max_monthly_transactions=$9,
  activated_at=$14, expires_at=$15, last_validated_at=$16, last_heartbeat_at=$17,
  notes=$18, updated_at=now();
`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q,
		lic.ID, lic.LicenseKey, lic.ClientID, string(lic.Plan), lic.Features,
		lic.Limits.MaxUsers, lic.Limits.MaxCustomers, lic.Limits.MaxProducts, lic.Limits.MaxMonthlyTransactions,
		string(lic.Status), lic.HardwareID, lic.IsTrial,
		lic.IssuedAt, lic.ActivatedAt, lic.ExpiresAt, lic.LastValidatedAt, lic.LastHeartbeatAt,
		lic.Notes, lic.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("save license: %w", err)
	}
	return nil
}

func (r *PostgresLicenseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.License, error) {
	q := `SELECT ` + licenseColumns + ` FROM licenses WHERE id=$1;`
	return r.findOne(ctx, tx, q, id)
}

func (r *PostgresLicenseRepo) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.License, error) {
	q := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key=$1;`
	return r.findOne(ctx, tx, q, key)
}

// FindByKeyForUpdate locks the license row until the surrounding
// transaction ends. Activation depends on this for at-most-one successful
// transition out of pending per license.
func (r *PostgresLicenseRepo) FindByKeyForUpdate(ctx context.Context, tx repository.Tx, key string) (*model.License, error) {
	if _, ok := tx.(pgx.Tx); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	q := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key=$1 FOR UPDATE;`
	return r.findOne(ctx, tx, q, key)
}

// FindByIDForUpdate is the admin-side row lock; suspend/reactivate/revoke
// and hardware reset serialize against activation through it.
func (r *PostgresLicenseRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.License, error) {
	if _, ok := tx.(pgx.Tx); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	q := `SELECT ` + licenseColumns + ` FROM licenses WHERE id=$1 FOR UPDATE;`
	return r.findOne(ctx, tx, q, id)
}

// TouchValidation writes the last-seen timestamps and nothing else, so a
// heartbeat can never resurrect a status change committed after its read.
func (r *PostgresLicenseRepo) TouchValidation(ctx context.Context, tx repository.Tx, id string, at time.Time, heartbeat bool) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	q := `UPDATE licenses SET last_validated_at=$2, updated_at=now() WHERE id=$1;`
	if heartbeat {
		q = `UPDATE licenses SET last_validated_at=$2, last_heartbeat_at=$2, updated_at=now() WHERE id=$1;`
	}
	tag, err := ex.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("touch license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresLicenseRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg interface{}) (*model.License, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	row := ex.QueryRow(ctx, q, arg)
	lic, err := scanLicense(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find license: %w", err)
	}
	return lic, nil
}

func (r *PostgresLicenseRepo) List(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.License, error) {
	q := `SELECT ` + licenseColumns + ` FROM licenses ORDER BY created_at DESC OFFSET $1 LIMIT $2;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()
	var out []*model.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lic)
	}
	return out, rows.Err()
}

func (r *PostgresLicenseRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.LicenseStatus]int, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `SELECT status, COUNT(*) FROM licenses GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count licenses: %w", err)
	}
	defer rows.Close()
	out := make(map[model.LicenseStatus]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[model.LicenseStatus(s)] = n
	}
	return out, rows.Err()
}

func scanLicense(row pgx.Row) (*model.License, error) {
	var lic model.License
	var plan, status string
	if err := row.Scan(
		&lic.ID, &lic.LicenseKey, &lic.ClientID, &plan, &lic.Features,
		&lic.Limits.MaxUsers, &lic.Limits.MaxCustomers, &lic.Limits.MaxProducts, &lic.Limits.MaxMonthlyTransactions,
		&status, &lic.HardwareID, &lic.IsTrial,
		&lic.IssuedAt, &lic.ActivatedAt, &lic.ExpiresAt, &lic.LastValidatedAt, &lic.LastHeartbeatAt,
		&lic.Notes, &lic.CreatedAt, &lic.UpdatedAt,
	); err != nil {
		return nil, err
	}
	lic.Plan = model.LicensePlan(plan)
	lic.Status = model.LicenseStatus(status)
	return &lic, nil
}
