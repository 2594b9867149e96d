package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"license-server/internal/domain"
	"license-server/internal/domain/model"
	"license-server/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.ClientRepository = (*PostgresClientRepo)(nil)

type PostgresClientRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{pool: pool}
}

func (r *PostgresClientRepo) Save(ctx context.Context, tx repository.Tx, c *model.Client) error {
	const q = `
INSERT INTO clients (id, name, email, document, active, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE
  SET name=$2, email=$3, document=$4, active=$5;
`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	if _, err := ex.Exec(ctx, q, c.ID, c.Name, c.Email, c.Document, c.Active, c.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

func (r *PostgresClientRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Client, error) {
	const q = `SELECT id, name, email, document, active, created_at FROM clients WHERE id=$1;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	var c model.Client
	if err := ex.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.Email, &c.Document, &c.Active, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find client: %w", err)
	}
	return &c, nil
}

func (r *PostgresClientRepo) List(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.Client, error) {
	const q = `SELECT id, name, email, document, active, created_at FROM clients ORDER BY created_at DESC OFFSET $1 LIMIT $2;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()
	var out []*model.Client
	for rows.Next() {
		var c model.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Document, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
