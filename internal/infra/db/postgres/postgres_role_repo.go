package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
)

var _ repository.RoleRepository = (*roleRepo)(nil)

type roleRepo struct {
	pool *pgxpool.Pool
}

func NewRoleRepo(pool *pgxpool.Pool) *roleRepo {
	return &roleRepo{pool: pool}
}

func (r *roleRepo) RoleOf(ctx context.Context, tx repository.Tx, principal string) (model.UserRole, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT role FROM role_assignments WHERE principal = $1;`, principal)
	if err != nil {
		return "", err
	}
	var roleStr string
	if err := row.Scan(&roleStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", domain.ErrReadDatabaseRow
	}
	return model.UserRole(roleStr), nil
}

func (r *roleRepo) Assign(ctx context.Context, tx repository.Tx, principal string, role model.UserRole) error {
	const q = `
INSERT INTO role_assignments (principal, role, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (principal) DO UPDATE SET role = EXCLUDED.role, updated_at = now();`
	_, err := execSQL(ctx, r.pool, tx, q, principal, string(role))
	return err
}
