package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRoleStore reads roles from the users table.
type PGRoleStore struct {
	pool *pgxpool.Pool
}

// NewRoleStore constructs a PostgreSQL role store.
func NewRoleStore(pool *pgxpool.Pool) *PGRoleStore {
	return &PGRoleStore{pool: pool}
}

// UserRole returns the role column of an active user.
func (s *PGRoleStore) UserRole(ctx context.Context, userID int64) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 AND is_active`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return role, nil
}

var _ RoleStore = (*PGRoleStore)(nil)
