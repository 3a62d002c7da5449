package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	CreateUser(ctx context.Context, user User) (int64, error)
	SetMFASecret(ctx context.Context, id int64, secret string) error
	IPRestrictions(ctx context.Context, id int64) ([]string, error)
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, password_hash, role, COALESCE(mfa_secret, ''), ip_restrictions, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		user      User
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.MFASecret,
		&user.IPRestrictions, &user.IsActive, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = createdAt.Time
	user.UpdatedAt = updatedAt.Time
	return &user, nil
}

// FindByEmail fetches a user by email, case-insensitively.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// CreateUser inserts an account and returns its id.
func (r *PGRepository) CreateUser(ctx context.Context, user User) (int64, error) {
	if user.IPRestrictions == nil {
		user.IPRestrictions = []string{}
	}
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO users (email, password_hash, role, ip_restrictions, is_active)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		strings.TrimSpace(user.Email), user.PasswordHash, user.Role, user.IPRestrictions, user.IsActive).Scan(&id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return 0, ErrEmailTaken
	}
	return id, err
}

// SetMFASecret stores the TOTP secret of a user.
func (r *PGRepository) SetMFASecret(ctx context.Context, id int64, secret string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET mfa_secret = $2, updated_at = NOW() WHERE id = $1`, id, secret)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// IPRestrictions returns the allow-list of an active user. Unknown users yield ErrNotFound.
func (r *PGRepository) IPRestrictions(ctx context.Context, id int64) ([]string, error) {
	var entries []string
	err := r.pool.QueryRow(ctx, `SELECT ip_restrictions FROM users WHERE id = $1 AND is_active`, id).Scan(&entries)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return entries, err
}

// CreateSession records a login session for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_sessions (id, user_id, created_at, expires_at, ip, user_agent)
VALUES ($1, $2, NOW(), $3, $4, $5)
ON CONFLICT (id) DO NOTHING`,
		id, userID,
		pgtype.Timestamptz{Time: expiresAt.UTC(), Valid: true},
		pgtype.Text{String: ip, Valid: ip != ""},
		pgtype.Text{String: ua, Valid: ua != ""},
	)
	return err
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	return err
}

var _ Repository = (*PGRepository)(nil)
