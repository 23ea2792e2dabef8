package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/textextract/textextract/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, full_name, password_hash, plan_type, status, email_verified, last_login_at, created_at, updated_at`

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user for email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user to the database. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	lastLogin := sql.NullTime{}
	if u.LastLoginAt != nil {
		lastLogin = sql.NullTime{Time: *u.LastLoginAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.Email, u.FullName, u.PasswordHash, string(u.Plan), string(u.Status),
		u.EmailVerified, lastLogin, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

// UpdatePassword replaces the stored password hash for the given user id.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		userID, passwordHash,
	)
	return err
}

// SetEmailVerified marks the user's email as verified.
func (r *PostgresRepository) SetEmailVerified(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`,
		userID,
	)
	return err
}

// UpdateLastLogin sets the user's last-login timestamp for the given id.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`,
		userID, sql.NullTime{Time: at, Valid: true},
	)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var plan, status string
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &plan, &status,
		&u.EmailVerified, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Plan = domain.Plan(plan)
	u.Status = domain.UserStatus(status)
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}
