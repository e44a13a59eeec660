package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meridian-erp/gatekeeper/internal/database"
	"github.com/meridian-erp/gatekeeper/internal/models"
)

// UserRepository is the identity-store collaborator: user records plus the
// per-user lockout state mutated during credential verification.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

const userColumns = `id, email, password_hash, name, mfa_enabled, mfa_enrolled_at,
	failed_login_count, first_failed_at, locked_until, password_changed_at, created_at, updated_at`

// rowScanner interface for scanning user rows (single row or result set)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name,
		&user.MFAEnabled, &user.MFAEnrolledAt,
		&user.FailedLoginCount, &user.FirstFailedAt, &user.LockedUntil,
		&user.PasswordChangedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, password_hash, name, mfa_enabled, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name,
		user.MFAEnabled, user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
}

// RecordLoginFailure increments the failed-attempt counter in a single atomic
// statement. Counters outside the rolling window restart at 1; hitting
// maxAttempts sets locked_until. Two concurrent failures can never both
// observe the pre-increment count.
// Returns: (failedCount, lockedUntil, error)
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, windowStart, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	query := `
		UPDATE users SET
			failed_login_count = CASE WHEN first_failed_at IS NULL OR first_failed_at < $2
				THEN 1 ELSE failed_login_count + 1 END,
			first_failed_at = CASE WHEN first_failed_at IS NULL OR first_failed_at < $2
				THEN $3 ELSE first_failed_at END,
			locked_until = CASE WHEN (CASE WHEN first_failed_at IS NULL OR first_failed_at < $2
				THEN 1 ELSE failed_login_count + 1 END) >= $4
				THEN $5 ELSE locked_until END,
			updated_at = $3
		WHERE id = $1
		RETURNING failed_login_count, locked_until
	`

	var count int
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, query, id, windowStart, now, maxAttempts, lockUntil).Scan(&count, &lockedUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}

	return count, lockedUntil, nil
}

// ResetLoginFailures clears the failure counter and any expired lock after a
// successful verification.
func (r *UserRepository) ResetLoginFailures(ctx context.Context, id string) error {
	query := `
		UPDATE users SET failed_login_count = 0, first_failed_at = NULL, locked_until = NULL, updated_at = $2
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, time.Now())
	return database.MapPostgresError(err)
}

// UpdatePassword replaces the password hash, stamps password_changed_at, and
// clears lockout state.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	now := time.Now()
	query := `
		UPDATE users SET password_hash = $2, password_changed_at = $3,
			failed_login_count = 0, first_failed_at = NULL, locked_until = NULL, updated_at = $3
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, passwordHash, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetMFAEnabled toggles the MFA flag and enrollment timestamp.
func (r *UserRepository) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	query := `
		UPDATE users SET mfa_enabled = $2,
			mfa_enrolled_at = CASE WHEN $2 THEN NOW() ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, enabled)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Delete removes a user record. Sessions and tokens cascade at the schema level.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	return nil
}
