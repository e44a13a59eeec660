package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meridian-erp/gatekeeper/internal/database"
	"github.com/meridian-erp/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordResetRepository stores hashed single-use reset tokens.
type PasswordResetRepository struct {
	pool *pgxpool.Pool
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{pool: db.Pool}
}

func (r *PasswordResetRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	token := &models.PasswordResetToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return token, nil
}

func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens WHERE token_hash = $1
	`

	var token models.PasswordResetToken
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&token.ID, &token.UserID, &token.TokenHash,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTokenNotFound
		}
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

// Consume marks the token used exactly once. The conditional UPDATE is the
// atomic check-and-set: a second redeem attempt matches zero rows and is
// classified as already used.
func (r *PasswordResetRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
	query := `
		UPDATE password_reset_tokens SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING id, user_id, token_hash, expires_at, used_at, created_at
	`

	var token models.PasswordResetToken
	err := r.pool.QueryRow(ctx, query, tokenHash, now).Scan(
		&token.ID, &token.UserID, &token.TokenHash,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err == nil {
		return &token, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, database.MapPostgresError(err)
	}

	// The CAS failed; look the token up to say why.
	existing, getErr := r.GetByTokenHash(ctx, tokenHash)
	if getErr != nil {
		return nil, getErr
	}
	if existing.IsUsed() {
		return nil, models.ErrTokenAlreadyUsed
	}
	return nil, models.ErrTokenExpired
}

// DeleteExpired removes tokens past their expiry. Reaper cleanup only.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
