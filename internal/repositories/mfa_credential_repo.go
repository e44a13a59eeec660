package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-erp/gatekeeper/internal/database"
	"github.com/meridian-erp/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MFACredentialRepository stores TOTP enrollments: encrypted secrets, backup
// codes (as JSONB), and the replay-protection step marker.
type MFACredentialRepository struct {
	pool *pgxpool.Pool
}

func NewMFACredentialRepository(db *database.DB) *MFACredentialRepository {
	return &MFACredentialRepository{pool: db.Pool}
}

const mfaColumns = `id, user_id, secret_encrypted, secret_nonce, backup_codes,
	last_used_step, created_at, confirmed_at`

func scanMFARow(scanner rowScanner) (*models.MFACredential, error) {
	var cred models.MFACredential
	var backupCodesJSON []byte

	err := scanner.Scan(
		&cred.ID, &cred.UserID, &cred.SecretEncrypted, &cred.SecretNonce,
		&backupCodesJSON, &cred.LastUsedStep, &cred.CreatedAt, &cred.ConfirmedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if err := json.Unmarshal(backupCodesJSON, &cred.BackupCodes); err != nil {
		return nil, fmt.Errorf("failed to decode backup codes: %w", err)
	}

	return &cred, nil
}

func (r *MFACredentialRepository) GetByUserID(ctx context.Context, userID string) (*models.MFACredential, error) {
	query := `SELECT ` + mfaColumns + ` FROM mfa_credentials WHERE user_id = $1`
	return scanMFARow(r.pool.QueryRow(ctx, query, userID))
}

// Create inserts a new (unconfirmed) enrollment, replacing any previous
// unconfirmed one so abandoned setups do not block re-enrollment.
func (r *MFACredentialRepository) Create(ctx context.Context, cred *models.MFACredential) error {
	cred.ID = uuid.New().String()
	cred.CreatedAt = time.Now()

	backupCodesJSON, err := json.Marshal(cred.BackupCodes)
	if err != nil {
		return fmt.Errorf("failed to encode backup codes: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		DELETE FROM mfa_credentials WHERE user_id = $1 AND confirmed_at IS NULL
	`, cred.UserID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	query := `
		INSERT INTO mfa_credentials (id, user_id, secret_encrypted, secret_nonce, backup_codes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.pool.Exec(ctx, query,
		cred.ID, cred.UserID, cred.SecretEncrypted, cred.SecretNonce,
		backupCodesJSON, cred.CreatedAt,
	)
	return database.MapPostgresError(err)
}

func (r *MFACredentialRepository) MarkConfirmed(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE mfa_credentials SET confirmed_at = NOW() WHERE id = $1 AND confirmed_at IS NULL
	`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetLastUsedStep records the accepted time step, but only if it advances the
// marker; the conditional write is what makes same-step replay detectable
// under concurrent verification attempts.
func (r *MFACredentialRepository) SetLastUsedStep(ctx context.Context, id string, step int64) (bool, error) {
	query := `
		UPDATE mfa_credentials SET last_used_step = $2
		WHERE id = $1 AND (last_used_step IS NULL OR last_used_step < $2)
	`

	result, err := r.pool.Exec(ctx, query, id, step)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *MFACredentialRepository) UpdateBackupCodes(ctx context.Context, id string, codes []models.BackupCode) error {
	backupCodesJSON, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("failed to encode backup codes: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE mfa_credentials SET backup_codes = $2 WHERE id = $1
	`, id, backupCodesJSON)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *MFACredentialRepository) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM mfa_credentials WHERE user_id = $1`, userID)
	return database.MapPostgresError(err)
}
