package services

import (
	"context"
	"testing"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

func newTestMFAService(t *testing.T, repo MFACredentialRepository, users UserRepository) *MFAService {
	t.Helper()
	totpManager, err := auth.NewTOTPManager(testEncryptionKey, "Gatekeeper", 90)
	require.NoError(t, err)
	return NewMFAService(repo, users, totpManager, 8, testLogger(), testAuditLogger())
}

// enrolledCredential builds a confirmed enrollment around a known secret so
// tests can generate valid codes for it.
func enrolledCredential(t *testing.T, secret string, backupHashes []models.BackupCode) *models.MFACredential {
	t.Helper()
	totpManager, err := auth.NewTOTPManager(testEncryptionKey, "Gatekeeper", 90)
	require.NoError(t, err)

	encrypted, nonce, err := totpManager.EncryptSecret([]byte(secret))
	require.NoError(t, err)

	confirmedAt := time.Now().Add(-24 * time.Hour)
	return &models.MFACredential{
		ID:              "cred-1",
		UserID:          "user-1",
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
		BackupCodes:     backupHashes,
		ConfirmedAt:     &confirmedAt,
	}
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    auth.TOTPPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

const mfaTestSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

func TestMFAService_Setup(t *testing.T) {
	var stored *models.MFACredential
	repo := &MockMFACredentialRepository{
		CreateFunc: func(ctx context.Context, cred *models.MFACredential) error {
			stored = cred
			return nil
		},
	}

	svc := newTestMFAService(t, repo, &MockUserRepository{})
	user := &models.User{ID: "user-1", Email: "alice@example.com"}

	resp, err := svc.Setup(context.Background(), user)
	require.NoError(t, err)
	require.NotNil(t, stored)

	assert.NotEmpty(t, resp.Secret)
	assert.Contains(t, resp.ProvisioningURI, "otpauth://totp/")
	assert.Len(t, resp.BackupCodes, 8)

	// Only hashes reach the store.
	require.Len(t, stored.BackupCodes, 8)
	for i, hashed := range stored.BackupCodes {
		assert.NotEqual(t, resp.BackupCodes[i], hashed.CodeHash)
		assert.Nil(t, hashed.UsedAt)
	}
	assert.Nil(t, stored.ConfirmedAt, "enrollment starts unconfirmed")
	assert.NotEqual(t, []byte(resp.Secret), stored.SecretEncrypted)
}

func TestMFAService_Setup_AlreadyEnabled(t *testing.T) {
	svc := newTestMFAService(t, &MockMFACredentialRepository{}, &MockUserRepository{})

	_, err := svc.Setup(context.Background(), &models.User{ID: "user-1", MFAEnabled: true})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestMFAService_Confirm_EnablesMFA(t *testing.T) {
	cred := enrolledCredential(t, mfaTestSecret, nil)
	cred.ConfirmedAt = nil

	confirmed := false
	enabled := false
	repo := &MockMFACredentialRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string) (*models.MFACredential, error) {
			return cred, nil
		},
		MarkConfirmedFunc: func(ctx context.Context, id string) error {
			confirmed = true
			return nil
		},
	}
	users := &MockUserRepository{
		SetMFAEnabledFunc: func(ctx context.Context, id string, e bool) error {
			enabled = e
			return nil
		},
	}

	svc := newTestMFAService(t, repo, users)

	err := svc.Confirm(context.Background(), "user-1", currentCode(t, mfaTestSecret))
	require.NoError(t, err)
	assert.True(t, confirmed)
	assert.True(t, enabled)
}

func TestMFAService_Confirm_WrongCode(t *testing.T) {
	cred := enrolledCredential(t, mfaTestSecret, nil)
	cred.ConfirmedAt = nil

	repo := &MockMFACredentialRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string) (*models.MFACredential, error) {
			return cred, nil
		},
	}

	svc := newTestMFAService(t, repo, &MockUserRepository{})

	err := svc.Confirm(context.Background(), "user-1", "000000")
	assert.ErrorIs(t, err, models.ErrInvalidCode)
}

func TestMFAService_Verify_TOTPSuccess(t *testing.T) {
	cred := enrolledCredential(t, mfaTestSecret, nil)

	var recordedStep int64
	repo := &MockMFACredentialRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string) (*models.MFACredential, error) {
			return cred, nil
		},
		SetLastUsedStepFunc: func(ctx context.Context, id string, step int64) (bool, error) {
			recordedStep = step
			return true, nil
		},
	}

	svc := newTestMFAService(t, repo, &MockUserRepository{})

	err := svc.Verify(context.Background(), "user-1", currentCode(t, mfaTestSecret))
	require.NoError(t, err)
	assert.Greater(t, recordedStep, int64(0), "accepted step must be persisted")
}

func TestMFAService_Verify_TOTPReplay(t *testing.T) {
	cred := enrolledCredential(t, mfaTestSecret, nil)

	repo := &MockMFACredentialRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string) (*models.MFACredential, error) {
			return cred, nil
		},
		SetLastUsedStepFunc: func(ctx context.Context, id string, step int64) (bool, error) {
			// Marker did not advance: this step was already consumed.
			return false, nil
		},
	}

	svc := newTestMFAService(t, repo, &MockUserRepository{})

	err := svc.Verify(context.Background(), "user-1", currentCode(t, mfaTestSecret))
	assert.ErrorIs(t, err, models.ErrCodeAlreadyUsed)
}

func TestMFAService_Verify_NotEnrolled(t *testing.T) {
	repo := &MockMFACredentialRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string) (*models.MFACredential, error) {
			return nil, models.ErrNotFound
		},
	}

	svc := newTestMFAService(t, repo, &MockUserRepository{})

	err := svc.Verify(context.Background(), "user-1", "123456")
	assert.ErrorIs(t, err, models.ErrMFANotEnrolled)
}

func TestMFAService_Verify_UnconfirmedEnrollment(t *testing.T) {
	cred := enrolledCredential(t, mfaTestSecret, nil)
	cred.ConfirmedAt = nil

	repo := &MockMFACredentialRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string) (*models.MFACredential, error) {
			return cred, nil
		},
	}

	svc := newTestMFAService(t, repo, &MockUserRepository{})

	err := svc.Verify(context.Background(), "user-1", currentCode(t, mfaTestSecret))
	assert.ErrorIs(t, err, models.ErrMFANotEnrolled)
}

func TestMFAService_Verify_BackupCode(t *testing.T) {
	now := time.Now()
	codes := []models.BackupCode{
		{CodeHash: hashForTest(t, "AAAA2222"), CreatedAt: now},
		{CodeHash: hashForTest(t, "BBBB3333"), CreatedAt: now},
	}
	cred := enrolledCredential(t, mfaTestSecret, codes)

	var updated []models.BackupCode
	repo := &MockMFACredentialRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string) (*models.MFACredential, error) {
			return cred, nil
		},
		UpdateBackupCodesFunc: func(ctx context.Context, id string, c []models.BackupCode) error {
			updated = c
			return nil
		},
	}

	svc := newTestMFAService(t, repo, &MockUserRepository{})

	err := svc.Verify(context.Background(), "user-1", "BBBB3333")
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Nil(t, updated[0].UsedAt)
	assert.NotNil(t, updated[1].UsedAt, "the matched code must be consumed")
}

func TestMFAService_Verify_BackupCodeSingleUse(t *testing.T) {
	now := time.Now()
	usedAt := now.Add(-1 * time.Hour)
	codes := []models.BackupCode{
		{CodeHash: hashForTest(t, "AAAA2222"), UsedAt: &usedAt, CreatedAt: now},
		{CodeHash: hashForTest(t, "BBBB3333"), CreatedAt: now},
	}
	cred := enrolledCredential(t, mfaTestSecret, codes)

	repo := &MockMFACredentialRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string) (*models.MFACredential, error) {
			return cred, nil
		},
	}

	svc := newTestMFAService(t, repo, &MockUserRepository{})

	// The consumed code no longer matches anything.
	err := svc.Verify(context.Background(), "user-1", "AAAA2222")
	assert.ErrorIs(t, err, models.ErrInvalidCode)
}

func TestMFAService_Verify_BackupCodesExhausted(t *testing.T) {
	now := time.Now()
	usedAt := now.Add(-1 * time.Hour)
	codes := []models.BackupCode{
		{CodeHash: hashForTest(t, "AAAA2222"), UsedAt: &usedAt, CreatedAt: now},
	}
	cred := enrolledCredential(t, mfaTestSecret, codes)

	repo := &MockMFACredentialRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string) (*models.MFACredential, error) {
			return cred, nil
		},
	}

	svc := newTestMFAService(t, repo, &MockUserRepository{})

	err := svc.Verify(context.Background(), "user-1", "CCCC4444")
	assert.ErrorIs(t, err, models.ErrNoBackupCodesRemaining)
}

func TestMFAService_Disable(t *testing.T) {
	deleted := false
	var enabled *bool
	repo := &MockMFACredentialRepository{
		DeleteByUserIDFunc: func(ctx context.Context, userID string) error {
			deleted = true
			return nil
		},
	}
	users := &MockUserRepository{
		SetMFAEnabledFunc: func(ctx context.Context, id string, e bool) error {
			enabled = &e
			return nil
		},
	}

	svc := newTestMFAService(t, repo, users)

	require.NoError(t, svc.Disable(context.Background(), "user-1"))
	assert.True(t, deleted)
	require.NotNil(t, enabled)
	assert.False(t, *enabled)
}
