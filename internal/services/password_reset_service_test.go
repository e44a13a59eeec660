package services

import (
	"context"
	"testing"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResetService(tokens PasswordResetRepository, users UserRepository, sessions SessionRepository, email EmailService) *PasswordResetService {
	sessionService := NewSessionService(sessions, testSessionPolicy(), testLogger(), testAuditLogger())
	return NewPasswordResetService(tokens, users, sessionService, email, time.Hour, testLogger(), testAuditLogger())
}

func TestPasswordResetService_Request_KnownEmail(t *testing.T) {
	var storedHash string
	var mailedToken string
	var mailedTo string

	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return &models.User{ID: "user-1", Email: email}, nil
		},
	}
	tokens := &MockPasswordResetRepository{
		CreateFunc: func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
			storedHash = tokenHash
			return &models.PasswordResetToken{UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt}, nil
		},
	}
	email := &MockEmailService{
		SendPasswordResetEmailFunc: func(ctx context.Context, to, token string, expiresAt time.Time) error {
			mailedTo = to
			mailedToken = token
			return nil
		},
	}

	svc := newTestResetService(tokens, users, &MockSessionRepository{}, email)

	err := svc.Request(context.Background(), "alice@example.com", "203.0.113.7")
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", mailedTo)
	require.NotEmpty(t, mailedToken)
	require.NotEmpty(t, storedHash)

	// The mailed plaintext never equals the stored value; the store holds
	// its SHA-256.
	assert.NotEqual(t, mailedToken, storedHash)
	assert.Equal(t, hashResetToken(mailedToken), storedHash)
}

func TestPasswordResetService_Request_UnknownEmailIsSilent(t *testing.T) {
	tokenCreated := false
	emailSent := false

	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return nil, models.ErrNotFound
		},
	}
	tokens := &MockPasswordResetRepository{
		CreateFunc: func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
			tokenCreated = true
			return nil, nil
		},
	}
	email := &MockEmailService{
		SendPasswordResetEmailFunc: func(ctx context.Context, to, token string, expiresAt time.Time) error {
			emailSent = true
			return nil
		},
	}

	svc := newTestResetService(tokens, users, &MockSessionRepository{}, email)

	// Identical outcome to the known-email case from the caller's view.
	err := svc.Request(context.Background(), "nobody@example.com", "203.0.113.7")
	assert.NoError(t, err)
	assert.False(t, tokenCreated)
	assert.False(t, emailSent)
}

func TestPasswordResetService_Redeem_Success(t *testing.T) {
	var newHash string
	var revokedUser, revokedReason string

	users := &MockUserRepository{
		UpdatePasswordFunc: func(ctx context.Context, id, passwordHash string) error {
			newHash = passwordHash
			return nil
		},
	}
	tokens := &MockPasswordResetRepository{
		ConsumeFunc: func(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
			return &models.PasswordResetToken{UserID: "user-1", TokenHash: tokenHash}, nil
		},
	}
	sessions := &MockSessionRepository{
		RevokeAllFunc: func(ctx context.Context, userID, reason string) (int64, error) {
			revokedUser = userID
			revokedReason = reason
			return 2, nil
		},
	}

	svc := newTestResetService(tokens, users, sessions, &MockEmailService{})

	err := svc.Redeem(context.Background(), "sometoken", "N3w-Str0ng-P@ss!", "203.0.113.7")
	require.NoError(t, err)

	assert.NotEmpty(t, newHash)
	assert.NotEqual(t, "N3w-Str0ng-P@ss!", newHash)
	assert.Equal(t, "user-1", revokedUser, "redeem must revoke every session")
	assert.Equal(t, "password_reset", revokedReason)
}

func TestPasswordResetService_Redeem_SingleUse(t *testing.T) {
	tokens := &MockPasswordResetRepository{
		ConsumeFunc: func(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
			return nil, models.ErrTokenAlreadyUsed
		},
	}

	svc := newTestResetService(tokens, &MockUserRepository{}, &MockSessionRepository{}, &MockEmailService{})

	err := svc.Redeem(context.Background(), "sometoken", "N3w-Str0ng-P@ss!", "203.0.113.7")
	assert.ErrorIs(t, err, models.ErrTokenAlreadyUsed)
}

func TestPasswordResetService_Redeem_TokenErrors(t *testing.T) {
	for _, sentinel := range []error{models.ErrTokenNotFound, models.ErrTokenExpired} {
		tokens := &MockPasswordResetRepository{
			ConsumeFunc: func(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
				return nil, sentinel
			},
		}

		svc := newTestResetService(tokens, &MockUserRepository{}, &MockSessionRepository{}, &MockEmailService{})

		err := svc.Redeem(context.Background(), "sometoken", "N3w-Str0ng-P@ss!", "203.0.113.7")
		assert.ErrorIs(t, err, sentinel)
	}
}

func TestPasswordResetService_Redeem_WeakPasswordRejectedBeforeConsume(t *testing.T) {
	consumed := false
	tokens := &MockPasswordResetRepository{
		ConsumeFunc: func(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
			consumed = true
			return nil, models.ErrTokenNotFound
		},
	}

	svc := newTestResetService(tokens, &MockUserRepository{}, &MockSessionRepository{}, &MockEmailService{})

	err := svc.Redeem(context.Background(), "sometoken", "weak", "203.0.113.7")
	assert.Error(t, err)
	assert.False(t, consumed, "a weak password must not spend the token")
}

func TestGenerateResetToken(t *testing.T) {
	plaintext1, hash1, err := generateResetToken()
	require.NoError(t, err)
	plaintext2, hash2, err := generateResetToken()
	require.NoError(t, err)

	assert.Len(t, plaintext1, 64) // 32 random bytes, hex encoded
	assert.NotEqual(t, plaintext1, plaintext2)
	assert.NotEqual(t, hash1, hash2)
	assert.Equal(t, hashResetToken(plaintext1), hash1)
}
