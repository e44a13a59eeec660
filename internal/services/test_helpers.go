package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/models"
	pkglogger "github.com/meridian-erp/gatekeeper/pkg/logger"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc            func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc         func(ctx context.Context, email string) (*models.User, error)
	CreateFunc             func(ctx context.Context, user *models.User) (*models.User, error)
	RecordLoginFailureFunc func(ctx context.Context, id string, windowStart, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	ResetLoginFailuresFunc func(ctx context.Context, id string) error
	UpdatePasswordFunc     func(ctx context.Context, id, passwordHash string) error
	SetMFAEnabledFunc      func(ctx context.Context, id string, enabled bool) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) RecordLoginFailure(ctx context.Context, id string, windowStart, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	if m.RecordLoginFailureFunc != nil {
		return m.RecordLoginFailureFunc(ctx, id, windowStart, now, maxAttempts, lockUntil)
	}
	return 1, nil, nil
}

func (m *MockUserRepository) ResetLoginFailures(ctx context.Context, id string) error {
	if m.ResetLoginFailuresFunc != nil {
		return m.ResetLoginFailuresFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	if m.SetMFAEnabledFunc != nil {
		return m.SetMFAEnabledFunc(ctx, id, enabled)
	}
	return nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateFunc           func(ctx context.Context, session *models.Session, maxConcurrent int) ([]string, error)
	GetFunc              func(ctx context.Context, id string) (*models.Session, error)
	TouchFunc            func(ctx context.Context, id string, now time.Time) error
	RotateRefreshJTIFunc func(ctx context.Context, sessionID, oldJTI, newJTI string, now time.Time) (*models.Session, error)
	RevokeFunc           func(ctx context.Context, id, reason string) error
	RevokeAllFunc        func(ctx context.Context, userID, reason string) (int64, error)
	ListActiveFunc       func(ctx context.Context, userID string, now time.Time) ([]*models.Session, error)
	DeleteExpiredFunc    func(ctx context.Context, now time.Time) (int64, error)
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.Session, maxConcurrent int) ([]string, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session, maxConcurrent)
	}
	return nil, nil
}

func (m *MockSessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, models.ErrSessionNotFound
}

func (m *MockSessionRepository) Touch(ctx context.Context, id string, now time.Time) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, id, now)
	}
	return nil
}

func (m *MockSessionRepository) RotateRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string, now time.Time) (*models.Session, error) {
	if m.RotateRefreshJTIFunc != nil {
		return m.RotateRefreshJTIFunc(ctx, sessionID, oldJTI, newJTI, now)
	}
	return nil, models.ErrSessionNotFound
}

func (m *MockSessionRepository) Revoke(ctx context.Context, id, reason string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id, reason)
	}
	return nil
}

func (m *MockSessionRepository) RevokeAll(ctx context.Context, userID, reason string) (int64, error) {
	if m.RevokeAllFunc != nil {
		return m.RevokeAllFunc(ctx, userID, reason)
	}
	return 0, nil
}

func (m *MockSessionRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, userID, now)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, now)
	}
	return 0, nil
}

// MockMFACredentialRepository implements MFACredentialRepository for testing
type MockMFACredentialRepository struct {
	GetByUserIDFunc       func(ctx context.Context, userID string) (*models.MFACredential, error)
	CreateFunc            func(ctx context.Context, cred *models.MFACredential) error
	MarkConfirmedFunc     func(ctx context.Context, id string) error
	SetLastUsedStepFunc   func(ctx context.Context, id string, step int64) (bool, error)
	UpdateBackupCodesFunc func(ctx context.Context, id string, codes []models.BackupCode) error
	DeleteByUserIDFunc    func(ctx context.Context, userID string) error
}

func (m *MockMFACredentialRepository) GetByUserID(ctx context.Context, userID string) (*models.MFACredential, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockMFACredentialRepository) Create(ctx context.Context, cred *models.MFACredential) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, cred)
	}
	return nil
}

func (m *MockMFACredentialRepository) MarkConfirmed(ctx context.Context, id string) error {
	if m.MarkConfirmedFunc != nil {
		return m.MarkConfirmedFunc(ctx, id)
	}
	return nil
}

func (m *MockMFACredentialRepository) SetLastUsedStep(ctx context.Context, id string, step int64) (bool, error) {
	if m.SetLastUsedStepFunc != nil {
		return m.SetLastUsedStepFunc(ctx, id, step)
	}
	return true, nil
}

func (m *MockMFACredentialRepository) UpdateBackupCodes(ctx context.Context, id string, codes []models.BackupCode) error {
	if m.UpdateBackupCodesFunc != nil {
		return m.UpdateBackupCodesFunc(ctx, id, codes)
	}
	return nil
}

func (m *MockMFACredentialRepository) DeleteByUserID(ctx context.Context, userID string) error {
	if m.DeleteByUserIDFunc != nil {
		return m.DeleteByUserIDFunc(ctx, userID)
	}
	return nil
}

// MockPasswordResetRepository implements PasswordResetRepository for testing
type MockPasswordResetRepository struct {
	CreateFunc        func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error)
	ConsumeFunc       func(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error)
	DeleteExpiredFunc func(ctx context.Context, now time.Time) (int64, error)
}

func (m *MockPasswordResetRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, tokenHash, expiresAt)
	}
	return &models.PasswordResetToken{UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt}, nil
}

func (m *MockPasswordResetRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, tokenHash, now)
	}
	return nil, models.ErrTokenNotFound
}

func (m *MockPasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, now)
	}
	return 0, nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendPasswordResetEmailFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

// testLogger returns a logger that discards output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testAuditLogger returns an audit logger over a discarding logger
func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}
