package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/models"
	pkgauth "github.com/meridian-erp/gatekeeper/pkg/auth"
	pkglogger "github.com/meridian-erp/gatekeeper/pkg/logger"
)

// UserRepository is the identity-store collaborator as seen by the services.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	RecordLoginFailure(ctx context.Context, id string, windowStart, now time.Time, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	ResetLoginFailures(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error
}

// LockoutPolicy configures the failed-attempt threshold and rolling window.
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
	Duration    time.Duration
}

// CredentialService checks email/password pairs and maintains per-user
// lockout state. Counter updates are atomic single statements in the repo, so
// concurrent failures cannot race past the threshold.
type CredentialService struct {
	repo        UserRepository
	policy      LockoutPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewCredentialService(repo UserRepository, policy LockoutPolicy, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *CredentialService {
	return &CredentialService{
		repo:        repo,
		policy:      policy,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Verify checks the password for the given email. Returns the user on
// success; ErrInvalidCredentials or ErrAccountLocked otherwise. The lock is
// checked before the password so the 6th attempt fails even with correct
// credentials.
func (s *CredentialService) Verify(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, models.ErrInvalidCredentials
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "credential_check",
				FailureReason: "unknown_email",
				Success:       false,
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	if user.IsLocked(now) {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "credential_check",
			UserID:        user.ID,
			FailureReason: "account_locked",
			Success:       false,
		})
		return nil, lockedError(user.LockedUntil)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, s.recordFailure(ctx, user, "invalid_password")
	}

	if err := s.repo.ResetLoginFailures(ctx, user.ID); err != nil {
		// The login itself succeeded; a stale counter only shortens the
		// window for future failures.
		s.logger.Error("failed to reset login failures", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "credential_check",
		UserID:    user.ID,
		Success:   true,
	})

	return user, nil
}

// RecordExternalFailure counts a failure that happened outside the password
// check, such as an exhausted MFA retry budget.
func (s *CredentialService) RecordExternalFailure(ctx context.Context, user *models.User, reason string) error {
	return s.recordFailure(ctx, user, reason)
}

func (s *CredentialService) recordFailure(ctx context.Context, user *models.User, reason string) error {
	now := time.Now()
	windowStart := now.Add(-s.policy.Window)
	lockUntil := now.Add(s.policy.Duration)

	count, lockedUntil, err := s.repo.RecordLoginFailure(ctx, user.ID, windowStart, now, s.policy.MaxAttempts, lockUntil)
	if err != nil {
		s.logger.Error("failed to record login failure", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "credential_check",
		UserID:        user.ID,
		FailureReason: reason,
		Success:       false,
	})

	if lockedUntil != nil && now.Before(*lockedUntil) {
		s.auditLogger.LogSecurityIncident("account_lockout", pkglogger.AuditEvent{
			UserID:        user.ID,
			FailureReason: reason,
			Metadata:      map[string]string{"failed_attempts": strconv.Itoa(count)},
		})
		return lockedError(lockedUntil)
	}

	return models.ErrInvalidCredentials
}

// LockedError carries the lock expiry so callers may disclose remaining time
// per product policy while still matching models.ErrAccountLocked.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return models.ErrAccountLocked.Error()
}

func (e *LockedError) Unwrap() error {
	return models.ErrAccountLocked
}

func lockedError(until *time.Time) error {
	if until == nil {
		return models.ErrAccountLocked
	}
	return &LockedError{Until: *until}
}
