package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/models"
	pkgauth "github.com/meridian-erp/gatekeeper/pkg/auth"
	pkglogger "github.com/meridian-erp/gatekeeper/pkg/logger"
)

// PasswordResetRepository is the reset-token store as seen by the services.
type PasswordResetRepository interface {
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error)
	Consume(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PasswordResetService issues and redeems single-use reset tokens. The store
// only ever holds the SHA-256 of a token, so a database leak does not expose
// usable reset links.
type PasswordResetService struct {
	tokens      PasswordResetRepository
	users       UserRepository
	sessions    *SessionService
	email       EmailService
	tokenTTL    time.Duration
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewPasswordResetService(
	tokens PasswordResetRepository,
	users UserRepository,
	sessions *SessionService,
	email EmailService,
	tokenTTL time.Duration,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *PasswordResetService {
	return &PasswordResetService{
		tokens:      tokens,
		users:       users,
		sessions:    sessions,
		email:       email,
		tokenTTL:    tokenTTL,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Request starts a reset for the given email. It succeeds whether or not the
// account exists, so the endpoint cannot be used to enumerate addresses; the
// token is only created and mailed for a real user.
func (s *PasswordResetService) Request(ctx context.Context, email, ipAddress string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditLogger.LogAccountAction("password_reset_requested", "", ipAddress, map[string]string{
				"outcome": "unknown_email",
			})
			return nil
		}
		s.logger.Error("failed to look up user for reset", slog.Any("error", err))
		return models.ErrInternalServer
	}

	plaintext, hash, err := generateResetToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	expiresAt := time.Now().Add(s.tokenTTL)
	if _, err := s.tokens.Create(ctx, user.ID, hash, expiresAt); err != nil {
		s.logger.Error("failed to store reset token", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.email.SendPasswordResetEmail(ctx, user.Email, plaintext, expiresAt); err != nil {
		// Token row stays behind; it expires on its own and the user can
		// simply request again.
		s.logger.Error("failed to send reset email", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("password_reset_requested", user.ID, ipAddress, nil)
	return nil
}

// Redeem consumes a reset token and sets the new password. Consumption is a
// single atomic check-and-set, so a token can never reset two passwords; on
// success every session of the user is revoked.
func (s *PasswordResetService) Redeem(ctx context.Context, token, newPassword, ipAddress string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash := hashResetToken(token)
	consumed, err := s.tokens.Consume(ctx, hash, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenNotFound),
			errors.Is(err, models.ErrTokenExpired),
			errors.Is(err, models.ErrTokenAlreadyUsed):
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "password_reset_redeem",
				IPAddress:     ipAddress,
				FailureReason: err.Error(),
				Success:       false,
			})
			return err
		default:
			s.logger.Error("failed to consume reset token", slog.Any("error", err))
			return models.ErrInternalServer
		}
	}

	passwordHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash new password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.users.UpdatePassword(ctx, consumed.UserID, passwordHash); err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", consumed.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	// A reset means the old credential may be compromised; no existing
	// session survives it.
	if err := s.sessions.RevokeAll(ctx, consumed.UserID, "password_reset"); err != nil {
		s.logger.Error("failed to revoke sessions after reset", slog.String("user_id", consumed.UserID), slog.Any("error", err))
	}

	s.auditLogger.LogAccountAction("password_reset_completed", consumed.UserID, ipAddress, nil)
	return nil
}

// SweepExpired is the reaper entry point for stale reset tokens.
func (s *PasswordResetService) SweepExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx, time.Now())
}

// generateResetToken returns a 256-bit random token and its SHA-256 hash.
// Only the hash is ever persisted.
func generateResetToken() (plaintext, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	plaintext = hex.EncodeToString(raw)
	return plaintext, hashResetToken(plaintext), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
