package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/models"
	pkgauth "github.com/meridian-erp/gatekeeper/pkg/auth"
	pkglogger "github.com/meridian-erp/gatekeeper/pkg/logger"
)

// MFACredentialRepository is the enrollment store as seen by the services.
type MFACredentialRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.MFACredential, error)
	Create(ctx context.Context, cred *models.MFACredential) error
	MarkConfirmed(ctx context.Context, id string) error
	SetLastUsedStep(ctx context.Context, id string, step int64) (bool, error)
	UpdateBackupCodes(ctx context.Context, id string, codes []models.BackupCode) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// MFAService manages TOTP enrollment and verification. A verified code is
// bound to its time step so the same code cannot be accepted twice, and
// backup codes are strictly single-use.
type MFAService struct {
	repo            MFACredentialRepository
	users           UserRepository
	totp            *auth.TOTPManager
	backupCodeCount int
	logger          *slog.Logger
	auditLogger     *pkglogger.AuditLogger
}

func NewMFAService(repo MFACredentialRepository, users UserRepository, totp *auth.TOTPManager, backupCodeCount int, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *MFAService {
	return &MFAService{
		repo:            repo,
		users:           users,
		totp:            totp,
		backupCodeCount: backupCodeCount,
		logger:          logger,
		auditLogger:     auditLogger,
	}
}

// Setup begins enrollment: generates a fresh secret and backup codes, stores
// them (secret encrypted, codes hashed), and returns the plaintext material.
// This is the only time the secret and backup codes are visible; enrollment
// stays inactive until Confirm succeeds.
func (s *MFAService) Setup(ctx context.Context, user *models.User) (*models.MFASetupResponse, error) {
	if user.MFAEnabled {
		return nil, models.ErrConflict
	}

	enrollment, err := s.totp.GenerateEnrollment(user.Email)
	if err != nil {
		s.logger.Error("failed to generate enrollment", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	plainCodes, err := s.totp.GenerateBackupCodes(s.backupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	hashedCodes := make([]models.BackupCode, len(plainCodes))
	for i, code := range plainCodes {
		hash, err := pkgauth.HashPassword(code)
		if err != nil {
			s.logger.Error("failed to hash backup code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		hashedCodes[i] = models.BackupCode{CodeHash: hash, CreatedAt: now}
	}

	cred := &models.MFACredential{
		UserID:          user.ID,
		SecretEncrypted: enrollment.SecretEncrypted,
		SecretNonce:     enrollment.SecretNonce,
		BackupCodes:     hashedCodes,
	}

	if err := s.repo.Create(ctx, cred); err != nil {
		s.logger.Error("failed to store enrollment", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("mfa_setup_started", user.ID, "", nil)

	return &models.MFASetupResponse{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCode:          enrollment.QRCode,
		BackupCodes:     plainCodes,
	}, nil
}

// Confirm completes enrollment by verifying the first code from the user's
// authenticator. Only then is MFA enforced at login.
func (s *MFAService) Confirm(ctx context.Context, userID, code string) error {
	cred, err := s.getCredential(ctx, userID)
	if err != nil {
		return err
	}
	if cred.IsConfirmed() {
		return models.ErrConflict
	}

	step, err := s.validateTOTP(cred, code)
	if err != nil {
		return err
	}

	if err := s.repo.MarkConfirmed(ctx, cred.ID); err != nil {
		s.logger.Error("failed to confirm enrollment", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if _, err := s.repo.SetLastUsedStep(ctx, cred.ID, step); err != nil {
		s.logger.Error("failed to record used step", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if err := s.users.SetMFAEnabled(ctx, userID, true); err != nil {
		s.logger.Error("failed to enable mfa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("mfa_enrolled", userID, "", nil)
	return nil
}

// Verify accepts a TOTP code or a backup code for an enrolled user. 6-digit
// input is treated as TOTP, anything else as a backup code. TOTP acceptance
// persists the matched time step; presenting a code from a step at or before
// the recorded one fails with ErrCodeAlreadyUsed even while the code is still
// inside the validity window.
func (s *MFAService) Verify(ctx context.Context, userID, code string) error {
	cred, err := s.getCredential(ctx, userID)
	if err != nil {
		return err
	}
	if !cred.IsConfirmed() {
		return models.ErrMFANotEnrolled
	}

	if isTOTPCode(code) {
		return s.verifyTOTP(ctx, userID, cred, code)
	}
	return s.verifyBackupCode(ctx, userID, cred, code)
}

// Disable removes the enrollment entirely. The user falls back to
// password-only login.
func (s *MFAService) Disable(ctx context.Context, userID string) error {
	if err := s.repo.DeleteByUserID(ctx, userID); err != nil {
		s.logger.Error("failed to delete enrollment", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if err := s.users.SetMFAEnabled(ctx, userID, false); err != nil {
		s.logger.Error("failed to disable mfa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("mfa_disabled", userID, "", nil)
	return nil
}

func (s *MFAService) getCredential(ctx context.Context, userID string) (*models.MFACredential, error) {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrMFANotEnrolled
		}
		s.logger.Error("failed to get mfa credential", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return cred, nil
}

func (s *MFAService) validateTOTP(cred *models.MFACredential, code string) (int64, error) {
	secret, err := s.totp.DecryptSecret(cred.SecretEncrypted, cred.SecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret", slog.String("user_id", cred.UserID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	step, valid, err := s.totp.ValidateCode(string(secret), code, time.Now())
	if err != nil {
		s.logger.Error("failed to validate totp code", slog.Any("error", err))
		return 0, models.ErrInternalServer
	}
	if !valid {
		return 0, models.ErrInvalidCode
	}
	return step, nil
}

func (s *MFAService) verifyTOTP(ctx context.Context, userID string, cred *models.MFACredential, code string) error {
	step, err := s.validateTOTP(cred, code)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCode) {
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "mfa_verify",
				UserID:        userID,
				FailureReason: "invalid_totp_code",
				Success:       false,
			})
		}
		return err
	}

	advanced, err := s.repo.SetLastUsedStep(ctx, cred.ID, step)
	if err != nil {
		s.logger.Error("failed to record used step", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !advanced {
		s.auditLogger.LogSecurityIncident("totp_replay", pkglogger.AuditEvent{
			UserID:   userID,
			Metadata: map[string]string{"step": strconv.FormatInt(step, 10)},
		})
		return models.ErrCodeAlreadyUsed
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "mfa_verify",
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"method": "totp"},
	})
	return nil
}

func (s *MFAService) verifyBackupCode(ctx context.Context, userID string, cred *models.MFACredential, code string) error {
	if cred.RemainingBackupCodes() == 0 {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "mfa_verify",
			UserID:        userID,
			FailureReason: "backup_codes_exhausted",
			Success:       false,
		})
		return models.ErrNoBackupCodesRemaining
	}

	for i := range cred.BackupCodes {
		if cred.BackupCodes[i].UsedAt != nil {
			continue
		}
		if pkgauth.ComparePassword(cred.BackupCodes[i].CodeHash, code) != nil {
			continue
		}

		now := time.Now()
		cred.BackupCodes[i].UsedAt = &now
		if err := s.repo.UpdateBackupCodes(ctx, cred.ID, cred.BackupCodes); err != nil {
			s.logger.Error("failed to consume backup code", slog.String("user_id", userID), slog.Any("error", err))
			return models.ErrInternalServer
		}

		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType: "mfa_verify",
			UserID:    userID,
			Success:   true,
			Metadata: map[string]string{
				"method":    "backup_code",
				"remaining": strconv.Itoa(cred.RemainingBackupCodes()),
			},
		})
		return nil
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "mfa_verify",
		UserID:        userID,
		FailureReason: "invalid_backup_code",
		Success:       false,
	})
	return models.ErrInvalidCode
}

func isTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
