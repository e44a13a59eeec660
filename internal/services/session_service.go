package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-erp/gatekeeper/internal/models"
	pkglogger "github.com/meridian-erp/gatekeeper/pkg/logger"
)

// SessionRepository is the durable session store as seen by the services.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session, maxConcurrent int) ([]string, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Touch(ctx context.Context, id string, now time.Time) error
	RotateRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string, now time.Time) (*models.Session, error)
	Revoke(ctx context.Context, id, reason string) error
	RevokeAll(ctx context.Context, userID, reason string) (int64, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionPolicy carries the timeout and concurrency configuration.
type SessionPolicy struct {
	AbsoluteTimeout   time.Duration
	IdleTimeout       time.Duration
	RememberMeTimeout time.Duration
	MaxConcurrent     int
}

// DeviceInfo identifies the client device a session belongs to.
type DeviceInfo struct {
	IPAddress string
	UserAgent string
}

// Fingerprint hashes IP and User-Agent into a stable device identifier.
func (d DeviceInfo) Fingerprint() string {
	hash := sha256.Sum256([]byte(d.IPAddress + ":" + d.UserAgent))
	return fmt.Sprintf("%x", hash)[:32]
}

// SessionService enforces session lifecycle policy over the repository:
// dual timeouts, the per-user concurrency cap, and revocation.
type SessionService struct {
	repo        SessionRepository
	policy      SessionPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewSessionService(repo SessionRepository, policy SessionPolicy, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *SessionService {
	return &SessionService{
		repo:        repo,
		policy:      policy,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Create inserts a new session for the user. When the user is at the
// concurrency cap the least-recently-active session is evicted first — a
// policy decision, logged as a security-relevant event, never a silent
// failure. refreshJTI binds the initial refresh token to the session.
func (s *SessionService) Create(ctx context.Context, userID string, device DeviceInfo, rememberMe bool, refreshJTI string) (*models.Session, error) {
	now := time.Now()

	absolute := s.policy.AbsoluteTimeout
	if rememberMe {
		absolute = s.policy.RememberMeTimeout
	}

	session := &models.Session{
		ID:                uuid.New().String(),
		UserID:            userID,
		CreatedAt:         now,
		LastActivityAt:    now,
		AbsoluteExpiresAt: now.Add(absolute),
		IdleTimeout:       s.policy.IdleTimeout,
		IPAddress:         device.IPAddress,
		UserAgent:         device.UserAgent,
		DeviceFingerprint: device.Fingerprint(),
		RememberMe:        rememberMe,
		RefreshJTI:        refreshJTI,
	}

	evicted, err := s.repo.Create(ctx, session, s.policy.MaxConcurrent)
	if err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	for _, evictedID := range evicted {
		s.auditLogger.LogSessionEvent("session_evicted", userID, evictedID, map[string]string{
			"reason":      "concurrency_cap",
			"replaced_by": session.ID,
		})
	}

	s.auditLogger.LogSessionEvent("session_created", userID, session.ID, map[string]string{
		"remember_me": fmt.Sprintf("%t", rememberMe),
	})

	return session, nil
}

// Touch records activity on the session; expired sessions fail with
// ErrSessionExpired and are left for the reaper.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	return s.repo.Touch(ctx, sessionID, time.Now())
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.repo.Get(ctx, sessionID)
}

// Revoke terminates a single session (logout or per-device revocation).
func (s *SessionService) Revoke(ctx context.Context, sessionID, reason string) error {
	if err := s.repo.Revoke(ctx, sessionID, reason); err != nil {
		return err
	}

	s.auditLogger.LogSessionEvent("session_revoked", "", sessionID, map[string]string{
		"reason": reason,
	})
	return nil
}

// RevokeAll terminates every active session for a user, e.g. after a
// password reset.
func (s *SessionService) RevokeAll(ctx context.Context, userID, reason string) error {
	count, err := s.repo.RevokeAll(ctx, userID, reason)
	if err != nil {
		s.logger.Error("failed to revoke all sessions", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogSessionEvent("sessions_revoked_all", userID, "", map[string]string{
		"reason": reason,
		"count":  fmt.Sprintf("%d", count),
	})
	return nil
}

func (s *SessionService) ListActive(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.repo.ListActive(ctx, userID, time.Now())
}

// SweepExpired is the reaper entry point; best-effort cleanup only, since
// expiry is enforced lazily at access time.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, time.Now())
}
