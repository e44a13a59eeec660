package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/models"
	pkglogger "github.com/meridian-erp/gatekeeper/pkg/logger"
)

// TokenService mints token pairs for sessions and rotates refresh tokens.
// Refresh is single-use: the session row stores the JTI of the one valid
// refresh token, and rotation is an atomic compare-and-swap on it.
type TokenService struct {
	tm          *auth.TokenManager
	sessions    SessionRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewTokenService(tm *auth.TokenManager, sessions SessionRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *TokenService {
	return &TokenService{
		tm:          tm,
		sessions:    sessions,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Mint issues an access/refresh pair for a session. The refresh token is
// signed with the JTI already stored on the session row, so no write happens
// here; session creation is the atomic commit point.
func (s *TokenService) Mint(session *models.Session) (*models.TokenPair, error) {
	accessToken, err := s.tm.MintAccessToken(session.UserID, session.ID)
	if err != nil {
		s.logger.Error("failed to mint access token", slog.String("session_id", session.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.MintRefreshToken(session.UserID, session.ID, session.RefreshJTI, session.AbsoluteExpiresAt)
	if err != nil {
		s.logger.Error("failed to mint refresh token", slog.String("session_id", session.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    session.ID,
	}, nil
}

// Refresh validates a refresh token and rotates it. Presenting a superseded
// token is treated as replay: the whole session is revoked (fail-closed) and
// the event is surfaced to the audit sink. An expired underlying session
// fails with ErrSessionExpired rather than issuing new tokens.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := s.tm.ValidateTokenOfType(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		if errors.Is(err, models.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrUnauthorized
	}

	if claims.SessionID == "" || claims.ID == "" {
		return nil, models.ErrUnauthorized
	}

	// The JTI swap is the single atomic commit point: until it succeeds the
	// presented token stays valid, and after it only the new pair works. An
	// aborted request therefore never leaves partial state behind.
	newJTI := auth.NewJTI()
	session, err := s.sessions.RotateRefreshJTI(ctx, claims.SessionID, claims.ID, newJTI, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenReused):
			// Replay: the presented token was already consumed. Fail closed
			// and kill the session.
			if revokeErr := s.sessions.Revoke(ctx, claims.SessionID, "refresh_token_reuse"); revokeErr != nil {
				s.logger.Error("failed to revoke session after token reuse",
					slog.String("session_id", claims.SessionID), slog.Any("error", revokeErr))
			}
			s.auditLogger.LogSecurityIncident("refresh_token_reuse", pkglogger.AuditEvent{
				UserID:    claims.UserID,
				SessionID: claims.SessionID,
			})
			return nil, models.ErrTokenReused
		case errors.Is(err, models.ErrSessionExpired), errors.Is(err, models.ErrSessionNotFound):
			return nil, models.ErrSessionExpired
		default:
			s.logger.Error("failed to rotate refresh token", slog.String("session_id", claims.SessionID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	return s.Mint(session)
}
