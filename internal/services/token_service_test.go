package services

import (
	"context"
	"testing"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager() *auth.TokenManager {
	return auth.NewTokenManager("test-secret-key-at-least-32-characters-long", 15*time.Minute, 5*time.Minute)
}

func testSession(jti string) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:                "session-1",
		UserID:            "user-1",
		CreatedAt:         now,
		LastActivityAt:    now,
		AbsoluteExpiresAt: now.Add(8 * time.Hour),
		IdleTimeout:       30 * time.Minute,
		RefreshJTI:        jti,
	}
}

func TestTokenService_Mint_BindsRefreshToSessionJTI(t *testing.T) {
	tm := newTestTokenManager()
	svc := NewTokenService(tm, &MockSessionRepository{}, testLogger(), testAuditLogger())

	jti := auth.NewJTI()
	pair, err := svc.Mint(testSession(jti))
	require.NoError(t, err)
	assert.Equal(t, "session-1", pair.SessionID)

	accessClaims, err := tm.ValidateTokenOfType(pair.AccessToken, models.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", accessClaims.UserID)
	assert.Equal(t, "session-1", accessClaims.SessionID)

	refreshClaims, err := tm.ValidateTokenOfType(pair.RefreshToken, models.TokenTypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, jti, refreshClaims.ID)
}

func TestTokenService_Refresh_RotatesJTI(t *testing.T) {
	tm := newTestTokenManager()
	oldJTI := auth.NewJTI()
	session := testSession(oldJTI)

	var rotatedTo string
	repo := &MockSessionRepository{
		RotateRefreshJTIFunc: func(ctx context.Context, sessionID, presentedJTI, newJTI string, now time.Time) (*models.Session, error) {
			assert.Equal(t, "session-1", sessionID)
			assert.Equal(t, oldJTI, presentedJTI)
			rotatedTo = newJTI
			rotated := *session
			rotated.RefreshJTI = newJTI
			return &rotated, nil
		},
	}

	svc := NewTokenService(tm, repo, testLogger(), testAuditLogger())

	refreshToken, err := tm.MintRefreshToken(session.UserID, session.ID, oldJTI, session.AbsoluteExpiresAt)
	require.NoError(t, err)

	pair, err := svc.Refresh(context.Background(), refreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, rotatedTo)
	assert.NotEqual(t, oldJTI, rotatedTo)

	// The new refresh token carries the rotated JTI: the presented one is spent.
	claims, err := tm.ValidateTokenOfType(pair.RefreshToken, models.TokenTypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, rotatedTo, claims.ID)
}

func TestTokenService_Refresh_ReplayRevokesSession(t *testing.T) {
	tm := newTestTokenManager()
	session := testSession(auth.NewJTI())

	var revokedID, revokedReason string
	repo := &MockSessionRepository{
		RotateRefreshJTIFunc: func(ctx context.Context, sessionID, presentedJTI, newJTI string, now time.Time) (*models.Session, error) {
			return nil, models.ErrTokenReused
		},
		RevokeFunc: func(ctx context.Context, id, reason string) error {
			revokedID = id
			revokedReason = reason
			return nil
		},
	}

	svc := NewTokenService(tm, repo, testLogger(), testAuditLogger())

	staleToken, err := tm.MintRefreshToken(session.UserID, session.ID, "already-spent-jti", session.AbsoluteExpiresAt)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), staleToken)
	assert.ErrorIs(t, err, models.ErrTokenReused)
	assert.Equal(t, "session-1", revokedID, "replay must revoke the whole session")
	assert.Equal(t, "refresh_token_reuse", revokedReason)
}

func TestTokenService_Refresh_ExpiredSession(t *testing.T) {
	tm := newTestTokenManager()
	session := testSession(auth.NewJTI())

	repo := &MockSessionRepository{
		RotateRefreshJTIFunc: func(ctx context.Context, sessionID, presentedJTI, newJTI string, now time.Time) (*models.Session, error) {
			return nil, models.ErrSessionExpired
		},
	}

	svc := NewTokenService(tm, repo, testLogger(), testAuditLogger())

	token, err := tm.MintRefreshToken(session.UserID, session.ID, session.RefreshJTI, session.AbsoluteExpiresAt)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), token)
	assert.ErrorIs(t, err, models.ErrSessionExpired)
}

func TestTokenService_Refresh_RejectsAccessToken(t *testing.T) {
	tm := newTestTokenManager()
	svc := NewTokenService(tm, &MockSessionRepository{}, testLogger(), testAuditLogger())

	accessToken, err := tm.MintAccessToken("user-1", "session-1")
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), accessToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenService_Refresh_ExpiredToken(t *testing.T) {
	tm := newTestTokenManager()
	svc := NewTokenService(tm, &MockSessionRepository{}, testLogger(), testAuditLogger())

	expired, err := tm.MintRefreshToken("user-1", "session-1", auth.NewJTI(), time.Now().Add(-1*time.Minute))
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), expired)
	assert.ErrorIs(t, err, models.ErrTokenExpired)
}
