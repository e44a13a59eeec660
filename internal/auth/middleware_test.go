package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSessionToucher implements auth.SessionToucher for testing
type mockSessionToucher struct {
	TouchFunc func(ctx context.Context, sessionID string) error
	touched   []string
}

func (m *mockSessionToucher) Touch(ctx context.Context, sessionID string) error {
	m.touched = append(m.touched, sessionID)
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, sessionID)
	}
	return nil
}

func middlewareTokenManager() *auth.TokenManager {
	return auth.NewTokenManager("test-secret-key-at-least-32-characters-long", 15*time.Minute, 5*time.Minute)
}

func serveProtected(t *testing.T, tm *auth.TokenManager, toucher *mockSessionToucher, authorization string) (*httptest.ResponseRecorder, *models.TokenClaims) {
	t.Helper()

	var gotClaims *models.TokenClaims
	handler := auth.Middleware(tm, toucher)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = auth.GetClaimsFromContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/auth/sessions", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, gotClaims
}

func TestMiddleware_ValidToken_InjectsClaimsAndTouchesSession(t *testing.T) {
	tm := middlewareTokenManager()
	toucher := &mockSessionToucher{}

	token, err := tm.MintAccessToken("user-1", "session-1")
	require.NoError(t, err)

	w, claims := serveProtected(t, tm, toucher, "Bearer "+token)

	assert.Equal(t, 200, w.Code)
	require.NotNil(t, claims)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, []string{"session-1"}, toucher.touched)
}

func TestMiddleware_MissingHeader_Returns401(t *testing.T) {
	w, _ := serveProtected(t, middlewareTokenManager(), &mockSessionToucher{}, "")
	assert.Equal(t, 401, w.Code)
}

func TestMiddleware_MalformedHeader_Returns401(t *testing.T) {
	for _, header := range []string{"Bearer", "Basic dXNlcjpwdw==", "Token abc"} {
		w, _ := serveProtected(t, middlewareTokenManager(), &mockSessionToucher{}, header)
		assert.Equal(t, 401, w.Code, "header %q", header)
	}
}

func TestMiddleware_RefreshTokenRejected(t *testing.T) {
	tm := middlewareTokenManager()

	token, err := tm.MintRefreshToken("user-1", "session-1", "jti-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	w, _ := serveProtected(t, tm, &mockSessionToucher{}, "Bearer "+token)
	assert.Equal(t, 401, w.Code)
}

func TestMiddleware_ChallengeTokenRejected(t *testing.T) {
	tm := middlewareTokenManager()

	token, err := tm.MintChallengeToken("user-1")
	require.NoError(t, err)

	w, _ := serveProtected(t, tm, &mockSessionToucher{}, "Bearer "+token)
	assert.Equal(t, 401, w.Code)
}

func TestMiddleware_ExpiredToken_Returns401(t *testing.T) {
	expired := auth.NewTokenManager("test-secret-key-at-least-32-characters-long", -time.Minute, 5*time.Minute)

	token, err := expired.MintAccessToken("user-1", "session-1")
	require.NoError(t, err)

	w, _ := serveProtected(t, middlewareTokenManager(), &mockSessionToucher{}, "Bearer "+token)
	assert.Equal(t, 401, w.Code)
}

func TestMiddleware_ExpiredSession_Returns401DespiteValidToken(t *testing.T) {
	tm := middlewareTokenManager()
	toucher := &mockSessionToucher{
		TouchFunc: func(ctx context.Context, sessionID string) error {
			return models.ErrSessionExpired
		},
	}

	token, err := tm.MintAccessToken("user-1", "session-1")
	require.NoError(t, err)

	w, claims := serveProtected(t, tm, toucher, "Bearer "+token)
	assert.Equal(t, 401, w.Code)
	assert.Nil(t, claims, "handler must not run once the session is expired")
}

func TestMiddleware_RevokedSession_Returns401(t *testing.T) {
	tm := middlewareTokenManager()
	toucher := &mockSessionToucher{
		TouchFunc: func(ctx context.Context, sessionID string) error {
			return models.ErrSessionNotFound
		},
	}

	token, err := tm.MintAccessToken("user-1", "session-1")
	require.NoError(t, err)

	w, _ := serveProtected(t, tm, toucher, "Bearer "+token)
	assert.Equal(t, 401, w.Code)
}

func TestGetClaimsFromContext_Unauthenticated(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Nil(t, auth.GetClaimsFromContext(req))
}
