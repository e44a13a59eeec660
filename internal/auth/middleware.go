package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/meridian-erp/gatekeeper/internal/models"
	pkghttp "github.com/meridian-erp/gatekeeper/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing token claims in context
	ClaimsContextKey contextKey = "claims"
)

// SessionToucher records activity on a session and reports expiry. Implemented
// by the session service; expired or revoked sessions force re-authentication
// regardless of remaining access-token lifetime.
type SessionToucher interface {
	Touch(ctx context.Context, sessionID string) error
}

// Middleware validates the bearer access token and touches the underlying
// session. An expired session returns 401 even while the token itself is
// still within its TTL.
func Middleware(tm *TokenManager, sessions SessionToucher) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tm.ValidateTokenOfType(parts[1], models.TokenTypeAccess)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			if claims.SessionID == "" {
				pkghttp.WriteUnauthorized(w, "token not bound to a session")
				return
			}

			if err := sessions.Touch(r.Context(), claims.SessionID); err != nil {
				switch {
				case errors.Is(err, models.ErrSessionExpired), errors.Is(err, models.ErrSessionNotFound):
					pkghttp.WriteUnauthorized(w, "session expired, please log in again")
				default:
					pkghttp.WriteInternalError(w, "internal server error")
				}
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaimsFromContext extracts token claims injected by Middleware.
// Returns nil if the request was not authenticated.
func GetClaimsFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
