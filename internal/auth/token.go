package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/meridian-erp/gatekeeper/internal/models"
)

// TokenManager mints and validates the JWTs used by this service: short-lived
// stateless access tokens, session-bound refresh tokens, and five-minute MFA
// challenge tokens. All tokens are HS256-signed with the shared secret.
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	mfaChallengeExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, challengeExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		mfaChallengeExpiry: challengeExpiry,
	}
}

// MintAccessToken creates a short-lived access token bound to a session.
// Validation is by signature and expiry alone; no store lookup is required.
func (tm *TokenManager) MintAccessToken(userID, sessionID string) (string, error) {
	return tm.sign(&models.TokenClaims{
		Type:      models.TokenTypeAccess,
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.accessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	})
}

// MintRefreshToken creates a refresh token for a session, signed with the
// given JTI. The JTI lives on the session row and is rotated atomically on
// every use; the token itself never outlives the session's absolute expiry.
func (tm *TokenManager) MintRefreshToken(userID, sessionID, jti string, expiresAt time.Time) (string, error) {
	return tm.sign(&models.TokenClaims{
		Type:      models.TokenTypeRefresh,
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	})
}

// NewJTI returns a fresh refresh-token identifier.
func NewJTI() string {
	return uuid.New().String()
}

// MintChallengeToken creates the short-lived token handed out between the
// credential step and the MFA step. It carries no session.
func (tm *TokenManager) MintChallengeToken(userID string) (string, error) {
	return tm.sign(&models.TokenClaims{
		Type:   models.TokenTypeMFAChallenge,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.mfaChallengeExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	})
}

func (tm *TokenManager) sign(claims *models.TokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}

	return tokenString, nil
}

// ValidateToken verifies a token's signature and expiry and returns its claims.
// Expired tokens surface models.ErrTokenExpired so callers can distinguish
// "log in again" from tampering.
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type == "" {
		return nil, fmt.Errorf("invalid token: missing type")
	}

	return claims, nil
}

// ValidateTokenOfType validates and additionally checks the type claim.
func (tm *TokenManager) ValidateTokenOfType(tokenString, tokenType string) (*models.TokenClaims, error) {
	claims, err := tm.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenType {
		return nil, models.ErrUnauthorized
	}
	return claims, nil
}
