package models

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess       = "access"
	TokenTypeRefresh      = "refresh"
	TokenTypeMFAChallenge = "mfa_challenge"
)

// TokenClaims are the JWT claims carried by every token this service mints.
// Access tokens are validated by signature and expiry alone; refresh tokens
// are additionally checked against the session's stored JTI on rotation.
type TokenClaims struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is the result of minting or rotating tokens for a session.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}
