package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential verification errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")

	// MFA errors
	ErrInvalidCode            = errors.New("invalid verification code")
	ErrCodeAlreadyUsed        = errors.New("verification code already used")
	ErrNoBackupCodesRemaining = errors.New("no backup codes remaining")
	ErrMFANotEnrolled         = errors.New("mfa not enrolled")
	ErrMFAChallengeExpired    = errors.New("mfa challenge expired")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")

	// Token errors
	ErrTokenReused      = errors.New("refresh token reused")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenAlreadyUsed = errors.New("token already used")
	ErrTokenNotFound    = errors.New("token not found")
)
