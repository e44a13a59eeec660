package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/models"
	"github.com/meridian-erp/gatekeeper/internal/services"
	pkghttp "github.com/meridian-erp/gatekeeper/pkg/http"
)

// AuthServiceInterface defines the interface for the login orchestrator
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string, device services.DeviceInfo, rememberMe bool) (*services.LoginResult, error)
	VerifyMFA(ctx context.Context, challengeToken, code string, device services.DeviceInfo, rememberMe bool) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

// VerifyMFARequest represents the request body for answering an MFA challenge
type VerifyMFARequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required,min=6,max=8"`
	RememberMe     bool   `json:"remember_me"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *AuthHandler) device(r *http.Request) services.DeviceInfo {
	return services.DeviceInfo{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} models.TokenPair
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	result, err := h.service.Login(r.Context(), req.Email, req.Password, h.device(r), req.RememberMe)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	if result.Challenge != nil {
		pkghttp.WriteJSON(w, http.StatusOK, result.Challenge)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result.Tokens)
}

// VerifyMFA answers an outstanding MFA challenge with a TOTP or backup code
// @Summary Verify MFA challenge
// @Accept json
// @Param request body VerifyMFARequest true "MFA verification request"
// @Produce json
// @Success 200 {object} models.TokenPair
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/mfa/verify [post]
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.service.VerifyMFA(r.Context(), req.ChallengeToken, req.Code, h.device(r), req.RememberMe)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMFAChallengeExpired):
			pkghttp.WriteUnauthorized(w, "Challenge expired, please log in again")
		case errors.Is(err, models.ErrNoBackupCodesRemaining):
			pkghttp.WriteUnauthorized(w, "No backup codes remaining")
		case errors.Is(err, models.ErrInvalidCode),
			errors.Is(err, models.ErrCodeAlreadyUsed),
			errors.Is(err, models.ErrMFANotEnrolled),
			errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Verification failed")
		case errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteTooManyRequests(w, "Too many failed attempts. Please try again later.")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// RefreshToken handles token refresh
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh token request"
// @Produce json
// @Success 200 {object} models.TokenPair
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenReused),
			errors.Is(err, models.ErrTokenExpired),
			errors.Is(err, models.ErrSessionExpired),
			errors.Is(err, models.ErrUnauthorized):
			// Replay, expiry, and malformed tokens all look the same to the
			// caller; the audit log has the distinction.
			pkghttp.WriteUnauthorized(w, "Please log in again")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Logout revokes the session behind the presented access token
// @Summary User logout
// @Produce json
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), claims.SessionID); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			// Already gone; logout is idempotent from the client's view.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeLoginError folds every login failure into a generic 401 so responses
// cannot be used to probe which emails exist. A lockout answers 429 with a
// Retry-After hint; the remaining time is already observable by retrying.
func writeLoginError(w http.ResponseWriter, err error) {
	var locked *services.LockedError
	switch {
	case errors.As(err, &locked):
		if secs := int(time.Until(locked.Until).Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		pkghttp.WriteTooManyRequests(w, "Too many failed login attempts. Please try again later.")
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteTooManyRequests(w, "Too many failed login attempts. Please try again later.")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
