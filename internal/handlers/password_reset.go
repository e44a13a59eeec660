package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/meridian-erp/gatekeeper/internal/models"
	pkgauth "github.com/meridian-erp/gatekeeper/pkg/auth"
	pkghttp "github.com/meridian-erp/gatekeeper/pkg/http"
)

// PasswordResetServiceInterface defines the interface for the reset flow
type PasswordResetServiceInterface interface {
	Request(ctx context.Context, email, ipAddress string) error
	Redeem(ctx context.Context, token, newPassword, ipAddress string) error
}

// PasswordResetHandler handles the two-step password reset flow
type PasswordResetHandler struct {
	service  PasswordResetServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewPasswordResetHandler creates a new PasswordResetHandler
func NewPasswordResetHandler(service PasswordResetServiceInterface, ipConfig *pkghttp.IPConfig) *PasswordResetHandler {
	return &PasswordResetHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// RequestResetRequest represents the request body for starting a reset
type RequestResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ConfirmResetRequest represents the request body for redeeming a reset token
type ConfirmResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// Request starts a password reset
// @Summary Request password reset
// @Accept json
// @Param request body RequestResetRequest true "Reset request"
// @Produce json
// @Success 202 {object} map[string]string
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/password-reset/request [post]
func (h *PasswordResetHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req RequestResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.service.Request(r.Context(), req.Email, ipAddress); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	// Identical response whether or not the account exists.
	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the email is registered, you will receive a password reset link shortly.",
	})
}

// Confirm redeems a reset token and sets the new password
// @Summary Confirm password reset
// @Accept json
// @Param request body ConfirmResetRequest true "Reset confirmation"
// @Produce json
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/password-reset/confirm [post]
func (h *PasswordResetHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.service.Redeem(r.Context(), req.Token, req.NewPassword, ipAddress); err != nil {
		var pve *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pve):
			pkghttp.WriteBadRequest(w, err.Error())
		case errors.Is(err, models.ErrTokenNotFound),
			errors.Is(err, models.ErrTokenExpired),
			errors.Is(err, models.ErrTokenAlreadyUsed):
			// Invalid, expired, and consumed tokens are indistinguishable to
			// the caller.
			pkghttp.WriteUnauthorized(w, "Invalid or expired reset token")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
