package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/models"
	pkghttp "github.com/meridian-erp/gatekeeper/pkg/http"
)

// MFAServiceInterface defines the interface for MFA enrollment management
type MFAServiceInterface interface {
	Setup(ctx context.Context, user *models.User) (*models.MFASetupResponse, error)
	Confirm(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID string) error
}

// UserGetter looks up the authenticated user for enrollment operations
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// MFAHandler handles MFA enrollment management for authenticated users.
// Challenge verification during login lives on AuthHandler.
type MFAHandler struct {
	service MFAServiceInterface
	users   UserGetter
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface, users UserGetter) *MFAHandler {
	return &MFAHandler{
		service: service,
		users:   users,
	}
}

// ConfirmMFARequest represents the request body for completing enrollment
type ConfirmMFARequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// Setup begins TOTP enrollment for the authenticated user
// @Summary Begin MFA enrollment
// @Produce json
// @Success 200 {object} models.MFASetupResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/mfa/setup [post]
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp, err := h.service.Setup(r.Context(), user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			pkghttp.WriteConflict(w, "MFA is already enabled")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Confirm completes enrollment with the first authenticator code
// @Summary Confirm MFA enrollment
// @Accept json
// @Param request body ConfirmMFARequest true "Confirmation request"
// @Produce json
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/mfa/confirm [post]
func (h *MFAHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ConfirmMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Confirm(r.Context(), claims.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCode):
			pkghttp.WriteBadRequest(w, "Invalid verification code")
		case errors.Is(err, models.ErrMFANotEnrolled):
			pkghttp.WriteBadRequest(w, "No enrollment in progress")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "MFA is already enabled")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Disable removes the authenticated user's MFA enrollment
// @Summary Disable MFA
// @Produce json
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/mfa [delete]
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
