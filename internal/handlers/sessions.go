package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/models"
	pkghttp "github.com/meridian-erp/gatekeeper/pkg/http"
)

// SessionServiceInterface defines the interface for session management
type SessionServiceInterface interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Revoke(ctx context.Context, sessionID, reason string) error
	ListActive(ctx context.Context, userID string) ([]*models.Session, error)
}

// SessionHandler lets an authenticated user inspect and revoke their own
// sessions.
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// SessionResponse is the client-facing view of a session. Internals like the
// refresh JTI never leave the service.
type SessionResponse struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	RememberMe     bool      `json:"remember_me"`
	Current        bool      `json:"current"`
}

// List returns the caller's active sessions
// @Summary List active sessions
// @Produce json
// @Success 200 {array} SessionResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/sessions [get]
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.service.ListActive(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			ID:             s.ID,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.AbsoluteExpiresAt,
			IPAddress:      s.IPAddress,
			UserAgent:      s.UserAgent,
			RememberMe:     s.RememberMe,
			Current:        s.ID == claims.SessionID,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Revoke terminates one of the caller's sessions
// @Summary Revoke a session
// @Param id path string true "Session ID"
// @Produce json
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/sessions/{id} [delete]
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Session ID is required")
		return
	}

	session, err := h.service.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			pkghttp.WriteNotFound(w, "Session not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	// Ownership check; a foreign session ID looks identical to a missing one.
	if session.UserID != claims.UserID {
		pkghttp.WriteNotFound(w, "Session not found")
		return
	}

	if err := h.service.Revoke(r.Context(), sessionID, "user_revoked"); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
