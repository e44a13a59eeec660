package handlers_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meridian-erp/gatekeeper/internal/handlers"
	"github.com/meridian-erp/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockMFAService implements handlers.MFAServiceInterface for testing
type mockMFAService struct {
	SetupFunc   func(ctx context.Context, user *models.User) (*models.MFASetupResponse, error)
	ConfirmFunc func(ctx context.Context, userID, code string) error
	DisableFunc func(ctx context.Context, userID string) error
}

func (m *mockMFAService) Setup(ctx context.Context, user *models.User) (*models.MFASetupResponse, error) {
	if m.SetupFunc != nil {
		return m.SetupFunc(ctx, user)
	}
	return &models.MFASetupResponse{}, nil
}

func (m *mockMFAService) Confirm(ctx context.Context, userID, code string) error {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, userID, code)
	}
	return nil
}

func (m *mockMFAService) Disable(ctx context.Context, userID string) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, userID)
	}
	return nil
}

// mockUserGetter implements handlers.UserGetter for testing
type mockUserGetter struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *mockUserGetter) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return &models.User{ID: id, Email: "alice@example.com"}, nil
}

func authedClaims() *models.TokenClaims {
	return &models.TokenClaims{UserID: "user-1", SessionID: "session-1"}
}

// ── Setup ─────────────────────────────────────────────────────────────────────

func TestMFASetup_Success_Returns200WithBackupCodes(t *testing.T) {
	mock := &mockMFAService{
		SetupFunc: func(ctx context.Context, user *models.User) (*models.MFASetupResponse, error) {
			assert.Equal(t, "user-1", user.ID)
			return &models.MFASetupResponse{
				Secret:          "JBSWY3DPEHPK3PXP",
				ProvisioningURI: "otpauth://totp/Gatekeeper:alice@example.com?secret=JBSWY3DPEHPK3PXP",
				QRCode:          "data:image/png;base64,abc",
				BackupCodes:     []string{"AAAAAAAA", "BBBBBBBB"},
			}, nil
		},
	}
	h := handlers.NewMFAHandler(mock, &mockUserGetter{})

	req := httptest.NewRequest("POST", "/auth/mfa/setup", nil)
	req = withClaims(req, authedClaims())
	w := httptest.NewRecorder()
	h.Setup(w, req)

	assert.Equal(t, 200, w.Code)

	var resp models.MFASetupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.BackupCodes, 2)
	assert.Contains(t, resp.ProvisioningURI, "otpauth://totp/")
}

func TestMFASetup_AlreadyEnabled_Returns409(t *testing.T) {
	mock := &mockMFAService{
		SetupFunc: func(ctx context.Context, user *models.User) (*models.MFASetupResponse, error) {
			return nil, models.ErrConflict
		},
	}
	h := handlers.NewMFAHandler(mock, &mockUserGetter{})

	req := httptest.NewRequest("POST", "/auth/mfa/setup", nil)
	req = withClaims(req, authedClaims())
	w := httptest.NewRecorder()
	h.Setup(w, req)

	assert.Equal(t, 409, w.Code)
}

func TestMFASetup_NoClaims_Returns401(t *testing.T) {
	h := handlers.NewMFAHandler(&mockMFAService{}, &mockUserGetter{})

	req := httptest.NewRequest("POST", "/auth/mfa/setup", nil)
	w := httptest.NewRecorder()
	h.Setup(w, req)

	assert.Equal(t, 401, w.Code)
}

func TestMFASetup_UserGone_Returns401(t *testing.T) {
	users := &mockUserGetter{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return nil, models.ErrNotFound
		},
	}
	h := handlers.NewMFAHandler(&mockMFAService{}, users)

	req := httptest.NewRequest("POST", "/auth/mfa/setup", nil)
	req = withClaims(req, authedClaims())
	w := httptest.NewRecorder()
	h.Setup(w, req)

	assert.Equal(t, 401, w.Code)
}

// ── Confirm ───────────────────────────────────────────────────────────────────

func TestMFAConfirm_Success_Returns204(t *testing.T) {
	var gotCode string
	mock := &mockMFAService{
		ConfirmFunc: func(ctx context.Context, userID, code string) error {
			gotCode = code
			return nil
		},
	}
	h := handlers.NewMFAHandler(mock, &mockUserGetter{})

	req := httptest.NewRequest("POST", "/auth/mfa/confirm", strings.NewReader(`{"code": "123456"}`))
	req = withClaims(req, authedClaims())
	w := httptest.NewRecorder()
	h.Confirm(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "123456", gotCode)
}

func TestMFAConfirm_WrongCode_Returns400(t *testing.T) {
	mock := &mockMFAService{
		ConfirmFunc: func(ctx context.Context, userID, code string) error {
			return models.ErrInvalidCode
		},
	}
	h := handlers.NewMFAHandler(mock, &mockUserGetter{})

	req := httptest.NewRequest("POST", "/auth/mfa/confirm", strings.NewReader(`{"code": "000000"}`))
	req = withClaims(req, authedClaims())
	w := httptest.NewRecorder()
	h.Confirm(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestMFAConfirm_NoEnrollmentInProgress_Returns400(t *testing.T) {
	mock := &mockMFAService{
		ConfirmFunc: func(ctx context.Context, userID, code string) error {
			return models.ErrMFANotEnrolled
		},
	}
	h := handlers.NewMFAHandler(mock, &mockUserGetter{})

	req := httptest.NewRequest("POST", "/auth/mfa/confirm", strings.NewReader(`{"code": "123456"}`))
	req = withClaims(req, authedClaims())
	w := httptest.NewRecorder()
	h.Confirm(w, req)

	assert.Equal(t, 400, w.Code)
	resp := decodeError(t, w.Body.Bytes())
	assert.Equal(t, "No enrollment in progress", resp.Message)
}

func TestMFAConfirm_CodeWrongLength_Returns400(t *testing.T) {
	h := handlers.NewMFAHandler(&mockMFAService{}, &mockUserGetter{})

	req := httptest.NewRequest("POST", "/auth/mfa/confirm", strings.NewReader(`{"code": "12345"}`))
	req = withClaims(req, authedClaims())
	w := httptest.NewRecorder()
	h.Confirm(w, req)

	assert.Equal(t, 400, w.Code)
}

// ── Disable ───────────────────────────────────────────────────────────────────

func TestMFADisable_Success_Returns204(t *testing.T) {
	var disabledFor string
	mock := &mockMFAService{
		DisableFunc: func(ctx context.Context, userID string) error {
			disabledFor = userID
			return nil
		},
	}
	h := handlers.NewMFAHandler(mock, &mockUserGetter{})

	req := httptest.NewRequest("DELETE", "/auth/mfa", nil)
	req = withClaims(req, authedClaims())
	w := httptest.NewRecorder()
	h.Disable(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "user-1", disabledFor)
}
