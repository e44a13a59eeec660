package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/models"
	pkglogger "github.com/meridian-erp/gatekeeper/pkg/logger"
)

// LoginResult is the outcome of a login attempt: either a full token pair or
// an MFA challenge the client must answer first.
type LoginResult struct {
	Tokens    *models.TokenPair
	Challenge *models.MFAChallengeResponse
}

// AuthService orchestrates the login flow. It owns no policy of its own: it
// drives the Transition state machine and performs the actions it returns,
// delegating each one to the credential, MFA, session, and token services.
type AuthService struct {
	users       UserRepository
	credentials *CredentialService
	mfa         *MFAService
	sessions    *SessionService
	tokens      *TokenService
	tm          *auth.TokenManager
	trust       auth.TrustedNetworkPolicy
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewAuthService(
	users UserRepository,
	credentials *CredentialService,
	mfa *MFAService,
	sessions *SessionService,
	tokens *TokenService,
	tm *auth.TokenManager,
	trust auth.TrustedNetworkPolicy,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		credentials: credentials,
		mfa:         mfa,
		sessions:    sessions,
		tokens:      tokens,
		tm:          tm,
		trust:       trust,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Login verifies credentials and either establishes a session or issues an
// MFA challenge. Response timing is normalized across outcomes so failures
// are not distinguishable by latency. Failure reasons are folded into
// ErrInvalidCredentials / ErrAccountLocked; anything finer-grained is only
// visible in the audit log.
func (s *AuthService) Login(ctx context.Context, email, password string, device DeviceInfo, rememberMe bool) (*LoginResult, error) {
	start := time.Now()

	state, _, _ := Transition(StateAnonymous, EventSubmitCredentials)

	user, err := s.credentials.Verify(ctx, email, password)
	if err != nil {
		// Verify already recorded the failure and the audit event; the
		// transition only classifies it for flow logging.
		event := EventCredentialsInvalid
		if errors.Is(err, models.ErrAccountLocked) {
			event = EventAccountLocked
		}
		state, _, _ = Transition(state, event)
		s.logFlow(state, email)
		s.timing.WaitFrom(start, false)
		return nil, err
	}

	// MFA is skipped only for requests from an explicitly trusted network;
	// an unknown or unparseable source address always takes the MFA path.
	if user.MFAEnabled && !s.trust.IsTrusted(device.IPAddress) {
		state, action, _ := Transition(state, EventMFARequired)
		s.logFlow(state, email)
		if action != ActionIssueChallenge {
			return nil, models.ErrInternalServer
		}

		challenge, err := s.tm.MintChallengeToken(user.ID)
		if err != nil {
			s.logger.Error("failed to mint challenge token", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.timing.WaitFrom(start, true)
		return &LoginResult{Challenge: &models.MFAChallengeResponse{
			MFARequired:    true,
			ChallengeToken: challenge,
		}}, nil
	}

	state, action, _ := Transition(state, EventCredentialsValid)
	s.logFlow(state, email)
	if action != ActionEstablish {
		return nil, models.ErrInternalServer
	}

	pair, err := s.establish(ctx, user.ID, device, rememberMe)
	if err != nil {
		return nil, err
	}

	s.timing.WaitFrom(start, true)
	return &LoginResult{Tokens: pair}, nil
}

// VerifyMFA answers an outstanding challenge. Invalid codes count toward the
// same lockout budget as bad passwords, so the retry window is bounded; an
// expired challenge sends the client back to the start of the flow.
func (s *AuthService) VerifyMFA(ctx context.Context, challengeToken, code string, device DeviceInfo, rememberMe bool) (*models.TokenPair, error) {
	start := time.Now()

	claims, err := s.tm.ValidateTokenOfType(challengeToken, models.TokenTypeMFAChallenge)
	if err != nil {
		if errors.Is(err, models.ErrTokenExpired) {
			return nil, models.ErrMFAChallengeExpired
		}
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for mfa verify", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	if user.IsLocked(now) {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrAccountLocked
	}

	if err := s.mfa.Verify(ctx, user.ID, code); err != nil {
		s.timing.WaitFrom(start, false)

		if errors.Is(err, models.ErrInvalidCode) || errors.Is(err, models.ErrCodeAlreadyUsed) {
			// A wrong guess spends the same budget as a wrong password.
			recordErr := s.credentials.RecordExternalFailure(ctx, user, "invalid_mfa_code")
			if errors.Is(recordErr, models.ErrAccountLocked) {
				state, _, _ := Transition(StateMFAPending, EventMFAExhausted)
				s.logFlow(state, user.Email)
				return nil, recordErr
			}
			state, _, _ := Transition(StateMFAPending, EventMFACodeInvalid)
			s.logFlow(state, user.Email)
		}
		return nil, err
	}

	state, action, _ := Transition(StateMFAPending, EventMFACodeValid)
	s.logFlow(state, user.Email)
	if action != ActionEstablish {
		return nil, models.ErrInternalServer
	}

	pair, err := s.establish(ctx, user.ID, device, rememberMe)
	if err != nil {
		return nil, err
	}

	s.timing.WaitFrom(start, true)
	return pair, nil
}

// Refresh rotates a refresh token. Replay of a consumed token tears the
// session down; the caller gets the sentinel and must log in again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	_, action, _ := Transition(StateAuthenticated, EventRefreshStart)
	if action != ActionRotateTokens {
		return nil, models.ErrInternalServer
	}

	pair, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		event := EventRefreshExpired
		if errors.Is(err, models.ErrTokenReused) {
			event = EventRefreshReplayed
		}
		state, _, _ := Transition(StateRefreshing, event)
		s.logFlow(state, "")
		return nil, err
	}

	state, _, _ := Transition(StateRefreshing, EventRefreshValid)
	s.logFlow(state, "")
	return pair, nil
}

// Logout revokes the session behind the presented access token.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	state, action, _ := Transition(StateAuthenticated, EventLogout)
	s.logFlow(state, "")
	if action != ActionRevokeSession {
		return models.ErrInternalServer
	}
	return s.sessions.Revoke(ctx, sessionID, "logout")
}

// establish creates the session (enforcing the concurrency cap) and mints
// the token pair bound to it.
func (s *AuthService) establish(ctx context.Context, userID string, device DeviceInfo, rememberMe bool) (*models.TokenPair, error) {
	session, err := s.sessions.Create(ctx, userID, device, rememberMe, auth.NewJTI())
	if err != nil {
		return nil, err
	}
	return s.tokens.Mint(session)
}

func (s *AuthService) logFlow(state LoginState, email string) {
	s.logger.Debug("login flow transition",
		slog.String("state", state.String()),
		slog.String("email", pkglogger.SanitizedEmail(email)),
	)
}
