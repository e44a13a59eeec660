package services

// The login flow is modeled as an explicit tagged-state machine rather than
// conditional branching in handlers. Transition is a pure function from
// (state, event) to (state, action), so every path through login, MFA,
// refresh and logout is unit-testable without a live store. AuthService
// performs the returned action and feeds the outcome back in as the next
// event.

// LoginState is the position of a client in the authentication flow.
type LoginState int

const (
	StateAnonymous LoginState = iota
	StateCredentialsPending
	StateMFAPending
	StateAuthenticated
	StateRefreshing
	StateLoggedOut
)

func (s LoginState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateCredentialsPending:
		return "credentials_pending"
	case StateMFAPending:
		return "mfa_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// LoginEvent is an input to the state machine.
type LoginEvent int

const (
	EventSubmitCredentials LoginEvent = iota
	EventCredentialsValid             // password verified, MFA not required
	EventCredentialsInvalid
	EventAccountLocked
	EventMFARequired    // password verified, MFA enabled and network untrusted
	EventMFACodeValid
	EventMFACodeInvalid // retries remain
	EventMFAExhausted   // bounded retry count spent
	EventTouchExpired   // session expired on an authenticated request
	EventRefreshStart
	EventRefreshValid
	EventRefreshReplayed
	EventRefreshExpired
	EventLogout
)

// FlowAction is the side effect the orchestrator must perform after a
// transition.
type FlowAction int

const (
	ActionNone FlowAction = iota
	ActionVerifyCredentials
	ActionIssueChallenge  // mint MFA challenge token, no session yet
	ActionEstablish       // create session and mint token pair
	ActionRecordFailure   // count toward lockout
	ActionRotateTokens    // swap refresh JTI and mint new pair
	ActionRevokeSession   // fail-closed teardown
)

// Transition is the pure state-machine step. Unknown (state, event) pairs are
// rejected with ok=false and leave the state unchanged.
func Transition(state LoginState, event LoginEvent) (LoginState, FlowAction, bool) {
	switch state {
	case StateAnonymous:
		if event == EventSubmitCredentials {
			return StateCredentialsPending, ActionVerifyCredentials, true
		}

	case StateCredentialsPending:
		switch event {
		case EventCredentialsValid:
			return StateAuthenticated, ActionEstablish, true
		case EventMFARequired:
			return StateMFAPending, ActionIssueChallenge, true
		case EventCredentialsInvalid, EventAccountLocked:
			return StateAnonymous, ActionRecordFailure, true
		}

	case StateMFAPending:
		switch event {
		case EventMFACodeValid:
			return StateAuthenticated, ActionEstablish, true
		case EventMFACodeInvalid:
			return StateMFAPending, ActionRecordFailure, true
		case EventMFAExhausted:
			return StateAnonymous, ActionRecordFailure, true
		}

	case StateAuthenticated:
		switch event {
		case EventRefreshStart:
			return StateRefreshing, ActionRotateTokens, true
		case EventTouchExpired:
			return StateAnonymous, ActionNone, true
		case EventLogout:
			return StateLoggedOut, ActionRevokeSession, true
		}

	case StateRefreshing:
		switch event {
		case EventRefreshValid:
			return StateAuthenticated, ActionNone, true
		case EventRefreshReplayed:
			return StateAnonymous, ActionRevokeSession, true
		case EventRefreshExpired:
			return StateAnonymous, ActionNone, true
		}

	case StateLoggedOut:
		// Terminal for the session; a fresh login starts the flow over.
		if event == EventSubmitCredentials {
			return StateCredentialsPending, ActionVerifyCredentials, true
		}
	}

	return state, ActionNone, false
}
