package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Authorization flow events

	// EventConsentDecision is logged when the resource owner approves or denies a request
	EventConsentDecision = "consent_decision"

	// EventCodeIssued is logged when an authorization code is issued
	EventCodeIssued = "authorization_code_issued"

	// EventCodeRedeemed is logged when an authorization code is exchanged for a token
	EventCodeRedeemed = "authorization_code_redeemed"

	// EventRedemptionFailure is logged when a code redemption fails; repeated
	// failures indicate replay or guessing attempts
	EventRedemptionFailure = "authorization_code_redemption_failed"

	// Token lifecycle events

	// EventTokenIssued is logged when a new access token is minted
	EventTokenIssued = "token_issued" //nolint:gosec // G101: event type name, not a credential

	// Client and resource events

	// EventAuthFailure is logged when client authentication fails at the token endpoint
	EventAuthFailure = "client_auth_failure"

	// EventGuardRejection is logged when the protected resource rejects a request
	EventGuardRejection = "guard_rejection"
)
