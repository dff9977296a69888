package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	onEvent func(eventType string)
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetEventHook registers a callback invoked once per emitted audit event,
// used to feed audit metrics without coupling this package to a metrics
// backend. Must be set before the auditor is shared across goroutines.
func (a *Auditor) SetEventHook(hook func(eventType string)) {
	if a == nil {
		return
	}
	a.onEvent = hook
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	if a.onEvent != nil {
		a.onEvent(event.Type)
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogConsentDecision logs the resource owner's answer to an authorization request
func (a *Auditor) LogConsentDecision(subject, clientID string, approved bool, scope string) {
	a.LogEvent(Event{
		Type:     EventConsentDecision,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"approved": approved,
			"scope":    scope,
		},
	})
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(subject, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventCodeIssued,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCodeRedeemed logs when an authorization code is exchanged for a token
func (a *Auditor) LogCodeRedeemed(subject, clientID string) {
	a.LogEvent(Event{
		Type:     EventCodeRedeemed,
		Subject:  subject,
		ClientID: clientID,
	})
}

// LogRedemptionFailure logs a failed code redemption. Repeated failures for
// the same client are the signal for code replay or guessing attempts.
func (a *Auditor) LogRedemptionFailure(clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventRedemptionFailure,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogTokenIssued logs when an access token is minted
func (a *Auditor) LogTokenIssued(subject, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogAuthFailure logs a client authentication failure
func (a *Auditor) LogAuthFailure(clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventAuthFailure,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogGuardRejection logs a protected resource rejecting a request
func (a *Auditor) LogGuardRejection(reason, requiredScope string) {
	a.LogEvent(Event{
		Type: EventGuardRejection,
		Details: map[string]any{
			"reason":         reason,
			"required_scope": requiredScope,
		},
	})
}

// hashForLogging returns a short SHA-256 prefix of a value so audit lines can
// be correlated without storing the value itself. Empty input stays empty.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
