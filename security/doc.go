// Package security provides the security primitives shared by the grantline
// parties: credential generation, token expiry checks, security headers,
// request ID propagation, and audit logging.
//
// # Credential Generation
//
// Authorization codes, access tokens, and state nonces are opaque values
// drawn from crypto/rand and hex-encoded. Codes carry 128 bits of entropy,
// tokens 256 bits.
//
// # Audit Logging
//
// The Auditor emits structured security events through log/slog with
// resource-owner identifiers hashed before they reach the log stream. Audit
// logging is opt-in; a nil or disabled Auditor is safe to call.
//
// # Expiry Checks
//
// IsTokenExpired applies a small clock-skew grace period so tokens are not
// rejected over minor time drift between the parties.
package security
