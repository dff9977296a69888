package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Entropy sizes for the opaque values minted by the authorization server and
// the client. Codes and state nonces are short-lived; access tokens live for
// an hour and get twice the entropy.
const (
	// AuthorizationCodeBytes is the entropy of an authorization code (hex-encoded to 32 chars)
	AuthorizationCodeBytes = 16

	// AccessTokenBytes is the entropy of an access token (hex-encoded to 64 chars)
	AccessTokenBytes = 32

	// StateNonceBytes is the entropy of a client CSRF state nonce
	StateNonceBytes = 16
)

// GenerateAuthorizationCode returns a new single-use authorization code.
func GenerateAuthorizationCode() string {
	return randomHex(AuthorizationCodeBytes)
}

// GenerateAccessToken returns a new opaque bearer token value.
func GenerateAccessToken() string {
	return randomHex(AccessTokenBytes)
}

// GenerateStateNonce returns a new CSRF state nonce for an authorization request.
func GenerateStateNonce() string {
	return randomHex(StateNonceBytes)
}

// randomHex returns n bytes from crypto/rand, hex-encoded.
// The function panics if the system's random number generator fails,
// which indicates a critical system-level security failure.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return hex.EncodeToString(b)
}
