package grantline

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse represents a successful token endpoint response
type TokenResponse struct {
	// AccessToken is the opaque bearer token
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the token lifetime in seconds
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// Scope is the space-separated scope actually granted
	Scope string `json:"scope,omitempty"`
}

// Introspection represents a token introspection response (RFC 7662).
// For an unknown, expired, or otherwise inactive token only Active is
// populated; callers must not be able to distinguish why a token is
// inactive from the response shape.
type Introspection struct {
	// Active reports whether the token is currently valid
	Active bool `json:"active"`

	// ClientID is the client the token was issued to
	ClientID string `json:"client_id,omitempty"`

	// Scope is the space-separated scope the token carries
	Scope string `json:"scope,omitempty"`

	// Subject is the resource owner who approved the grant
	Subject string `json:"sub,omitempty"`

	// ExpiresAt is the expiry as a Unix timestamp
	ExpiresAt int64 `json:"exp,omitempty"`
}

// ScopeList returns the token scope split into individual values.
// Returns nil for an empty scope.
func (i *Introspection) ScopeList() []string {
	return SplitScope(i.Scope)
}

// HasScope reports whether the introspected token carries the given scope value.
func (i *Introspection) HasScope(scope string) bool {
	for _, s := range i.ScopeList() {
		if s == scope {
			return true
		}
	}
	return false
}
