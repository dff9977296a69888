// Package storage defines interfaces for persisting OAuth clients,
// authorization grants, and access tokens.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations. Callers match these
// with errors.Is to map storage failures to protocol errors.
var (
	// ErrClientNotFound indicates the client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidClientSecret indicates the presented secret does not match
	ErrInvalidClientSecret = errors.New("invalid client secret")

	// ErrGrantNotFound indicates the authorization code is unknown or already redeemed
	ErrGrantNotFound = errors.New("authorization grant not found")

	// ErrGrantExists indicates an authorization code collision on save
	ErrGrantExists = errors.New("authorization grant already exists")

	// ErrTokenNotFound indicates the access token is unknown
	ErrTokenNotFound = errors.New("access token not found")

	// ErrTokenExpired indicates the access token exists but is past its expiry
	ErrTokenExpired = errors.New("access token expired")
)

// Client is a registered OAuth client. Secrets are stored as bcrypt hashes;
// the plaintext secret never enters a store.
type Client struct {
	// ClientID is the public client identifier
	ClientID string

	// SecretHash is the bcrypt hash of the client secret
	SecretHash string

	// RedirectURIs are the exact redirect URIs registered for the client.
	// Authorization requests must match one of these byte for byte.
	RedirectURIs []string

	// Scopes is the ceiling of scope values the client may request
	Scopes []string

	// Name is an optional display name shown on the consent page
	Name string

	// CreatedAt is when the client was registered
	CreatedAt time.Time
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// Grant is a single-use authorization code record. It binds the code to the
// client, redirect URI, approved scope, and resource owner at issuance time
// so the token endpoint can cross-check the redemption request.
type Grant struct {
	// Code is the opaque authorization code
	Code string

	// ClientID is the client the code was issued to
	ClientID string

	// RedirectURI is the redirect URI used in the authorization request
	RedirectURI string

	// Scope is the scope the resource owner approved
	Scope []string

	// Subject is the resource owner who approved the grant
	Subject string

	// CreatedAt is when the code was issued
	CreatedAt time.Time
}

// AccessToken is an opaque bearer token record.
type AccessToken struct {
	// Token is the opaque token value
	Token string

	// ClientID is the client the token was issued to
	ClientID string

	// Scope is the scope carried by the token
	Scope []string

	// Subject is the resource owner the token acts for
	Subject string

	// ExpiresAt is when the token stops being valid
	ExpiresAt time.Time

	// CreatedAt is when the token was minted
	CreatedAt time.Time
}

// ClientStore manages registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient registers or updates a client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	// Returns ErrClientNotFound for unknown IDs.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret checks a plaintext secret against the stored hash.
	// Returns ErrClientNotFound or ErrInvalidClientSecret on failure.
	// Implementations must take the same time for unknown clients as for
	// known clients with a wrong secret.
	ValidateClientSecret(ctx context.Context, clientID, secret string) (*Client, error)
}

// GrantStore manages pending authorization codes.
// All methods accept context.Context for tracing and cancellation.
type GrantStore interface {
	// SaveGrant stores a newly issued authorization code.
	// Returns ErrGrantExists if the code is already present.
	SaveGrant(ctx context.Context, grant *Grant) error

	// RedeemGrant atomically looks up and removes a grant by code.
	// At most one caller can ever receive a given grant; all others get
	// ErrGrantNotFound. There is no observable window in which two
	// redemptions of the same code both succeed.
	RedeemGrant(ctx context.Context, code string) (*Grant, error)
}

// TokenStore manages issued access tokens.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveToken stores a newly minted access token
	SaveToken(ctx context.Context, token *AccessToken) error

	// GetToken retrieves a token by value.
	// Returns ErrTokenNotFound for unknown tokens and ErrTokenExpired for
	// tokens past their expiry.
	GetToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteToken removes a token
	DeleteToken(ctx context.Context, token string) error
}
