// Package client implements the OAuth client: the party that drives the
// authorization code flow on behalf of a resource owner and presents the
// resulting bearer token to protected resources.
//
// Driver holds the flow logic (built on golang.org/x/oauth2) and is fully
// testable without a browser; Handler is a small HTML surface over it with
// cookie-based sessions.
package client
