// Package resource implements the protected resource: the party that serves
// data only to requests carrying an active bearer token.
//
// Tokens are opaque to this party. Every admission decision is delegated to
// the authorization server through the Introspector, and the Guard
// middleware enforces the verdict, issuing RFC 6750 WWW-Authenticate
// challenges for missing or inactive tokens and insufficient_scope errors
// when a token is live but under-scoped.
package resource
