// Package authserver implements the authorization server: the party that
// authenticates clients, gathers resource owner consent, issues single-use
// authorization codes, mints bearer tokens, and answers introspection
// queries from protected resources.
//
// Server holds the protocol logic and is fully testable without HTTP;
// Handler is the thin HTTP surface over it, serving /authorize, /approve,
// /token, and /introspect.
package authserver
