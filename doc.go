// Package grantline implements the OAuth 2.0 authorization code grant as a
// three-party system: an authorization server that issues single-use
// authorization codes and opaque bearer tokens, a protected resource that
// validates tokens via introspection, and a client that drives the flow on
// behalf of a resource owner.
//
// The root package holds the wire-level types shared by all three parties:
// the error taxonomy, token and introspection responses, and scope helpers.
// The parties themselves live in subpackages:
//
//   - authserver: authorization, token, and introspection endpoints
//   - resource: bearer-token guard and example protected endpoints
//   - client: flow driver and callback handling
//   - storage, storage/memory: credential, grant, and token stores
//   - security: token generation, expiry checks, audit logging
//
// All state is held in memory; nothing survives a process restart and the
// parties are single-instance by design.
package grantline
