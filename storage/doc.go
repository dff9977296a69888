// Package storage provides interfaces for OAuth client, grant, and token persistence.
//
// The storage package defines the core storage interfaces used throughout grantline:
//   - ClientStore: Manages registered OAuth clients and secret validation
//   - GrantStore: Manages single-use authorization codes with atomic redemption
//   - TokenStore: Manages issued access tokens
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage; the only backend, since nothing in
//     this system survives a process restart
package storage
