// Package storage defines the server-side persistence used by the login flow.
//
// The flow itself is stateless: everything needed to finish a login travels in
// the encrypted state parameter. The only optional server state is the CSRF
// correlation token, which deployments may keep in a shared store instead of
// a sealed cookie.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
