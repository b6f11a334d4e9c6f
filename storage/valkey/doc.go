// Package valkey provides a Valkey storage backend for correlation tokens.
//
// Valkey is a high-performance key-value store that is wire-compatible with
// Redis. Sharing correlation records through Valkey lets the challenge and
// the callback of one login be served by different replicas.
//
// # Key Schema
//
// All keys use a configurable prefix (default "sns:") to avoid conflicts with
// other applications sharing the same Valkey instance:
//
//	{prefix}correlation:{handle} -> token (with TTL)
//
// Records expire through native key TTLs. Consumption reads and deletes in a
// single Lua script, so a handle can be redeemed at most once even when
// several callbacks race.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{Address: "localhost:6379"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package valkey
