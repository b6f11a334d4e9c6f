// Package memory provides an in-memory implementation of storage.CorrelationStore.
//
// Records live in a map guarded by a mutex and are purged by a background
// cleanup loop. It is suitable for development, testing, and single-instance
// deployments. Multi-instance deployments should use storage/valkey so that
// the callback can land on any replica.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	recorder, _ := security.NewStoreRecorder(store, security.CookieConfig{})
package memory
