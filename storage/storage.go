package storage

import (
	"context"
	"time"
)

// MaxHandleLength bounds correlation handles accepted by stores.
const MaxHandleLength = 256

// CorrelationStore keeps per-flow correlation tokens on the server side.
// Handles are opaque random strings carried in a short-lived cookie.
type CorrelationStore interface {
	// SaveCorrelation stores token under handle until ttl elapses.
	SaveCorrelation(ctx context.Context, handle, token string, ttl time.Duration) error

	// ConsumeCorrelation atomically reads and deletes the token stored under
	// handle. It returns ErrCorrelationNotFound if the handle is unknown or
	// expired, so a token can be consumed at most once.
	ConsumeCorrelation(ctx context.Context, handle string) (string, error)
}

// NotFoundError reports a missing or expired record.
type NotFoundError struct {
	Kind string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " not found"
}

// NotFound marks the error as a missing-record condition.
func (e *NotFoundError) NotFound() bool {
	return true
}

// ErrCorrelationNotFound is returned when a correlation handle is unknown or expired.
var ErrCorrelationNotFound error = &NotFoundError{Kind: "correlation"}
