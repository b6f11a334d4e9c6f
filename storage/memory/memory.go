package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/sns-oauth/instrumentation"
	"github.com/giantswarm/sns-oauth/internal/util"
	"github.com/giantswarm/sns-oauth/storage"
)

const (
	// backendName labels metrics and spans emitted by this store
	backendName = "memory"

	// DefaultCleanupInterval is how often expired records are purged
	DefaultCleanupInterval = time.Minute

	// DefaultMaxEntries caps the number of live records
	DefaultMaxEntries = 100000
)

type record struct {
	token     string
	expiresAt time.Time
}

// Store is an in-memory storage.CorrelationStore.
type Store struct {
	mu      sync.Mutex
	records map[string]record

	maxEntries int
	now        func() time.Time

	// size mirrors len(records) for lock-free metric collection
	size atomic.Int64

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var _ storage.CorrelationStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCleanupInterval sets how often expired records are purged.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithMaxEntries caps the number of live records. Saves beyond the cap fail.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInstrumentation enables storage spans and metrics.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Store) {
		s.instrumentation = inst
		if inst != nil {
			s.tracer = inst.Tracer("storage")
		}
	}
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store and starts its cleanup loop. Call Stop when done.
func New(opts ...Option) *Store {
	s := &Store{
		records:         make(map[string]record),
		maxEntries:      DefaultMaxEntries,
		now:             time.Now,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.instrumentation != nil {
		if err := s.instrumentation.RegisterCorrelationStoreSize(backendName, s.size.Load); err != nil {
			s.logger.Warn("Failed to register correlation store size callback", "error", err)
		}
	}

	go s.cleanupLoop()

	return s
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// Len returns the number of stored records, including expired ones not yet purged.
func (s *Store) Len() int {
	return int(s.size.Load())
}

// SaveCorrelation stores token under handle until ttl elapses.
func (s *Store) SaveCorrelation(ctx context.Context, handle, token string, ttl time.Duration) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_correlation")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_correlation", err, startTime)
	}()

	if handle == "" || len(handle) > storage.MaxHandleLength {
		return fmt.Errorf("invalid correlation handle")
	}
	if token == "" {
		return fmt.Errorf("correlation token is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("correlation ttl must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[handle]; !exists && len(s.records) >= s.maxEntries {
		s.logger.Warn("Correlation store is full",
			"max_entries", s.maxEntries)
		return fmt.Errorf("correlation store capacity of %d records reached", s.maxEntries)
	}

	s.records[handle] = record{token: token, expiresAt: s.now().Add(ttl)}
	s.size.Store(int64(len(s.records)))

	s.logger.Debug("Saved correlation",
		"handle_prefix", util.LogPrefix(handle))
	return nil
}

// ConsumeCorrelation returns and deletes the token stored under handle.
func (s *Store) ConsumeCorrelation(ctx context.Context, handle string) (token string, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_correlation")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_correlation", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[handle]
	if !ok {
		return "", storage.ErrCorrelationNotFound
	}
	delete(s.records, handle)
	s.size.Store(int64(len(s.records)))

	if !s.now().Before(rec.expiresAt) {
		return "", storage.ErrCorrelationNotFound
	}
	return rec.token, nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0
	for handle, rec := range s.records {
		if !now.Before(rec.expiresAt) {
			delete(s.records, handle)
			cleaned++
		}
	}
	s.size.Store(int64(len(s.records)))

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired correlations", "count", cleaned)
	}
}

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, noop.Span{}
	}

	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(attribute.String("operation", operation)))
	instrumentation.AddStorageAttributes(span, operation, backendName)
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
