package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/sns-oauth/instrumentation"
	"github.com/giantswarm/sns-oauth/internal/util"
	"github.com/giantswarm/sns-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "sns:"

	// backendName labels metrics and spans emitted by this store
	backendName = "valkey"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxTokenLength bounds stored correlation tokens
	MaxTokenLength = 512
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "sns:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Instrumentation enables storage spans and metrics
	Instrumentation *instrumentation.Instrumentation
}

// Store is a Valkey-backed storage.CorrelationStore.
type Store struct {
	client          valkeygo.Client
	prefix          string
	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var _ storage.CorrelationStore = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	return newWithClient(client, cfg), nil
}

func newWithClient(client valkeygo.Client, cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		client:          client,
		prefix:          prefix,
		logger:          logger,
		instrumentation: cfg.Instrumentation,
	}
	if cfg.Instrumentation != nil {
		s.tracer = cfg.Instrumentation.Tracer("storage")
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return s
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SaveCorrelation stores token under handle with a native key TTL.
func (s *Store) SaveCorrelation(ctx context.Context, handle, token string, ttl time.Duration) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_correlation")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_correlation", err, startTime)
	}()

	if handle == "" {
		return fmt.Errorf("invalid correlation handle")
	}
	if len(handle) > storage.MaxHandleLength || len(token) > MaxTokenLength {
		return errInputTooLarge
	}
	if token == "" {
		return fmt.Errorf("correlation token is required")
	}
	// SET EX takes whole seconds
	if ttl < time.Second {
		return fmt.Errorf("correlation ttl must be at least one second")
	}

	cmd := s.client.B().Set().Key(s.correlationKey(handle)).Value(token).Ex(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save correlation: %w", err)
	}

	s.logger.Debug("Saved correlation",
		"handle_prefix", util.LogPrefix(handle))
	return nil
}

// ConsumeCorrelation atomically returns and deletes the token stored under handle.
func (s *Store) ConsumeCorrelation(ctx context.Context, handle string) (token string, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_correlation")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_correlation", err, startTime)
	}()

	if handle == "" || len(handle) > storage.MaxHandleLength {
		return "", storage.ErrCorrelationNotFound
	}

	token, err = s.client.Do(ctx,
		s.client.B().Eval().Script(luaGetAndDelete).
			Numkeys(1).
			Key(s.correlationKey(handle)).
			Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return "", storage.ErrCorrelationNotFound
		}
		return "", fmt.Errorf("failed to consume correlation: %w", err)
	}
	return token, nil
}

func (s *Store) correlationKey(handle string) string {
	return s.prefix + "correlation:" + handle
}

// luaGetAndDelete returns the value of KEYS[1] and deletes it in one step.
// Returns nil when the key does not exist. GETDEL would do the same on
// servers that support it.
const luaGetAndDelete = `
local data = redis.call('GET', KEYS[1])
if not data then
    return false
end
redis.call('DEL', KEYS[1])
return data
`

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, noop.Span{}
	}
	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, backendName)
	return ctx, span
}

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
