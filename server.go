package oauth

import (
	"fmt"

	"github.com/giantswarm/sns-oauth/providers"
	"github.com/giantswarm/sns-oauth/security"
	"github.com/giantswarm/sns-oauth/server"
)

// NewServer builds the login flow server for cfg.Provider: the state codec,
// the correlation guard and the backchannel exchanger all derive from cfg.
func NewServer(cfg *Config) (*server.Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.logger()

	key := cfg.Security.EncryptionKey
	if key == nil {
		generated, err := security.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
		key = generated
		logger.Warn("No encryption key configured, using an ephemeral key",
			"impact", "logins in flight fail after a restart or on another replica")
	}

	stateEnc, err := security.NewPurposeEncryptor(key, security.PurposeState)
	if err != nil {
		return nil, fmt.Errorf("failed to derive state key: %w", err)
	}
	codec, err := security.NewStateCodec(stateEnc,
		security.WithStateLifetime(cfg.Security.StateLifetime),
		security.WithStateLogger(logger),
		security.WithStateInstrumentation(cfg.Instrumentation),
	)
	if err != nil {
		return nil, err
	}

	recorder, err := newCorrelationRecorder(cfg, key)
	if err != nil {
		return nil, err
	}
	guard, err := security.NewCorrelationGuard(recorder, codec.Lifetime(), logger)
	if err != nil {
		return nil, err
	}

	opts := []providers.ExchangerOption{
		providers.WithLogger(logger),
		providers.WithInstrumentation(cfg.Instrumentation),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, providers.WithHTTPClient(cfg.HTTPClient))
	}
	exchanger := providers.NewExchanger(opts...)

	serverConfig := cfg.Server
	srv, err := server.New(cfg.Provider, codec, guard, exchanger, &serverConfig, logger)
	if err != nil {
		return nil, err
	}
	auditor := security.NewAuditor(logger, cfg.Security.EnableAuditLogging)
	srv.SetAuditor(auditor)
	if cfg.Instrumentation != nil {
		auditor.SetInstrumentation(cfg.Instrumentation)
		srv.SetInstrumentation(cfg.Instrumentation)
	}
	return srv, nil
}

func newCorrelationRecorder(cfg *Config, key []byte) (security.CorrelationRecorder, error) {
	if cfg.CorrelationStore != nil {
		return security.NewStoreRecorder(cfg.CorrelationStore, cfg.Security.CorrelationCookie)
	}
	enc, err := security.NewPurposeEncryptor(key, security.PurposeCorrelation)
	if err != nil {
		return nil, fmt.Errorf("failed to derive correlation key: %w", err)
	}
	return security.NewCookieRecorder(enc, cfg.Security.CorrelationCookie)
}
