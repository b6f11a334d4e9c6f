// Package instrumentation provides OpenTelemetry instrumentation for the sns-oauth login core.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "my-login-service",
//		ServiceVersion:  "1.0.0",
//		MetricsExporter: instrumentation.MetricsExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", promhttp.Handler())
//
// A MeterProvider or TracerProvider can be injected instead, which is how tests
// read recorded values back.
//
// # Available Metrics
//
// HTTP Layer:
//   - sns.http.requests.total{method, endpoint, status}
//   - sns.http.request.duration{endpoint}
//
// Login Flows:
//   - sns.challenge.issued{provider, browser}
//   - sns.callback.processed{provider, outcome, reason}
//
// Security:
//   - sns.rate_limit.exceeded{endpoint}
//   - sns.state.rejected{provider, reason}
//   - sns.audit.events.total{event_type}
//   - sns.encryption.operations.total{operation}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.correlation.records{storage.backend}
//
// Provider:
//   - provider.api.calls.total{provider, operation, status}
//   - provider.api.duration{provider, operation}
//   - provider.api.errors.total{provider, operation, error_type}
//
// # Distributed Tracing
//
//	sns.http.callback
//	└── sns.server.handle_callback
//	    ├── provider.wechat.token
//	    └── provider.wechat.profile
//
// # Security Considerations
//
// Never record provider tokens, authorization codes, app secrets or state
// values. Client IPs are only attached when LogClientIPs is set.
package instrumentation
