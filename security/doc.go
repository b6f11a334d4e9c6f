// Package security holds the protective pieces of the login flow.
//
// # State and correlation
//
// StateCodec seals FlowProperties into the OAuth2 state parameter with
// AES-256-GCM. The key purpose is bound as additional authenticated data, and
// DeriveKey gives every purpose its own HKDF subkey of one master key:
//
//	master, _ := security.KeyFromBase64(os.Getenv("SNS_ENCRYPTION_KEY"))
//	stateEnc, _ := security.NewPurposeEncryptor(master, security.PurposeState)
//	codec, _ := security.NewStateCodec(stateEnc)
//
// CorrelationGuard stamps a random token into the properties and mirrors it
// into the browser session, either in an encrypted cookie (CookieRecorder) or
// in a server side store behind an opaque cookie handle (StoreRecorder). The
// callback consumes the mirrored copy and compares the two in constant time.
//
// # Rate limiting
//
// RateLimiter is a per-identifier token bucket with LRU eviction, bounded by
// MaxEntries (default 10,000) so distributed floods cannot exhaust memory.
// Check returns the delay to advertise in Retry-After.
//
// # Audit
//
// Auditor writes "security_audit" records. Subject ids are hashed; state
// integrity events are logged at warn level so they stand apart from ordinary
// login failures.
package security
