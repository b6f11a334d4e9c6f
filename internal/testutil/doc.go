// Package testutil provides test helpers for the sns-oauth packages: a mock
// time source, key and encryptor fixtures, and a logger that captures output
// so tests can assert that secrets never reach the logs.
package testutil
