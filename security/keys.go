package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each purpose gets its own subkey of the master key.
const (
	PurposeState       = "sns-oauth/state/v1"
	PurposeCorrelation = "sns-oauth/correlation/v1"
	PurposeSession     = "sns-oauth/session/v1"
)

// DeriveKey derives a 32-byte subkey of master for purpose with HKDF-SHA256.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes, got %d", len(master))
	}
	if purpose == "" {
		return nil, fmt.Errorf("key purpose is required")
	}

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, master, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// NewPurposeEncryptor derives the subkey for purpose and returns an Encryptor bound to it.
func NewPurposeEncryptor(master []byte, purpose string) (*Encryptor, error) {
	key, err := DeriveKey(master, purpose)
	if err != nil {
		return nil, err
	}
	return NewEncryptor(key, purpose)
}
