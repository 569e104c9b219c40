// Package secrets provides opaque encryption for per-user provider API
// keys at rest. Keys are sealed with AES-256-GCM under a process-level
// master key; ciphertext is stored base64-encoded.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidCiphertext is returned when stored ciphertext cannot be opened.
var ErrInvalidCiphertext = errors.New("secrets: invalid ciphertext")

// Box seals and opens short secrets under a fixed master key.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives an AES-256-GCM sealer from the master key material.
// Any non-empty key material is accepted; it is hashed to 32 bytes.
func NewBox(masterKey []byte) (*Box, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("secrets: master key is required")
	}
	sum := sha256.Sum256(masterKey)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: gcm init: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext and returns base64 ciphertext with the nonce
// prepended.
func (b *Box) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts base64 ciphertext produced by Seal.
func (b *Box) Open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < b.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}
