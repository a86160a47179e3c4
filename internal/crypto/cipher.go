// Package crypto provides authenticated encryption for tokens at rest.
// The cipher is kept outside the repository layer so the persistence
// substrate can be swapped without a schema change.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryption is the single error returned for every decrypt failure.
// Callers cannot distinguish a truncated value from a bad tag or a wrong
// key; anything more specific would be a padding/tag oracle.
var ErrDecryption = errors.New("decryption failed")

const (
	// MinPassphraseBytes is the minimum input entropy for key derivation.
	MinPassphraseBytes = 32

	kdfIterations = 210_000
)

// kdfSalt is a fixed application salt: the passphrase is deployment-wide,
// so per-value salts would buy nothing and would complicate the on-disk
// format. Nonces provide per-value freshness.
var kdfSalt = []byte("triagehub-token-cipher-v1")

// TokenCipher encrypts and decrypts short secrets with AES-256-GCM.
// The on-disk representation is base64(nonce || ciphertext).
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives a 32-byte key from the passphrase with
// PBKDF2-SHA256 and returns a ready cipher. The passphrase must carry at
// least MinPassphraseBytes of input.
func NewTokenCipher(passphrase string) (*TokenCipher, error) {
	if len(passphrase) < MinPassphraseBytes {
		return nil, fmt.Errorf("cipher passphrase must be at least %d bytes", MinPassphraseBytes)
	}
	key := pbkdf2.Key([]byte(passphrase), kdfSalt, kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. Two encryptions of the
// same plaintext produce different ciphertexts.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Every failure mode returns
// ErrDecryption.
func (c *TokenCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryption
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrDecryption
	}
	plaintext, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}
