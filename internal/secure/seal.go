// Package secure implements the state sealing and request signing
// primitives used by the OAuth flow and the webhook verifier: AEAD
// encryption of opaque state blobs and HMAC-SHA256 verification with
// constant-time comparison.
package secure

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidSealed is returned by Open for any decode, authentication, or
// layout failure. Callers get a single sentinel rather than partial data or
// a reason that could act as an oracle.
var ErrInvalidSealed = errors.New("secure: invalid sealed value")

// Sealer encrypts and authenticates opaque state blobs under a process-wide
// symmetric key. The sealed form is base64url(nonce || tag || ciphertext).
type Sealer struct {
	key [chacha20poly1305.KeySize]byte
}

// NewSealer builds a Sealer from an explicit 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secure: sealer key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

// NewSealerFromSecret derives a sealer key by hashing a long-lived shared
// secret with SHA-256. This is a development fallback; production should
// provision an independent key and use NewSealer.
func NewSealerFromSecret(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("secure: shared secret is required for key derivation")
	}
	sum := sha256.Sum256([]byte(secret))
	return NewSealer(sum[:])
}

// Seal encrypts plaintext under a fresh 96-bit nonce and returns the
// url-safe encoded blob. The layout is nonce || tag || ciphertext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return "", fmt.Errorf("secure: init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secure: generate nonce: %w", err)
	}

	// Seal appends ciphertext||tag; reorder into nonce||tag||ciphertext.
	out := aead.Seal(nil, nonce, plaintext, nil)
	tagAt := len(out) - aead.Overhead()
	combined := make([]byte, 0, aead.NonceSize()+len(out))
	combined = append(combined, nonce...)
	combined = append(combined, out[tagAt:]...)
	combined = append(combined, out[:tagAt]...)

	return base64.RawURLEncoding.EncodeToString(combined), nil
}

// Open reverses Seal. It returns ErrInvalidSealed on any failure and never
// logs key material or plaintext.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("secure: init cipher: %w", err)
	}

	combined, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrInvalidSealed
	}
	if len(combined) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrInvalidSealed
	}

	nonce := combined[:aead.NonceSize()]
	tag := combined[aead.NonceSize() : aead.NonceSize()+aead.Overhead()]
	ciphertext := combined[aead.NonceSize()+aead.Overhead():]

	sealedInput := make([]byte, 0, len(ciphertext)+len(tag))
	sealedInput = append(sealedInput, ciphertext...)
	sealedInput = append(sealedInput, tag...)

	plaintext, err := aead.Open(nil, nonce, sealedInput, nil)
	if err != nil {
		return nil, ErrInvalidSealed
	}
	return plaintext, nil
}
