// Package secure seals biometric templates at rest.
//
// Templates are encrypted with XChaCha20-Poly1305. The 256-bit key is
// derived from the configured passphrase with Argon2id, so the database
// alone never reveals a template.
package secure

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Errors returned by the sealer.
var (
	// ErrWeakKey is returned when the passphrase is too short.
	ErrWeakKey = errors.New("secure: template key too short")

	// ErrMalformed is returned when sealed data is too short to contain a nonce.
	ErrMalformed = errors.New("secure: malformed sealed data")

	// ErrDecrypt is returned when authentication fails (wrong key or tampering).
	ErrDecrypt = errors.New("secure: decryption failed")
)

// MinKeyLength is the shortest accepted passphrase.
const MinKeyLength = 16

// Argon2id parameters for key derivation.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
)

// Sealer encrypts and decrypts template blobs. Safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from passphrase and salt.
func NewSealer(passphrase, salt string) (*Sealer, error) {
	if len(passphrase) < MinKeyLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakKey, MinKeyLength)
	}
	key := argon2.IDKey([]byte(passphrase), []byte(salt), argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. The output is nonce || ciphertext.
// additional is authenticated but not encrypted; pass the owning record id
// so a sealed blob cannot be moved to another row.
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open decrypts data produced by Seal with the same additional data.
func (s *Sealer) Open(sealed, additional []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, ErrMalformed
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
