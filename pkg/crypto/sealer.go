// Package crypto seals agent signing credentials before they land in the
// database, so a leaked db file does not leak keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

const sealedPrefix = "enc:"

var (
	ErrInvalidKey    = errors.New("credential key must be 32 bytes")
	ErrInvalidSealed = errors.New("malformed sealed value")
	ErrOpenFailed    = errors.New("credential decryption failed")
)

// Sealer encrypts and decrypts short credential strings with AES-256-GCM.
type Sealer struct {
	key []byte
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Sealer{key: key}, nil
}

// KeyFromString accepts either a 64-char hex key or a raw 32-byte string.
func KeyFromString(s string) ([]byte, error) {
	if len(s) == KeySize*2 {
		key, err := hex.DecodeString(s)
		if err == nil {
			return key, nil
		}
	}
	if len(s) == KeySize {
		return []byte(s), nil
	}
	return nil, ErrInvalidKey
}

// Sealed reports whether a stored value carries the sealed prefix.
func Sealed(v string) bool {
	return strings.HasPrefix(v, sealedPrefix)
}

// Seal encrypts plaintext to "enc:base64(nonce|ciphertext)". Empty values
// pass through so optional credentials stay empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without the sealed
// prefix are returned unchanged, which keeps rows written before
// encryption was enabled readable.
func (s *Sealer) Open(v string) (string, error) {
	if !Sealed(v) {
		return v, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, sealedPrefix))
	if err != nil {
		return "", ErrInvalidSealed
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", ErrInvalidSealed
	}

	plaintext, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plaintext), nil
}
