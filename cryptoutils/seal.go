package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrOpen is returned when sealed data fails authentication.
var ErrOpen = errors.New("failed to open sealed data")

// SealAESGCM encrypts plaintext with AES-256-GCM under key.
// Output format: [nonce (12 bytes)][ciphertext+tag].
func SealAESGCM(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	return seal(aead, plaintext, additionalData)
}

// OpenAESGCM reverses SealAESGCM. The additional data must match.
func OpenAESGCM(key, sealed, additionalData []byte) ([]byte, error) {
	aead, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	return open(aead, sealed, additionalData)
}

// SealXChaCha encrypts plaintext with XChaCha20-Poly1305 under a 32-byte key.
// Output format: [nonce (24 bytes)][ciphertext+tag].
func SealXChaCha(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return seal(aead, plaintext, additionalData)
}

// OpenXChaCha reverses SealXChaCha.
func OpenXChaCha(key, sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return open(aead, sealed, additionalData)
}

// DeriveSubkey expands secret into a purpose-bound key with HKDF-SHA256.
func DeriveSubkey(secret, salt []byte, purpose string, length int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty secret")
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(purpose)), out); err != nil {
		return nil, fmt.Errorf("failed to derive subkey: %w", err)
	}
	return out, nil
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid AES-256 key length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

func seal(aead cipher.AEAD, plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

func open(aead cipher.AEAD, sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: data too short", ErrOpen)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return plaintext, nil
}
