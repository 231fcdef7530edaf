// Package cryptoutil seals persisted sessions so a leaked store does not leak tokens.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Encryptor seals and opens payloads. The context is bound as associated
// data, so a ciphertext only opens under the same context (e.g. its storage key).
type Encryptor interface {
	Encrypt(plaintext, context []byte) (string, error)
	Decrypt(ciphertext string, context []byte) ([]byte, error)
}

const (
	// Versioned prefix to allow key/algorithm rotation without data migrations.
	sealedPrefixV1 = "v1:"
	noopPrefix     = "noop:"
	keySize        = 32
)

// ErrNotSealed is returned when decrypting data that carries no known prefix.
var ErrNotSealed = errors.New("payload is not sealed")

// DeriveKey expands secret into a 32-byte key with HKDF-SHA256. info separates
// keys derived from the same secret for different purposes.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("encryption secret must be at least 16 bytes, got %d", len(secret))
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// AESGCMEncryptor implements Encryptor using AES-256-GCM.
type AESGCMEncryptor struct {
	aead cipher.AEAD
}

// NewAESGCMEncryptor constructs an AESGCMEncryptor. Key must be 32 bytes.
func NewAESGCMEncryptor(key []byte) (*AESGCMEncryptor, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("aes-gcm key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCMEncryptor{aead: aead}, nil
}

// NewEncryptorFromSecret derives a session sealing key from secret.
func NewEncryptorFromSecret(secret string) (*AESGCMEncryptor, error) {
	key, err := DeriveKey([]byte(secret), "bemypet session tokens v1")
	if err != nil {
		return nil, err
	}
	return NewAESGCMEncryptor(key)
}

// Encrypt seals plaintext with a random nonce and returns a versioned base64 string.
func (e *AESGCMEncryptor) Encrypt(plaintext, context []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	// nonce||ciphertext
	sealed := e.aead.Seal(nonce, nonce, plaintext, context)
	return sealedPrefixV1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a string created by Encrypt with the same context.
func (e *AESGCMEncryptor) Decrypt(ciphertext string, context []byte) ([]byte, error) {
	if !strings.HasPrefix(ciphertext, sealedPrefixV1) {
		return nil, ErrNotSealed
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext[len(sealedPrefixV1):])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	pt, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], context)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return pt, nil
}

// NoopEncryptor stores plaintext behind a marker prefix. It is for development only.
type NoopEncryptor struct{}

func (NoopEncryptor) Encrypt(plaintext, _ []byte) (string, error) {
	return noopPrefix + base64.StdEncoding.EncodeToString(plaintext), nil
}

func (NoopEncryptor) Decrypt(ciphertext string, _ []byte) ([]byte, error) {
	if !strings.HasPrefix(ciphertext, noopPrefix) {
		return nil, ErrNotSealed
	}
	return base64.StdEncoding.DecodeString(ciphertext[len(noopPrefix):])
}
