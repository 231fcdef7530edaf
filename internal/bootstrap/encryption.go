package bootstrap

import (
	"encoding/hex"
	"log/slog"

	"github.com/junghoonshin3/bemypet/internal/data/cryptoutil"
)

// CreateEncryptor creates the session sealing encryptor from key.
// A 64-character hex key is used as the raw AES-256 key; anything else is
// stretched with HKDF. Returns a noop encryptor if the key is empty or invalid
// (with warning log).
//
//nolint:ireturn // Returning interface is intentional for encryptor abstraction
func CreateEncryptor(key string, logger *slog.Logger) cryptoutil.Encryptor {
	if key == "" {
		if logger != nil {
			logger.Warn("token encryption key is empty, stored sessions are not sealed")
		}
		return cryptoutil.NoopEncryptor{}
	}

	enc, err := createAESGCMEncryptor(key)
	if err != nil {
		if logger != nil {
			logger.Warn("failed to create encryptor, stored sessions are not sealed", "error", err)
		}
		return cryptoutil.NoopEncryptor{}
	}

	return enc
}

func createAESGCMEncryptor(key string) (*cryptoutil.AESGCMEncryptor, error) {
	if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
		return cryptoutil.NewAESGCMEncryptor(decoded)
	}
	return cryptoutil.NewEncryptorFromSecret(key)
}
