package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// apiKeyPrefix marks generated keys so they are recognizable in logs and
// support requests without exposing the secret part.
const apiKeyPrefix = "cw_"

// GenerateAPIKey returns a new plaintext API key and its storage hash. Only
// the hash is persisted.
func GenerateAPIKey() (plaintext, hash string, err error) {
	buf := make([]byte, 24)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", "", fmt.Errorf("security: generate api key: %w", errRead)
	}
	plaintext = apiKeyPrefix + hex.EncodeToString(buf)
	return plaintext, HashAPIKey(plaintext), nil
}

// HashAPIKey returns the SHA-256 hex digest used to look up stored keys.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
