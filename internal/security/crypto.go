package security

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// ErrDecryptFailed indicates a ciphertext that did not verify against the
// configured key.
var ErrDecryptFailed = errors.New("security: decrypt failed")

// SecretBox encrypts stored telephony credentials with a Fernet key drawn
// from configuration.
type SecretBox struct {
	key *fernet.Key
}

// NewSecretBox parses the base64 Fernet key from config.
func NewSecretBox(encodedKey string) (*SecretBox, error) {
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("security: decode encryption key: %w", err)
	}
	return &SecretBox{key: key}, nil
}

// GenerateSecretBoxKey returns a fresh encoded Fernet key, used by setup
// tooling when no key is configured yet.
func GenerateSecretBoxKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("security: generate encryption key: %w", err)
	}
	return key.Encode(), nil
}

// Encrypt seals a plaintext secret. Empty input stays empty so optional
// credentials round-trip cleanly.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	if b == nil || b.key == nil {
		return "", fmt.Errorf("security: secret box not initialized")
	}
	if plaintext == "" {
		return "", nil
	}
	token, err := fernet.EncryptAndSign([]byte(plaintext), b.key)
	if err != nil {
		return "", fmt.Errorf("security: encrypt: %w", err)
	}
	return string(token), nil
}

// Decrypt opens a sealed secret. Tokens never expire; key rotation would
// need a multi-key list here and is deliberately not supported yet.
func (b *SecretBox) Decrypt(ciphertext string) (string, error) {
	if b == nil || b.key == nil {
		return "", fmt.Errorf("security: secret box not initialized")
	}
	if ciphertext == "" {
		return "", nil
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{b.key})
	if msg == nil {
		return "", ErrDecryptFailed
	}
	return string(msg), nil
}
