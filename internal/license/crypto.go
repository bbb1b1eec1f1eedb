package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// DefaultEncryptionSecret is used when no secret is configured. Anyone with
// the binary can decrypt records written under it.
const DefaultEncryptionSecret = "licensed-credential-store-default-secret"

// scrypt parameters follow the OWASP minimum used for embedded credentials.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

var cipherSalt = []byte("licensed/credential-store/v1")

// Cipher encrypts individual record fields with AES-256-GCM. Each ciphertext
// is base64(nonce || sealed box).
type Cipher struct {
	aead          cipher.AEAD
	defaultSecret bool
}

// NewCipher derives the field key from secret. An empty secret falls back to
// DefaultEncryptionSecret.
func NewCipher(secret string) (*Cipher, error) {
	usingDefault := secret == ""
	if usingDefault {
		secret = DefaultEncryptionSecret
	}

	key, err := scrypt.Key([]byte(secret), cipherSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead, defaultSecret: usingDefault}, nil
}

// UsingDefaultSecret reports whether the compiled-in secret is in use.
func (c *Cipher) UsingDefaultSecret() bool {
	return c.defaultSecret
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Tampered or truncated input
// fails authentication.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", errors.New("ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
