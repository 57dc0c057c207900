// Package security – cipher.go encrypts the per-server API keys the dashboard
// stores in server_configs. Keys are sealed with AES-256-GCM under a key
// derived by Argon2id from the process ENCRYPTION_KEY secret.
//
// Ciphertext format: base64(salt || nonce || sealed). Each value carries its
// own salt so rotating nothing but the secret invalidates every stored key.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters. The input is a random process secret rather than
	// a human password, so a single pass is enough.
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256

	saltLen = 16
)

// ErrEmptySecret is returned by NewCipher when no encryption secret is set.
var ErrEmptySecret = errors.New("security: encryption secret is empty")

// Cipher encrypts and decrypts credential strings.
type Cipher struct {
	secret []byte

	// keys caches derived keys by salt; Argon2 is deliberately slow and the
	// same few ciphertexts are decrypted on every message.
	mu   sync.Mutex
	keys map[string][]byte
}

// NewCipher creates a Cipher from the process encryption secret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Cipher{secret: []byte(secret), keys: make(map[string][]byte)}, nil
}

// Encrypt seals plain and returns the encoded ciphertext.
// An empty plaintext encrypts to the empty string.
func (c *Cipher) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("security: generating salt: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("security: generating nonce: %w", err)
	}

	out := make([]byte, 0, saltLen+len(nonce)+len(plain)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens an encoded ciphertext. Any failure (empty input, bad
// encoding, wrong secret, tampering) yields "" and is never reported.
func (c *Cipher) Decrypt(encoded string) string {
	if encoded == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < saltLen {
		return ""
	}

	salt, rest := raw[:saltLen], raw[saltLen:]
	gcm, err := c.aead(salt)
	if err != nil || len(rest) < gcm.NonceSize() {
		return ""
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ""
	}
	return string(plain)
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key(salt))
	if err != nil {
		return nil, fmt.Errorf("security: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: creating gcm: %w", err)
	}
	return gcm, nil
}

func (c *Cipher) key(salt []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if k, ok := c.keys[string(salt)]; ok {
		return k
	}
	k := argon2.IDKey(c.secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	c.keys[string(salt)] = k
	return k
}
