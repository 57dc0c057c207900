// Package security – secrets.go resolves process secrets (bot token,
// encryption key) using the operating system's native keyring.
//
// Priority for resolving secrets:
//  1. Environment variable (also populated from .env by godotenv)
//  2. OS keyring (service "evo")
//  3. config.yaml value (least secure, plaintext on disk)
package security

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const keyringService = "evo"

// Well-known secret names. They double as environment variable names.
const (
	SecretBotToken      = "DISCORD_BOT_TOKEN"
	SecretEncryptionKey = "ENCRYPTION_KEY"
	SecretGatewayToken  = "EVO_GATEWAY_TOKEN"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(name, value string) error {
	if err := keyring.Set(keyringService, name, value); err != nil {
		return fmt.Errorf("security: keyring set %s: %w", name, err)
	}
	return nil
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found or the keyring is unavailable.
func GetKeyring(name string) string {
	val, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring. Missing secrets are
// not an error.
func DeleteKeyring(name string) error {
	err := keyring.Delete(keyringService, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("security: keyring delete %s: %w", name, err)
	}
	return nil
}

// ResolveSecret returns the first non-empty value from the environment,
// the OS keyring, and the config fallback, along with where it came from.
func ResolveSecret(name, configValue string) (value, source string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v, "env"
	}
	if v := GetKeyring(name); v != "" {
		return v, "keyring"
	}
	if v := strings.TrimSpace(configValue); v != "" && !strings.HasPrefix(v, "${") {
		return v, "config"
	}
	return "", ""
}

// ReadSecret reads a secret from the terminal without echoing.
// Falls back to a plain line read when stdin is not a terminal.
func ReadSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("security: reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	var buf [4096]byte
	n, err := os.Stdin.Read(buf[:])
	if err != nil {
		return "", fmt.Errorf("security: reading secret: %w", err)
	}
	return strings.TrimRight(string(buf[:n]), "\r\n"), nil
}
