package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher("process-secret")
	require.NoError(t, err)

	enc, err := c.Encrypt("AIza-primary")
	require.NoError(t, err)
	assert.NotEqual(t, "AIza-primary", enc)
	assert.Equal(t, "AIza-primary", c.Decrypt(enc))
}

func TestCipher_EncryptIsRandomized(t *testing.T) {
	c, _ := NewCipher("process-secret")
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	assert.NotEqual(t, a, b)
}

func TestCipher_DecryptFailuresYieldEmpty(t *testing.T) {
	c, _ := NewCipher("process-secret")
	other, _ := NewCipher("another-secret")
	enc, _ := c.Encrypt("key")

	tampered := []byte(enc)
	tampered[len(tampered)-3] ^= 1

	tests := map[string]string{
		"empty":      "",
		"not base64": "%%%",
		"too short":  "AAAA",
		"tampered":   string(tampered),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, "", c.Decrypt(in))
		})
	}

	assert.Equal(t, "", other.Decrypt(enc), "wrong secret")
}

func TestCipher_EmptyPlaintext(t *testing.T) {
	c, _ := NewCipher("s")
	enc, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", enc)
}

func TestNewCipher_RequiresSecret(t *testing.T) {
	_, err := NewCipher("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestCipher_LongValue(t *testing.T) {
	c, _ := NewCipher("s")
	long := strings.Repeat("k", 4096)
	enc, err := c.Encrypt(long)
	require.NoError(t, err)
	assert.Equal(t, long, c.Decrypt(enc))
}
