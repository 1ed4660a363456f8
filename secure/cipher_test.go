package secure

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrokit/macrokit/errors"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := DeriveKey([]byte("correct horse battery"), []byte("macrokit-salt"))
	require.NoError(t, err)

	c, err := NewCipher(key)
	require.NoError(t, err)

	plaintext := []byte(`[{"type":"mouse_click","x":100,"y":200}]`)
	blob, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	require.False(t, bytes.Contains(blob, plaintext))

	got, err := c.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptWrongKey(t *testing.T) {
	key1, err := DeriveKey([]byte("password one"), []byte("macrokit-salt"))
	require.NoError(t, err)
	key2, err := DeriveKey([]byte("password two"), []byte("macrokit-salt"))
	require.NoError(t, err)

	c1, err := NewCipher(key1)
	require.NoError(t, err)
	c2, err := NewCipher(key2)
	require.NoError(t, err)

	blob, err := c1.Encrypt([]byte("secret actions"))
	require.NoError(t, err)

	_, err = c2.Decrypt(blob)
	require.Error(t, err)
	assert.True(t, errors.IsEncryption(err))
}

func TestDecryptTamperedBlob(t *testing.T) {
	key, err := DeriveKey([]byte("password"), []byte("macrokit-salt"))
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	blob, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff

	_, err = c.Decrypt(blob)
	assert.True(t, errors.IsEncryption(err))
}

func TestDecryptTruncatedBlob(t *testing.T) {
	key, err := DeriveKey([]byte("password"), []byte("macrokit-salt"))
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	_, err = c.Decrypt([]byte("short"))
	assert.True(t, errors.IsEncryption(err))
}

func TestDeriveKeyValidation(t *testing.T) {
	_, err := DeriveKey(nil, []byte("macrokit-salt"))
	assert.True(t, errors.IsEncryption(err))

	_, err = DeriveKey([]byte("password"), []byte("x"))
	assert.True(t, errors.IsEncryption(err))
}

func TestNewCipherRejectsBadKeyLength(t *testing.T) {
	_, err := NewCipher([]byte("too short"))
	assert.True(t, errors.IsEncryption(err))
}
