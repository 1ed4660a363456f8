// Package secure encrypts recording payloads at rest.
//
// Payloads are sealed with ChaCha20-Poly1305 using a key derived from the
// user's password via scrypt. The nonce is prepended to the ciphertext so a
// single blob is self-contained.
package secure

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/macrokit/macrokit/errors"
)

// scrypt parameters, interactive-login strength
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// KeySize is the required cipher key length in bytes.
const KeySize = chacha20poly1305.KeySize

// DeriveKey derives a cipher key from a password and salt using scrypt.
// The salt must be stable per installation (it is not a per-message nonce).
func DeriveKey(password, salt []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, errors.Wrap(errors.ErrEncryption, "empty password")
	}
	if len(salt) < 8 {
		return nil, errors.Wrap(errors.ErrEncryption, "salt too short")
	}

	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, errors.Wrap(errors.ErrEncryption, err.Error())
	}
	return key, nil
}

// Cipher seals and opens byte payloads. Safe for concurrent use.
type Cipher struct {
	key []byte
}

// NewCipher creates a cipher from a KeySize-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errors.Wrapf(errors.ErrEncryption, "key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Cipher{key: k}, nil
}

// Encrypt seals plaintext and returns nonce||ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrEncryption, err.Error())
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(errors.ErrEncryption, err.Error())
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce||ciphertext blob produced by Encrypt.
// A wrong key or tampered blob yields an encryption failure.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrEncryption, err.Error())
	}

	if len(blob) < aead.NonceSize() {
		return nil, errors.Wrap(errors.ErrEncryption, "blob shorter than nonce")
	}

	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrEncryption, "open sealed payload")
	}
	return plaintext, nil
}
