// Package pii encrypts roster PII fields at rest. Tokens are
// "enc:v1:" + base64(nonce || secretbox ciphertext). A key ring supports
// rotation: encryption always uses the newest key, decryption tries each
// ring key newest-first.
package pii

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const tokenPrefix = "enc:v1:"

var (
	ErrNoKey = errors.New("pii: no encryption key configured")

	// ErrDecrypt covers tampered tokens, malformed encodings and key
	// mismatch. Bulk-listing callers must never propagate it; use
	// SafeDecrypt there.
	ErrDecrypt = errors.New("pii: decrypt failed")
)

type Cipher struct {
	keys [][32]byte // newest first
}

// NewCipher builds a cipher from base64-encoded 32-byte keys, newest first.
func NewCipher(encodedKeys []string) (*Cipher, error) {
	c := &Cipher{}
	for _, ek := range encodedKeys {
		ek = strings.TrimSpace(ek)
		if ek == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(ek)
		if err != nil {
			return nil, errors.New("pii: key is not valid base64")
		}
		if len(raw) != 32 {
			return nil, errors.New("pii: key must be 32 bytes")
		}
		var k [32]byte
		copy(k[:], raw)
		c.keys = append(c.keys, k)
	}
	if len(c.keys) == 0 {
		return nil, ErrNoKey
	}
	return c, nil
}

// Encrypt seals plaintext with the primary (newest) key.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || len(c.keys) == 0 {
		return "", ErrNoKey
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.keys[0])
	return tokenPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token, trying each ring key in order. A value without the
// token prefix is returned unchanged: pre-encryption documents still hold
// plaintext.
func (c *Cipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, tokenPrefix) {
		return value, nil
	}
	if c == nil || len(c.keys) == 0 {
		return "", ErrNoKey
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, tokenPrefix))
	if err != nil || len(raw) < 24+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	for i := range c.keys {
		if plain, ok := secretbox.Open(nil, raw[24:], &nonce, &c.keys[i]); ok {
			return string(plain), nil
		}
	}
	return "", ErrDecrypt
}

// SafeDecrypt never fails: on any decrypt error the fallback is returned,
// so one corrupted field cannot fail an entire listing.
func (c *Cipher) SafeDecrypt(value, fallback string) string {
	plain, err := c.Decrypt(value)
	if err != nil {
		return fallback
	}
	return plain
}
