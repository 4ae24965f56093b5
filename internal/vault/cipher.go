// Package vault is encrypted at-rest storage for unredacted stage content.
// Content is JSON-serialized, sealed with AES-256-GCM and kept per (run, stage)
// with its own expiry. Entries are only written for debug runs.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
)

// Sizes of the AES-256-GCM primitives.
const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrInvalidKey = errors.New("vault: key must be 32 bytes")
	ErrDecrypt    = errors.New("vault: decryption failed")
	ErrNotFound   = errors.New("vault: entry not found")
	ErrBadRef     = errors.New("vault: malformed reference")
)

// #region sealed

// Sealed is one encrypted payload. Ciphertext excludes the tag.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// #endregion sealed

// #region cipher

// Cipher seals and opens JSON values with a fixed key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new block: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt JSON-encodes v and seals it under a fresh random nonce.
func (c *Cipher) Encrypt(v any) (Sealed, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return Sealed{}, fmt.Errorf("marshal vault content: %w", err)
	}
	iv := make([]byte, NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("nonce: %w", err)
	}
	out := c.aead.Seal(nil, iv, plain, nil)
	split := len(out) - TagSize
	return Sealed{Ciphertext: out[:split], IV: iv, Tag: out[split:]}, nil
}

// Decrypt verifies the tag and decodes the plaintext into out.
// Any tampering yields ErrDecrypt.
func (c *Cipher) Decrypt(s Sealed, out any) error {
	if len(s.IV) != NonceSize || len(s.Tag) != TagSize {
		return ErrDecrypt
	}
	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)
	plain, err := c.aead.Open(nil, s.IV, buf, nil)
	if err != nil {
		return ErrDecrypt
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("unmarshal vault content: %w", err)
	}
	return nil
}

// #endregion cipher
