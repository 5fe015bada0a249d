//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package cipher encrypts and decrypts tenant credentials at rest.
// Provider API keys are stored AES-256-GCM sealed; the process key is
// supplied once at startup and plaintext never leaves this package
// except as the return value of Decrypt.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const keySize = 32 // AES-256

var (
	// ErrInvalidKey indicates the process encryption key is not a valid
	// 32-byte AES-256 key in any accepted encoding.
	ErrInvalidKey = errors.New("cipher: invalid encryption key")
	// ErrInvalidCiphertext indicates the stored value is malformed or was
	// sealed with a different key.
	ErrInvalidCiphertext = errors.New("cipher: invalid ciphertext")
)

// Cipher seals and opens secrets with a single process-wide key.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from the configured key material. The key may be
// given as 64 hex characters, as standard base64, or as 32 raw bytes.
func New(key string) (*Cipher, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return &Cipher{aead: aead}, nil
}

func decodeKey(key string) ([]byte, error) {
	if len(key) == hex.EncodedLen(keySize) {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw, nil
		}
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) == keySize {
		return raw, nil
	}
	if len(key) == keySize {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("%w: want %d bytes (raw, hex or base64)", ErrInvalidKey, keySize)
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext || tag).
// A fresh random nonce is drawn per call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cipher: nonce generation failed: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt and returns the original
// plaintext byte-for-byte.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidCiphertext, err)
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// The underlying error is deliberately not wrapped: GCM failures
		// must not leak key or ciphertext details into logs.
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
