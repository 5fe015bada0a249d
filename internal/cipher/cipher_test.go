//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package cipher

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, keySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(hex.EncodeToString(randomKey(t)))
	require.NoError(t, err)

	plaintexts := []string{
		"sk-proj-1234567890abcdef",
		"",
		"key with spaces and unicode: xin chào",
		strings.Repeat("x", 4096),
	}
	for _, want := range plaintexts {
		sealed, err := c.Encrypt(want)
		require.NoError(t, err)
		require.NotEqual(t, want, sealed)

		got, err := c.Decrypt(sealed)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c, err := New(hex.EncodeToString(randomKey(t)))
	require.NoError(t, err)

	first, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestKeyEncodings(t *testing.T) {
	raw := randomKey(t)

	encodings := map[string]string{
		"hex":    hex.EncodeToString(raw),
		"base64": base64.StdEncoding.EncodeToString(raw),
		"raw":    string(raw),
	}
	var sealed string
	for name, key := range encodings {
		c, err := New(key)
		require.NoError(t, err, "encoding %s", name)
		if sealed == "" {
			sealed, err = c.Encrypt("cross-encoding")
			require.NoError(t, err)
			continue
		}
		// All encodings of the same key must open the same ciphertext.
		got, err := c.Decrypt(sealed)
		require.NoError(t, err, "encoding %s", name)
		require.Equal(t, "cross-encoding", got)
	}
}

func TestNewRejectsBadKey(t *testing.T) {
	for _, key := range []string{"", "short", strings.Repeat("z", 31)} {
		_, err := New(key)
		require.ErrorIs(t, err, ErrInvalidKey)
	}
}

func TestDecryptRejectsTamperedValue(t *testing.T) {
	c, err := New(hex.EncodeToString(randomKey(t)))
	require.NoError(t, err)

	sealed, err := c.Encrypt("secret")
	require.NoError(t, err)

	rawSealed, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	rawSealed[len(rawSealed)-1] ^= 0xff
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(rawSealed))
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	sealer, err := New(hex.EncodeToString(randomKey(t)))
	require.NoError(t, err)
	opener, err := New(hex.EncodeToString(randomKey(t)))
	require.NoError(t, err)

	sealed, err := sealer.Encrypt("secret")
	require.NoError(t, err)
	_, err = opener.Decrypt(sealed)
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c, err := New(hex.EncodeToString(randomKey(t)))
	require.NoError(t, err)

	for _, bad := range []string{"not base64!!!", base64.StdEncoding.EncodeToString([]byte("tiny"))} {
		_, err := c.Decrypt(bad)
		require.ErrorIs(t, err, ErrInvalidCiphertext)
	}
}
