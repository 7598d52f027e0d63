package cryptoutils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	plaintext := []byte("wallet blob")
	ad := []byte("wallets/1234")

	t.Run("AES-GCM", func(t *testing.T) {
		sealed, err := SealAESGCM(key, plaintext, ad)
		require.NoError(t, err)
		assert.NotContains(t, string(sealed), string(plaintext))

		opened, err := OpenAESGCM(key, sealed, ad)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)

		_, err = OpenAESGCM(key, sealed, []byte("wallets/other"))
		assert.ErrorIs(t, err, ErrOpen, "Additional data is bound to the ciphertext")

		sealed[len(sealed)-1] ^= 0x01
		_, err = OpenAESGCM(key, sealed, ad)
		assert.ErrorIs(t, err, ErrOpen, "Tampered ciphertext must not open")
	})

	t.Run("XChaCha20-Poly1305", func(t *testing.T) {
		sealed, err := SealXChaCha(key, plaintext, nil)
		require.NoError(t, err)

		opened, err := OpenXChaCha(key, sealed, nil)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)

		wrongKey := bytes.Repeat([]byte{0x43}, 32)
		_, err = OpenXChaCha(wrongKey, sealed, nil)
		assert.ErrorIs(t, err, ErrOpen)
	})

	t.Run("fresh nonce per seal", func(t *testing.T) {
		a, err := SealAESGCM(key, plaintext, nil)
		require.NoError(t, err)
		b, err := SealAESGCM(key, plaintext, nil)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("rejects short keys", func(t *testing.T) {
		_, err := SealAESGCM(key[:16], plaintext, nil)
		assert.Error(t, err)
	})
}

func TestDeriveSubkey(t *testing.T) {
	secret := []byte("factory seed material")

	k1, err := DeriveSubkey(secret, nil, "storage-seal", 32)
	require.NoError(t, err)
	k2, err := DeriveSubkey(secret, nil, "storage-seal", 32)
	require.NoError(t, err)
	k3, err := DeriveSubkey(secret, nil, "audit-log", 32)
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "Derivation must be deterministic")
	assert.NotEqual(t, k1, k3, "Different purposes must yield different keys")
	assert.Len(t, k1, 32)

	_, err = DeriveSubkey(nil, nil, "x", 32)
	assert.Error(t, err)
}
