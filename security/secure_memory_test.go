package security

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureMemory(t *testing.T) {
	t.Run("zero size fails", func(t *testing.T) {
		_, err := NewSecureMemory(0)
		assert.ErrorIs(t, err, ErrAllocation)
	})

	t.Run("copy pads with zeros", func(t *testing.T) {
		mem, err := NewSecureMemory(8)
		require.NoError(t, err)
		require.NoError(t, mem.CopyFromSlice(bytes.Repeat([]byte{0xFF}, 8)))
		require.NoError(t, mem.CopyFromSlice([]byte{1, 2, 3}))
		assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, mem.Bytes())
	})

	t.Run("oversized copy fails", func(t *testing.T) {
		mem, err := NewSecureMemory(4)
		require.NoError(t, err)
		assert.ErrorIs(t, mem.CopyFromSlice([]byte{1, 2, 3, 4, 5}), ErrSizeMismatch)
		assert.ErrorIs(t, mem.CopyFromSlice(nil), ErrNullSource)
	})

	t.Run("destroy zeroes backing storage", func(t *testing.T) {
		mem, err := NewSecureMemory(32)
		require.NoError(t, err)
		require.NoError(t, mem.CopyFromSlice(bytes.Repeat([]byte{0x5A}, 32)))
		view := mem.Bytes()

		mem.Destroy()
		assert.Equal(t, make([]byte, 32), view, "Memory must read as zero after destroy")
		mem.Destroy()
	})
}

func TestSecureBytes(t *testing.T) {
	t.Run("destroy zeroes backing storage", func(t *testing.T) {
		secret := []byte("correct horse battery staple")
		sb := NewSecureBytes(secret)
		sb.Destroy()
		assert.Equal(t, make([]byte, len(secret)), secret)
		assert.True(t, sb.Destroyed())
	})

	t.Run("copy leaves source intact", func(t *testing.T) {
		src := []byte{1, 2, 3}
		sb := CopySecureBytes(src)
		sb.Destroy()
		assert.Equal(t, []byte{1, 2, 3}, src)
	})

	t.Run("clone is independent", func(t *testing.T) {
		sb := CopySecureBytes([]byte("abc"))
		clone := sb.Clone()
		sb.Destroy()
		assert.Equal(t, []byte("abc"), clone.Bytes())
		assert.False(t, sb.Equal(clone))
	})

	t.Run("never prints contents", func(t *testing.T) {
		sb := CopySecureBytes([]byte("topsecret"))
		for _, verb := range []string{"%v", "%+v", "%#v", "%s", "%x", "%q"} {
			out := fmt.Sprintf(verb, sb)
			assert.NotContains(t, out, "topsecret", verb)
			assert.NotContains(t, out, "746f70", verb)
		}

		var buf bytes.Buffer
		slog.New(slog.NewJSONHandler(&buf, nil)).Info("test", "key", sb)
		assert.NotContains(t, buf.String(), "topsecret")
		assert.Contains(t, buf.String(), "REDACTED")

		mem, err := NewSecureMemory(4)
		require.NoError(t, err)
		require.NoError(t, mem.CopyFromSlice([]byte("abcd")))
		assert.NotContains(t, fmt.Sprintf("%v %x", mem, mem), "abcd")
	})
}
