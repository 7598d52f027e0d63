package security

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstantTimeEq(t *testing.T) {
	tests := []struct {
		name  string
		a, b  []byte
		equal bool
	}{
		{"equal", []byte("secret"), []byte("secret"), true},
		{"differ last byte", []byte("secret"), []byte("secreT"), false},
		{"differ first byte", []byte("secret"), []byte("Secret"), false},
		{"length mismatch", []byte("secret"), []byte("secre"), false},
		{"both empty", []byte{}, []byte{}, true},
		{"nil and empty", nil, []byte{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, ConstantTimeEq(tt.a, tt.b))
		})
	}
}

func TestConstantTimeSelect(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{4, 5, 6}
	dst := make([]byte, 3)

	ConstantTimeSelect(1, dst, a, b)
	assert.Equal(t, a, dst)
	ConstantTimeSelect(0, dst, a, b)
	assert.Equal(t, b, dst)
}

func TestHammingWeight(t *testing.T) {
	assert.Equal(t, 0, HammingWeight(make([]byte, 32)))
	assert.Equal(t, 256, HammingWeight(bytes.Repeat([]byte{0xFF}, 32)))
	assert.Equal(t, 4, HammingWeight([]byte{0x0F, 0x00}))
}

// The comparison must take roughly the same time whether inputs differ at the
// first byte or not at all.
func TestConstantTimeEq_TimingIndependentOfMismatchPosition(t *testing.T) {
	if testing.Short() {
		t.Skip("timing measurement skipped in short mode")
	}
	const size = 1 << 14
	const rounds = 2000

	a := bytes.Repeat([]byte{0xAB}, size)
	same := bytes.Repeat([]byte{0xAB}, size)
	early := bytes.Repeat([]byte{0xAB}, size)
	early[0] = 0x00

	run := func(b []byte) time.Duration {
		start := time.Now()
		for i := 0; i < rounds; i++ {
			ConstantTimeEq(a, b)
		}
		return time.Since(start)
	}

	// Interleaved trials; the fastest of each counts.
	tSame, tEarly := time.Duration(1<<63-1), time.Duration(1<<63-1)
	for trial := 0; trial < 15; trial++ {
		tSame = min(tSame, run(same))
		tEarly = min(tEarly, run(early))
	}
	ratio := float64(tSame) / float64(tEarly)
	assert.InDelta(t, 1.0, ratio, 0.1, "equal=%v early-mismatch=%v", tSame, tEarly)
}
