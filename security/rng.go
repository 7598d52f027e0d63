package security

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20"
)

const rngStateSize = chacha20.KeySize

// SecureRng is a ChaCha20-based generator seeded once from an entropy source.
// Every fill derives the output and a replacement state from the same
// keystream, then discards the old state, so a compromise of the current
// state does not expose earlier output.
type SecureRng struct {
	mu    sync.Mutex
	state [rngStateSize]byte
	nonce [chacha20.NonceSize]byte
}

// NewSecureRng seeds from source. A nil source fails with ErrNullSource.
func NewSecureRng(source io.Reader) (*SecureRng, error) {
	if source == nil {
		return nil, ErrNullSource
	}
	r := &SecureRng{}
	if _, err := io.ReadFull(source, r.state[:]); err != nil {
		return nil, fmt.Errorf("%w: failed to seed rng: %v", ErrEntropySource, err)
	}
	return r, nil
}

// NewSystemRng seeds from the operating system entropy source.
func NewSystemRng() (*SecureRng, error) {
	return NewSecureRng(rand.Reader)
}

// Read implements io.Reader and never returns a short read.
func (r *SecureRng) Read(p []byte) (int, error) {
	if err := r.FillBytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// FillBytes overwrites dst with fresh output and ratchets the state.
func (r *SecureRng) FillBytes(dst []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := chacha20.NewUnauthenticatedCipher(r.state[:], r.nonce[:])
	if err != nil {
		return fmt.Errorf("failed to initialise rng cipher: %w", err)
	}
	var next [rngStateSize]byte
	c.XORKeyStream(next[:], next[:])
	clear(dst)
	c.XORKeyStream(dst, dst)

	r.state = next
	clear(next[:])
	return nil
}

func (r *SecureRng) Uint32() (uint32, error) {
	var b [4]byte
	if err := r.FillBytes(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *SecureRng) Uint64() (uint64, error) {
	var b [8]byte
	if err := r.FillBytes(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// StackCanary is a random sentinel checked in constant time.
type StackCanary struct {
	value uint64
}

func NewStackCanary(rng *SecureRng) (*StackCanary, error) {
	v, err := rng.Uint64()
	if err != nil {
		return nil, err
	}
	return &StackCanary{value: v}, nil
}

func (c *StackCanary) Value() uint64 { return c.value }

func (c *StackCanary) Check(v uint64) bool {
	var a, b [8]byte
	binary.LittleEndian.PutUint64(a[:], c.value)
	binary.LittleEndian.PutUint64(b[:], v)
	return ConstantTimeEq(a[:], b[:])
}
