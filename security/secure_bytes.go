package security

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

var (
	// ErrAllocation is returned for zero-sized or failed secure allocations.
	ErrAllocation = errors.New("secure allocation failed")
	// ErrSizeMismatch is returned when a copy would overflow a SecureMemory.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrNullSource is returned when an entropy or copy source is missing.
	ErrNullSource = errors.New("null source")
	// ErrEntropySource is returned when an entropy source fails to deliver.
	ErrEntropySource = errors.New("entropy source failed")
)

const redacted = "[REDACTED]"

// SecureBytes owns a secret byte slice. Destroy zeroes it; a cleanup
// registered at construction zeroes it if the owner forgets. Formatting and
// logging never reveal the contents.
type SecureBytes struct {
	mu        sync.RWMutex
	data      []byte
	destroyed bool
}

// NewSecureBytes takes ownership of data. The caller must not retain data.
func NewSecureBytes(data []byte) *SecureBytes {
	sb := &SecureBytes{data: data}
	if len(data) > 0 {
		runtime.AddCleanup(sb, SecureZero, data)
	}
	return sb
}

// CopySecureBytes copies data into a new SecureBytes and leaves data intact.
func CopySecureBytes(data []byte) *SecureBytes {
	return NewSecureBytes(append([]byte(nil), data...))
}

// Bytes exposes the secret for the duration of a computation. The returned
// slice aliases the protected storage and is zeroed by Destroy.
func (s *SecureBytes) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *SecureBytes) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Clone returns an independent copy.
func (s *SecureBytes) Clone() *SecureBytes {
	return CopySecureBytes(s.Bytes())
}

// Equal compares in constant time.
func (s *SecureBytes) Equal(other *SecureBytes) bool {
	if other == nil {
		return false
	}
	return ConstantTimeEq(s.Bytes(), other.Bytes())
}

// Destroy zeroes the secret. It is safe to call more than once.
func (s *SecureBytes) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	SecureZero(s.data)
	s.destroyed = true
}

func (s *SecureBytes) Destroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

func (s *SecureBytes) String() string   { return fmt.Sprintf("SecureBytes%s(%d)", redacted, s.Len()) }
func (s *SecureBytes) GoString() string { return s.String() }

func (s *SecureBytes) Format(f fmt.State, _ rune) {
	fmt.Fprint(f, s.String())
}

func (s *SecureBytes) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// MarshalText refuses to serialize secrets through generic encoders.
func (s *SecureBytes) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
