package security

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// SecureMemory is a fixed-size zero-initialized secret buffer.
type SecureMemory struct {
	mu   sync.Mutex
	data []byte
}

// NewSecureMemory allocates size bytes. Zero size fails with ErrAllocation.
func NewSecureMemory(size int) (*SecureMemory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrAllocation, size)
	}
	data := make([]byte, size)
	m := &SecureMemory{data: data}
	runtime.AddCleanup(m, SecureZero, data)
	return m, nil
}

// CopyFromSlice copies src into the buffer and zero-pads the remainder.
// A source longer than the buffer fails with ErrSizeMismatch.
func (m *SecureMemory) CopyFromSlice(src []byte) error {
	if src == nil {
		return ErrNullSource
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(src) > len(m.data) {
		return fmt.Errorf("%w: source %d bytes exceeds capacity %d", ErrSizeMismatch, len(src), len(m.data))
	}
	n := copy(m.data, src)
	SecureZero(m.data[n:])
	return nil
}

// Bytes returns the buffer. The slice aliases protected storage.
func (m *SecureMemory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

func (m *SecureMemory) Size() int { return len(m.data) }

// Zero clears the contents but keeps the buffer usable.
func (m *SecureMemory) Zero() {
	m.mu.Lock()
	defer m.mu.Unlock()
	SecureZero(m.data)
}

// Destroy zeroes the buffer. Safe to call repeatedly.
func (m *SecureMemory) Destroy() {
	if m == nil {
		return
	}
	m.Zero()
}

func (m *SecureMemory) String() string {
	return fmt.Sprintf("SecureMemory%s(%d)", redacted, len(m.data))
}
func (m *SecureMemory) GoString() string { return m.String() }

func (m *SecureMemory) Format(f fmt.State, _ rune) {
	fmt.Fprint(f, m.String())
}

func (m *SecureMemory) LogValue() slog.Value {
	return slog.StringValue(m.String())
}
