package ta

import (
	"errors"
	"fmt"

	"github.com/ruteri/tee-wallet-kms/interfaces"
)

// Status is a TEE result code as returned across the command ABI.
type Status uint32

// Values follow the GlobalPlatform TEE Internal Core API.
const (
	StatusSuccess       Status = 0x00000000
	StatusGeneric       Status = 0xFFFF0000
	StatusAccessDenied  Status = 0xFFFF0001
	StatusBadFormat     Status = 0xFFFF0005
	StatusBadParameters Status = 0xFFFF0006
	StatusBadState      Status = 0xFFFF0007
	StatusItemNotFound  Status = 0xFFFF0008
	StatusNotSupported  Status = 0xFFFF000A
	StatusBusy          Status = 0xFFFF000D
	StatusSecurity      Status = 0xFFFF000F
	StatusShortBuffer   Status = 0xFFFF0010
	StatusOutOfMemory   Status = 0xFFFF000C
)

var statusNames = map[Status]string{
	StatusSuccess:       "success",
	StatusGeneric:       "generic",
	StatusAccessDenied:  "access_denied",
	StatusBadFormat:     "bad_format",
	StatusBadParameters: "bad_parameters",
	StatusBadState:      "bad_state",
	StatusItemNotFound:  "item_not_found",
	StatusNotSupported:  "not_supported",
	StatusBusy:          "busy",
	StatusSecurity:      "security",
	StatusShortBuffer:   "short_buffer",
	StatusOutOfMemory:   "out_of_memory",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", uint32(s))
}

// StatusError is a failed command as seen by the caller: the status, the
// diagnostic text written to the output buffer and, for StatusShortBuffer,
// the output size the command needed.
type StatusError struct {
	Status   Status
	Message  string
	Required int
}

func (e *StatusError) Error() string {
	if e.Status == StatusShortBuffer {
		return fmt.Sprintf("ta %s (need %d bytes): %s", e.Status, e.Required, e.Message)
	}
	return fmt.Sprintf("ta %s: %s", e.Status, e.Message)
}

// Unwrap maps the status back onto the shared error taxonomy so callers can
// use errors.Is across the boundary.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case StatusNotSupported:
		return interfaces.ErrUnsupportedCommand
	case StatusShortBuffer:
		return interfaces.ErrBufferTooSmall
	case StatusBadParameters:
		return interfaces.ErrInvalidInput
	case StatusBadFormat:
		return interfaces.ErrSerialization
	case StatusBadState:
		return interfaces.ErrBadState
	case StatusItemNotFound:
		return interfaces.ErrKeyNotFound
	case StatusSecurity:
		return interfaces.ErrSecurityViolation
	case StatusBusy:
		return interfaces.ErrMaxSessions
	}
	return nil
}

// statusFor classifies a handler error.
func statusFor(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, interfaces.ErrBufferTooSmall):
		return StatusShortBuffer
	case errors.Is(err, interfaces.ErrUnsupportedCommand):
		return StatusNotSupported
	case errors.Is(err, interfaces.ErrSerialization):
		return StatusBadFormat
	case errors.Is(err, interfaces.ErrInvalidInput), errors.Is(err, interfaces.ErrInvalidHDPath):
		return StatusBadParameters
	case errors.Is(err, interfaces.ErrNotInitialized), errors.Is(err, interfaces.ErrBadState):
		return StatusBadState
	case errors.Is(err, interfaces.ErrWalletNotFound), errors.Is(err, interfaces.ErrAccountNotFound), errors.Is(err, interfaces.ErrSessionNotFound):
		return StatusItemNotFound
	case errors.Is(err, interfaces.ErrWalletLimit), errors.Is(err, interfaces.ErrMaxSessions):
		return StatusBusy
	case errors.Is(err, interfaces.ErrInsufficientEntropy), errors.Is(err, interfaces.ErrSecurityViolation):
		return StatusSecurity
	}
	return StatusGeneric
}
