package interfaces

import "errors"

var (
	// Cryptographic failures. Never carry secret material in the message.
	ErrCryptographic       = errors.New("cryptographic error")
	ErrInvalidKey          = errors.New("invalid key")
	ErrKeyNotFound         = errors.New("key not found")
	ErrKeyDerivationFailed = errors.New("key derivation failed")

	// Persistence.
	ErrStorage            = errors.New("storage error")
	ErrSerialization      = errors.New("serialization error")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// Input validation.
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidHDPath = errors.New("invalid HD path")

	// Security conditions. Always audited at Security or Critical level.
	ErrInsufficientEntropy = errors.New("insufficient entropy")
	ErrSecurityViolation   = errors.New("security violation")
	ErrNotInitialized      = errors.New("not initialized")

	// Wallet and account lookup.
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrWalletLimit     = errors.New("wallet limit reached")

	// Command dispatch.
	ErrUnsupportedCommand = errors.New("unsupported command")
	ErrBufferTooSmall     = errors.New("output buffer too small")
	ErrBadState           = errors.New("trusted application in wrong state")

	// Host sessions.
	ErrSession         = errors.New("session error")
	ErrSessionNotFound = errors.New("session not found")
	ErrMaxSessions     = errors.New("maximum number of sessions reached")
	ErrSessionPoisoned = errors.New("session poisoned by transport failure")
	ErrTimeout         = errors.New("operation timed out")
)
