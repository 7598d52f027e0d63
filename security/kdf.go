package security

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/ruteri/tee-wallet-kms/audit"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// KdfAlgorithm selects the password hashing function.
type KdfAlgorithm string

const (
	KdfArgon2id KdfAlgorithm = "argon2id"
	KdfPBKDF2   KdfAlgorithm = "pbkdf2-sha256"
	KdfScrypt   KdfAlgorithm = "scrypt"
)

var ErrInvalidKdfParams = errors.New("invalid kdf parameters")

// KdfParams configures a derivation. MemoryCost is KiB for Argon2id and the
// CPU/memory cost N for scrypt; Iterations is the time cost for Argon2id, the
// round count for PBKDF2 and the block size r for scrypt.
type KdfParams struct {
	Algorithm    KdfAlgorithm `cbor:"1,keyasint" koanf:"algorithm"`
	SaltSize     int          `cbor:"2,keyasint" koanf:"salt_size"`
	Iterations   uint32       `cbor:"3,keyasint" koanf:"iterations"`
	MemoryCost   uint32       `cbor:"4,keyasint" koanf:"memory_cost"`
	Parallelism  uint8        `cbor:"5,keyasint" koanf:"parallelism"`
	OutputLength int          `cbor:"6,keyasint" koanf:"output_length"`
}

func DefaultKdfParams() KdfParams {
	return KdfParams{Algorithm: KdfArgon2id, SaltSize: 32, Iterations: 3, MemoryCost: 65536, Parallelism: 4, OutputLength: 32}
}

func HighSecurityKdfParams() KdfParams {
	return KdfParams{Algorithm: KdfArgon2id, SaltSize: 32, Iterations: 5, MemoryCost: 131072, Parallelism: 8, OutputLength: 64}
}

// FastKdfParams is intended for tests and low-value keys only.
func FastKdfParams() KdfParams {
	return KdfParams{Algorithm: KdfArgon2id, SaltSize: 16, Iterations: 1, MemoryCost: 8192, Parallelism: 1, OutputLength: 32}
}

func (p KdfParams) Validate() error {
	if p.SaltSize < 16 || p.SaltSize > 64 {
		return fmt.Errorf("%w: salt size %d outside [16,64]", ErrInvalidKdfParams, p.SaltSize)
	}
	if p.OutputLength < 16 || p.OutputLength > 128 {
		return fmt.Errorf("%w: output length %d outside [16,128]", ErrInvalidKdfParams, p.OutputLength)
	}
	switch p.Algorithm {
	case KdfArgon2id:
		if p.MemoryCost < 8192 {
			return fmt.Errorf("%w: argon2id memory cost %d below 8192", ErrInvalidKdfParams, p.MemoryCost)
		}
		if p.Parallelism < 1 {
			return fmt.Errorf("%w: argon2id parallelism must be at least 1", ErrInvalidKdfParams)
		}
		if p.Iterations < 1 {
			return fmt.Errorf("%w: argon2id time cost must be at least 1", ErrInvalidKdfParams)
		}
	case KdfScrypt:
		if p.MemoryCost < 1024 || p.MemoryCost&(p.MemoryCost-1) != 0 {
			return fmt.Errorf("%w: scrypt cost %d must be a power of two >= 1024", ErrInvalidKdfParams, p.MemoryCost)
		}
		if p.Parallelism < 1 {
			return fmt.Errorf("%w: scrypt parallelism must be at least 1", ErrInvalidKdfParams)
		}
	case KdfPBKDF2:
		if p.Iterations < 1000 {
			return fmt.Errorf("%w: pbkdf2 iterations %d below 1000", ErrInvalidKdfParams, p.Iterations)
		}
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidKdfParams, p.Algorithm)
	}
	return nil
}

// DerivedKey is the output of a derivation together with what is needed to
// reproduce it.
type DerivedKey struct {
	KeyMaterial *SecureBytes
	Salt        []byte
	Params      KdfParams
}

func (k *DerivedKey) Destroy() {
	if k != nil {
		k.KeyMaterial.Destroy()
	}
}

// KeyDerivationManager derives keys from passwords and audits each
// derivation as a KeyGeneration event.
type KeyDerivationManager struct {
	params KdfParams
	rng    *SecureRng
	audit  *audit.Logger
}

func NewKeyDerivationManager(params KdfParams, rng *SecureRng, auditLog *audit.Logger) (*KeyDerivationManager, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, ErrNullSource
	}
	return &KeyDerivationManager{params: params, rng: rng, audit: auditLog}, nil
}

func (m *KeyDerivationManager) Params() KdfParams { return m.params }

// DeriveKey derives a key under a fresh random salt.
func (m *KeyDerivationManager) DeriveKey(password []byte) (*DerivedKey, error) {
	salt := make([]byte, m.params.SaltSize)
	if err := m.rng.FillBytes(salt); err != nil {
		return nil, err
	}
	return m.DeriveKeyWithSalt(password, salt)
}

// DeriveKeyWithSalt derives a key under the given salt, which must match the
// configured salt size.
func (m *KeyDerivationManager) DeriveKeyWithSalt(password, salt []byte) (*DerivedKey, error) {
	if len(salt) != m.params.SaltSize {
		return nil, fmt.Errorf("%w: salt is %d bytes, expected %d", ErrInvalidKdfParams, len(salt), m.params.SaltSize)
	}
	start := time.Now()
	key, err := deriveKey(m.params, password, salt)
	if err != nil {
		return nil, err
	}
	if m.audit != nil {
		m.audit.Info(audit.KeyGeneration{
			Algorithm:   string(m.params.Algorithm),
			KeySize:     uint32(m.params.OutputLength * 8),
			Operation:   "derive_key",
			KeyType:     "password_derived",
			DurationMs:  uint64(time.Since(start).Milliseconds()),
			EntropyBits: uint32(len(salt) * 8),
		}, "kdf")
	}
	return &DerivedKey{
		KeyMaterial: NewSecureBytes(key),
		Salt:        append([]byte(nil), salt...),
		Params:      m.params,
	}, nil
}

// VerifyKey re-derives with the stored salt and parameters and compares in
// constant time.
func (m *KeyDerivationManager) VerifyKey(password []byte, stored *DerivedKey) (bool, error) {
	if stored == nil || stored.KeyMaterial == nil {
		return false, ErrNullSource
	}
	if err := stored.Params.Validate(); err != nil {
		return false, err
	}
	candidate, err := deriveKey(stored.Params, password, stored.Salt)
	if err != nil {
		return false, err
	}
	defer SecureZero(candidate)
	return ConstantTimeEq(candidate, stored.KeyMaterial.Bytes()), nil
}

func deriveKey(p KdfParams, password, salt []byte) ([]byte, error) {
	switch p.Algorithm {
	case KdfArgon2id:
		return argon2.IDKey(password, salt, p.Iterations, p.MemoryCost, p.Parallelism, uint32(p.OutputLength)), nil
	case KdfPBKDF2:
		return pbkdf2.Key(password, salt, int(p.Iterations), p.OutputLength, sha256.New), nil
	case KdfScrypt:
		r := int(p.Iterations)
		if r == 0 {
			r = 8
		}
		key, err := scrypt.Key(password, salt, int(p.MemoryCost), r, int(p.Parallelism), p.OutputLength)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKdfParams, err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidKdfParams, p.Algorithm)
}
