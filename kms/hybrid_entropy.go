package kms

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-wallet-kms/audit"
	"github.com/ruteri/tee-wallet-kms/cryptoutils"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/security"
)

const (
	hybridDomainSeparator = "AirAccount-HybridEntropy-v1.0"
	sealingKeyDomain      = "walletd-sealing-v1/"
	component             = "hybrid_entropy"
)

// HybridEntropyEngine derives per-user account keys inside the TEE from
//
//	SHA-256(factory_seed || tee_random || SHA-256(email) || SHA-256(passkey_pub) || domain)
//
// The factory seed is read once at Initialize; the epoch random is drawn at
// Initialize too, so DeriveUserAccountKey is deterministic until the engine
// is re-initialised. Accounts that must survive restarts persist their own
// TEE random and derive with DeriveUserAccountKeyWithRandom.
type HybridEntropyEngine struct {
	mu          sync.RWMutex
	initialized bool
	factorySeed *security.SecureBytes
	epochRandom *security.SecureBytes

	factory  interfaces.FactorySeedSource
	hwrng    io.Reader
	security *security.Manager
	log      *slog.Logger
}

// NewHybridEntropyEngine creates an uninitialised engine using the
// deterministic domain factory seed and the OS random source.
func NewHybridEntropyEngine(mgr *security.Manager, log *slog.Logger) *HybridEntropyEngine {
	return &HybridEntropyEngine{
		factory:  DomainFactorySeed{},
		hwrng:    rand.Reader,
		security: mgr,
		log:      log,
	}
}

// WithFactorySeedSource returns an uninitialised copy reading its factory
// seed from src.
func (e *HybridEntropyEngine) WithFactorySeedSource(src interfaces.FactorySeedSource) *HybridEntropyEngine {
	return &HybridEntropyEngine{factory: src, hwrng: e.hwrng, security: e.security, log: e.log}
}

// WithHardwareRandom returns an uninitialised copy drawing TEE random values
// from r.
func (e *HybridEntropyEngine) WithHardwareRandom(r io.Reader) *HybridEntropyEngine {
	return &HybridEntropyEngine{factory: e.factory, hwrng: r, security: e.security, log: e.log}
}

// Initialize reads and checks the factory seed and draws the epoch random.
// Entropy failures are audited at Security level and reported as
// ErrInsufficientEntropy.
func (e *HybridEntropyEngine) Initialize() error {
	start := time.Now()

	seed, err := e.factory.FactorySeed()
	if err != nil {
		return fmt.Errorf("failed to read factory seed from %s: %w", e.factory.Name(), err)
	}
	defer security.SecureZero(seed[:])
	if err := checkEntropy(seed[:]); err != nil {
		e.reportWeakEntropy("factory_seed", err)
		return fmt.Errorf("%w: factory seed: %v", interfaces.ErrInsufficientEntropy, err)
	}

	epoch, err := e.drawTEERandom()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.factorySeed.Destroy()
	e.epochRandom.Destroy()
	e.factorySeed = security.CopySecureBytes(seed[:])
	e.epochRandom = epoch
	e.initialized = true
	e.mu.Unlock()

	e.security.AuditInfo(audit.TEEOperation{
		Operation:  "hybrid_entropy_init",
		DurationMs: uint64(time.Since(start).Milliseconds()),
		Success:    true,
	}, component)
	e.log.Info("Hybrid entropy engine initialized", "factorySeedSource", e.factory.Name())
	return nil
}

func (e *HybridEntropyEngine) IsInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// NewAccountRandom draws a fresh checked 32-byte TEE random for a new account.
func (e *HybridEntropyEngine) NewAccountRandom() (*security.SecureBytes, error) {
	if !e.IsInitialized() {
		return nil, interfaces.ErrNotInitialized
	}
	return e.drawTEERandom()
}

// DeriveUserAccountKey derives the account key with the current epoch random.
func (e *HybridEntropyEngine) DeriveUserAccountKey(email string, passkeyPublicKey []byte) (*security.SecureBytes, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, interfaces.ErrNotInitialized
	}
	return e.derive(email, passkeyPublicKey, e.epochRandom.Bytes())
}

// DeriveUserAccountKeyWithRandom derives the account key with a persisted
// TEE random.
func (e *HybridEntropyEngine) DeriveUserAccountKeyWithRandom(email string, passkeyPublicKey []byte, teeRandom []byte) (*security.SecureBytes, error) {
	if len(teeRandom) != 32 {
		return nil, fmt.Errorf("%w: tee random must be 32 bytes", interfaces.ErrInvalidInput)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, interfaces.ErrNotInitialized
	}
	return e.derive(email, passkeyPublicKey, teeRandom)
}

// derive must be called with e.mu held.
func (e *HybridEntropyEngine) derive(email string, passkeyPublicKey []byte, teeRandom []byte) (*security.SecureBytes, error) {
	if email == "" || len(passkeyPublicKey) == 0 {
		return nil, fmt.Errorf("%w: email and passkey public key are required", interfaces.ErrInvalidInput)
	}
	start := time.Now()

	input, err := e.security.CreateSecureMemory(4*sha256.Size + len(hybridDomainSeparator))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCryptographic, err)
	}
	defer input.Destroy()

	emailHash := sha256.Sum256([]byte(email))
	passkeyHash := sha256.Sum256(passkeyPublicKey)
	buf := input.Bytes()
	n := copy(buf, e.factorySeed.Bytes())
	n += copy(buf[n:], teeRandom)
	n += copy(buf[n:], emailHash[:])
	n += copy(buf[n:], passkeyHash[:])
	copy(buf[n:], hybridDomainSeparator)

	key := sha256.Sum256(buf)
	out := security.CopySecureBytes(key[:])
	security.SecureZero(key[:])

	e.security.AuditInfo(audit.KeyGeneration{
		Algorithm:   "sha256-hybrid",
		KeySize:     256,
		Operation:   "derive_user_account_key",
		KeyType:     "secp256k1",
		DurationMs:  uint64(time.Since(start).Milliseconds()),
		EntropyBits: 256,
	}, component)
	return out, nil
}

// DeriveEthereumAddress returns Keccak-256(uncompressed pubkey)[12:] of key.
func (e *HybridEntropyEngine) DeriveEthereumAddress(key *security.SecureBytes) (common.Address, error) {
	priv, err := crypto.ToECDSA(key.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidKey, err)
	}
	defer priv.D.SetInt64(0)
	return crypto.PubkeyToAddress(priv.PublicKey), nil
}

// SignTransactionSecure signs a 32-byte digest with secp256k1 ECDSA and
// returns r || s || v with v = recovery id + 27.
func (e *HybridEntropyEngine) SignTransactionSecure(key *security.SecureBytes, digest []byte) ([65]byte, error) {
	var sig [65]byte
	if !e.IsInitialized() {
		return sig, interfaces.ErrNotInitialized
	}
	if len(digest) != 32 {
		return sig, fmt.Errorf("%w: digest must be 32 bytes, got %d", interfaces.ErrInvalidInput, len(digest))
	}

	digestHex := hex.EncodeToString(digest)
	priv, err := crypto.ToECDSA(key.Bytes())
	if err != nil {
		e.security.AuditError(audit.SignOperation{MessageHash: digestHex, Success: false}, component)
		return sig, fmt.Errorf("%w: %v", interfaces.ErrInvalidKey, err)
	}
	defer priv.D.SetInt64(0)

	raw, err := crypto.Sign(digest, priv)
	if err != nil {
		e.security.AuditError(audit.SignOperation{MessageHash: digestHex, Success: false}, component)
		return sig, fmt.Errorf("%w: %v", interfaces.ErrCryptographic, err)
	}
	copy(sig[:], raw)
	sig[64] += 27

	e.security.AuditInfo(audit.SignOperation{MessageHash: digestHex, Success: true}, component)
	return sig, nil
}

// VerifySecurityState checks that the engine is initialised, the random
// source produces non-zero output and secure memory can be allocated.
func (e *HybridEntropyEngine) VerifySecurityState() error {
	if !e.IsInitialized() {
		return interfaces.ErrNotInitialized
	}
	var probe [16]byte
	if _, err := io.ReadFull(e.hwrng, probe[:]); err != nil {
		return fmt.Errorf("%w: random source failed: %v", interfaces.ErrSecurityViolation, err)
	}
	if probe == [16]byte{} {
		e.reportWeakEntropy("random_probe", errAllZero)
		return fmt.Errorf("%w: random source returned zeros", interfaces.ErrInsufficientEntropy)
	}
	mem, err := e.security.CreateSecureMemory(256)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrSecurityViolation, err)
	}
	mem.Destroy()
	return nil
}

// SealingKey derives a 32-byte key for purpose from the factory seed. Data
// sealed under it can only be opened on the same device.
func (e *HybridEntropyEngine) SealingKey(purpose string) (*security.SecureBytes, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, interfaces.ErrNotInitialized
	}
	key, err := cryptoutils.DeriveSubkey(e.factorySeed.Bytes(), nil, sealingKeyDomain+purpose, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrKeyDerivationFailed, err)
	}
	return security.NewSecureBytes(key), nil
}

// DeriveAccountAddress implements interfaces.AccountSigner.
func (e *HybridEntropyEngine) DeriveAccountAddress(email string, passkeyPublicKey []byte, teeRandom []byte) (common.Address, error) {
	key, err := e.DeriveUserAccountKeyWithRandom(email, passkeyPublicKey, teeRandom)
	if err != nil {
		return common.Address{}, err
	}
	defer key.Destroy()
	return e.DeriveEthereumAddress(key)
}

// SignDigest implements interfaces.AccountSigner.
func (e *HybridEntropyEngine) SignDigest(email string, passkeyPublicKey []byte, teeRandom []byte, digest []byte) ([65]byte, error) {
	key, err := e.DeriveUserAccountKeyWithRandom(email, passkeyPublicKey, teeRandom)
	if err != nil {
		return [65]byte{}, err
	}
	defer key.Destroy()
	return e.SignTransactionSecure(key, digest)
}

// Destroy zeroes the factory seed and epoch random.
func (e *HybridEntropyEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factorySeed.Destroy()
	e.epochRandom.Destroy()
	e.factorySeed, e.epochRandom = nil, nil
	e.initialized = false
}

func (e *HybridEntropyEngine) drawTEERandom() (*security.SecureBytes, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(e.hwrng, buf); err != nil {
		return nil, fmt.Errorf("%w: failed to read TEE random: %v", interfaces.ErrInsufficientEntropy, err)
	}
	if err := checkEntropy(buf); err != nil {
		security.SecureZero(buf)
		e.reportWeakEntropy("tee_random", err)
		return nil, fmt.Errorf("%w: tee random: %v", interfaces.ErrInsufficientEntropy, err)
	}
	return security.NewSecureBytes(buf), nil
}

func (e *HybridEntropyEngine) reportWeakEntropy(source string, cause error) {
	details := source + ": " + cause.Error()
	e.security.AuditSecurity(audit.SecurityViolation{ViolationType: "insufficient_entropy", Details: details}, component)
	e.log.Error("Entropy check failed", "source", source, "err", cause)
}

var _ interfaces.AccountSigner = (*HybridEntropyEngine)(nil)
