package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/ruteri/tee-wallet-kms/audit"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/security"
	"github.com/ruteri/tee-wallet-kms/seedcache"
	"github.com/tyler-smith/go-bip39"
)

const (
	component   = "wallet_core"
	EntropySize = 32
)

// Deps are the collaborators shared by every wallet.
type Deps struct {
	Security *security.Manager
	// Seeds is optional; without it every derivation re-expands the mnemonic.
	Seeds *seedcache.Cache
	Log   *slog.Logger
	Now   func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// Core is one HD wallet. Only its 32-byte entropy is kept; the mnemonic,
// seed and keys are re-derived on every use and zeroed afterwards.
type Core struct {
	mu          sync.Mutex
	id          string
	entropy     *security.SecureBytes
	createdAt   int64
	lastUsedAt  int64
	derivations uint32
	deps        Deps
}

// NewCore draws fresh entropy from rng.
func NewCore(rng *security.SecureRng, deps Deps) (*Core, error) {
	entropy := make([]byte, EntropySize)
	if err := rng.FillBytes(entropy); err != nil {
		security.SecureZero(entropy)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInsufficientEntropy, err)
	}
	now := deps.now().Unix()
	c := &Core{
		id:         uuid.NewString(),
		entropy:    security.NewSecureBytes(entropy),
		createdAt:  now,
		lastUsedAt: now,
		deps:       deps,
	}
	deps.Security.AuditInfo(audit.KeyGeneration{
		Algorithm:   "bip39",
		KeySize:     EntropySize * 8,
		Operation:   "create_wallet",
		KeyType:     "hd_wallet_entropy",
		EntropyBits: EntropySize * 8,
	}, component)
	return c, nil
}

func (c *Core) ID() string { return c.id }

func (c *Core) CreatedAt() int64 { return c.createdAt }

func (c *Core) LastUsedAt() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsedAt
}

func (c *Core) Derivations() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.derivations
}

func (c *Core) Info() interfaces.WalletInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return interfaces.WalletInfo{
		WalletID:         c.id,
		CreatedAt:        c.createdAt,
		LastUsedAt:       c.lastUsedAt,
		DerivationsCount: c.derivations,
	}
}

// Mnemonic exports the BIP39 phrase. Every call is audited as a high risk
// operation.
func (c *Core) Mnemonic() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.mnemonic()
	c.deps.Security.AuditSecurity(audit.SecurityOperation{
		Operation: "mnemonic_export",
		Details:   "wallet " + c.id,
		Success:   err == nil,
		RiskLevel: audit.RiskHigh,
	}, component)
	return m, err
}

func (c *Core) mnemonic() (string, error) {
	if c.entropy.Destroyed() {
		return "", fmt.Errorf("%w: wallet %s destroyed", interfaces.ErrBadState, c.id)
	}
	m, err := bip39.NewMnemonic(c.entropy.Bytes())
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrKeyDerivationFailed, err)
	}
	return m, nil
}

func (c *Core) seed() ([seedcache.SeedSize]byte, error) {
	m, err := c.mnemonic()
	if err != nil {
		return [seedcache.SeedSize]byte{}, err
	}
	if c.deps.Seeds != nil {
		return c.deps.Seeds.GetOrCompute(m, expandSeed)
	}
	return expandSeed(m)
}

func expandSeed(mnemonic string) ([seedcache.SeedSize]byte, error) {
	var out [seedcache.SeedSize]byte
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return out, fmt.Errorf("%w: %v", interfaces.ErrKeyDerivationFailed, err)
	}
	copy(out[:], seed)
	security.SecureZero(seed)
	return out, nil
}

// DerivePrivateKey walks the BIP32 tree to path and returns the raw 32-byte
// secp256k1 scalar.
func (c *Core) DerivePrivateKey(path HDPath) (*security.SecureBytes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, err := c.derivePrivateKey(path)
	if err != nil {
		return nil, err
	}
	c.touch()
	return key, nil
}

func (c *Core) derivePrivateKey(path HDPath) (*security.SecureBytes, error) {
	seed, err := c.seed()
	if err != nil {
		return nil, err
	}
	defer security.SecureZero(seed[:])
	return deriveFromSeed(seed[:], path)
}

func deriveFromSeed(seed []byte, path HDPath) (*security.SecureBytes, error) {
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %v", interfaces.ErrKeyDerivationFailed, err)
	}
	for _, index := range path {
		child, err := key.Derive(index)
		key.Zero()
		if err != nil {
			return nil, fmt.Errorf("%w: child %d of %s: %v", interfaces.ErrKeyDerivationFailed, index, path, err)
		}
		key = child
	}
	defer key.Zero()

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrKeyDerivationFailed, err)
	}
	defer priv.Zero()
	return security.NewSecureBytes(priv.Serialize()), nil
}

func (c *Core) ecdsaKey(path HDPath) (*ecdsa.PrivateKey, error) {
	raw, err := c.derivePrivateKey(path)
	if err != nil {
		return nil, err
	}
	defer raw.Destroy()
	priv, err := crypto.ToECDSA(raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidKey, err)
	}
	return priv, nil
}

// DerivePublicKey returns the 65-byte uncompressed public key at path.
func (c *Core) DerivePublicKey(path HDPath) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	priv, err := c.ecdsaKey(path)
	if err != nil {
		return nil, err
	}
	defer priv.D.SetInt64(0)
	c.touch()
	return crypto.FromECDSAPub(&priv.PublicKey), nil
}

// DeriveAddress returns Keccak-256(pubkey without 0x04 prefix)[12:].
func (c *Core) DeriveAddress(path HDPath) (common.Address, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	priv, err := c.ecdsaKey(path)
	if err != nil {
		return common.Address{}, nil, err
	}
	defer priv.D.SetInt64(0)
	c.touch()
	return crypto.PubkeyToAddress(priv.PublicKey), crypto.FromECDSAPub(&priv.PublicKey), nil
}

// SignTransaction signs tx as an EIP-155 protected legacy transaction with
// the key at path. Each call emits exactly one SignOperation audit entry.
func (c *Core) SignTransaction(path HDPath, tx *interfaces.EthTransaction) (*types.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	chainID := new(big.Int).SetUint64(tx.ChainID)
	signer := types.NewEIP155Signer(chainID)
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    tx.Nonce,
		GasPrice: bigOrZero(tx.GasPrice),
		Gas:      tx.Gas,
		To:       tx.To,
		Value:    bigOrZero(tx.Value),
		Data:     tx.Data,
	})
	digest := signer.Hash(unsigned)

	priv, err := c.ecdsaKey(path)
	if err != nil {
		c.deps.Security.AuditError(audit.SignOperation{MessageHash: digest.Hex(), Success: false}, component)
		return nil, err
	}
	defer priv.D.SetInt64(0)

	signed, err := types.SignTx(unsigned, signer, priv)
	if err != nil {
		c.deps.Security.AuditError(audit.SignOperation{MessageHash: digest.Hex(), Success: false}, component)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCryptographic, err)
	}

	c.touch()
	c.deps.Security.AuditInfo(audit.SignOperation{MessageHash: digest.Hex(), Success: true}, component)
	if c.deps.Log != nil {
		c.deps.Log.Debug("Transaction signed",
			slog.String("walletID", c.id),
			slog.String("path", path.String()),
			slog.String("txHash", signed.Hash().Hex()))
	}
	return signed, nil
}

// touch must be called with c.mu held.
func (c *Core) touch() {
	c.lastUsedAt = c.deps.now().Unix()
	c.derivations++
}

// Destroy zeroes the wallet entropy. The wallet is unusable afterwards.
func (c *Core) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entropy.Destroy()
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

type record struct {
	ID          string `cbor:"1,keyasint"`
	Entropy     []byte `cbor:"2,keyasint"`
	CreatedAt   int64  `cbor:"3,keyasint"`
	LastUsedAt  int64  `cbor:"4,keyasint"`
	Derivations uint32 `cbor:"5,keyasint"`
}

// MarshalRecord encodes the wallet for the secure store. The result contains
// the raw entropy and must only be written to a sealed store; callers zero it
// after use.
func (c *Core) MarshalRecord() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entropy.Destroyed() {
		return nil, fmt.Errorf("%w: wallet %s destroyed", interfaces.ErrBadState, c.id)
	}
	raw, err := cbor.Marshal(record{
		ID:          c.id,
		Entropy:     c.entropy.Bytes(),
		CreatedAt:   c.createdAt,
		LastUsedAt:  c.lastUsedAt,
		Derivations: c.derivations,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSerialization, err)
	}
	return raw, nil
}

// UnmarshalCore restores a wallet from MarshalRecord output.
func UnmarshalCore(raw []byte, deps Deps) (*Core, error) {
	var r record
	if err := cbor.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: wallet record: %v", interfaces.ErrSerialization, err)
	}
	if len(r.Entropy) != EntropySize {
		security.SecureZero(r.Entropy)
		return nil, fmt.Errorf("%w: wallet entropy must be %d bytes", interfaces.ErrSerialization, EntropySize)
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		security.SecureZero(r.Entropy)
		return nil, fmt.Errorf("%w: wallet id: %v", interfaces.ErrSerialization, err)
	}
	return &Core{
		id:          r.ID,
		entropy:     security.NewSecureBytes(r.Entropy),
		createdAt:   r.CreatedAt,
		lastUsedAt:  r.LastUsedAt,
		derivations: r.Derivations,
		deps:        deps,
	}, nil
}

// SignatureBytes returns r || s || v for a signed legacy transaction with
// v = recovery id + 27.
func SignatureBytes(tx *types.Transaction) ([65]byte, error) {
	var sig [65]byte
	v, r, s := tx.RawSignatureValues()
	if r == nil || s == nil || r.Sign() == 0 {
		return sig, fmt.Errorf("%w: transaction is not signed", interfaces.ErrInvalidInput)
	}
	recID, err := recoveryID(tx, v)
	if err != nil {
		return sig, err
	}
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = recID + 27
	return sig, nil
}

func recoveryID(tx *types.Transaction, v *big.Int) (byte, error) {
	id := new(big.Int).Set(v)
	if tx.Protected() {
		id.Sub(id, new(big.Int).Add(new(big.Int).Lsh(tx.ChainId(), 1), big.NewInt(35)))
	} else {
		id.Sub(id, big.NewInt(27))
	}
	if !id.IsUint64() || id.Uint64() > 1 {
		return 0, fmt.Errorf("%w: invalid signature v %s", interfaces.ErrCryptographic, v)
	}
	return byte(id.Uint64()), nil
}

// VerifySignedTransaction recovers the signer of tx and returns its address
// and uncompressed public key.
func VerifySignedTransaction(tx *types.Transaction) (common.Address, []byte, error) {
	sig, err := SignatureBytes(tx)
	if err != nil {
		return common.Address{}, nil, err
	}
	sig[64] -= 27

	signer := types.LatestSignerForChainID(tx.ChainId())
	if !tx.Protected() {
		signer = types.HomesteadSigner{}
	}
	hash := signer.Hash(tx)
	pub, err := crypto.Ecrecover(hash[:], sig[:])
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", interfaces.ErrCryptographic, err)
	}
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", interfaces.ErrCryptographic, err)
	}
	if common.BytesToAddress(crypto.Keccak256(pub[1:])[12:]) != sender {
		return common.Address{}, nil, fmt.Errorf("%w: recovered key does not match sender", interfaces.ErrCryptographic)
	}
	return sender, pub, nil
}
