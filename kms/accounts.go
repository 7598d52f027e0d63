package kms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/ruteri/tee-wallet-kms/audit"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/security"
)

// HybridAccount is the persisted record of an account whose key is derived
// by the hybrid entropy engine. TeeRandom is secret; the record must only be
// written to a sealed store.
type HybridAccount struct {
	AccountID        string         `cbor:"1,keyasint"`
	UserEmail        string         `cbor:"2,keyasint"`
	PasskeyPublicKey []byte         `cbor:"3,keyasint"`
	CredentialID     string         `cbor:"4,keyasint,omitempty"`
	TeeRandom        []byte         `cbor:"5,keyasint"`
	Address          common.Address `cbor:"6,keyasint"`
	CreatedAt        int64          `cbor:"7,keyasint"`
}

func (a *HybridAccount) zero() {
	security.SecureZero(a.TeeRandom)
}

// AccountRegistry creates hybrid accounts and signs on their behalf. Each
// account keeps the TEE random drawn at creation so its key can be
// re-derived after the engine restarts.
type AccountRegistry struct {
	mu     sync.Mutex
	store  interfaces.SecureStore
	signer interfaces.AccountSigner
	random func() (*security.SecureBytes, error)
	sec    *security.Manager
	log    *slog.Logger
	now    func() time.Time
}

// NewAccountRegistry persists accounts in store and derives keys with engine.
func NewAccountRegistry(engine *HybridEntropyEngine, store interfaces.SecureStore, mgr *security.Manager, log *slog.Logger) *AccountRegistry {
	return &AccountRegistry{
		store:  store,
		signer: engine,
		random: engine.NewAccountRandom,
		sec:    mgr,
		log:    log,
		now:    time.Now,
	}
}

// CreateAccount draws a TEE random, derives the account address and persists
// the record.
func (r *AccountRegistry) CreateAccount(ctx context.Context, email string, passkeyPublicKey []byte, credentialID string) (*HybridAccount, error) {
	if email == "" || len(passkeyPublicKey) == 0 {
		return nil, fmt.Errorf("%w: email and passkey public key are required", interfaces.ErrInvalidInput)
	}

	teeRandom, err := r.random()
	if err != nil {
		return nil, err
	}
	defer teeRandom.Destroy()

	addr, err := r.signer.DeriveAccountAddress(email, passkeyPublicKey, teeRandom.Bytes())
	if err != nil {
		return nil, err
	}

	account := &HybridAccount{
		AccountID:        uuid.NewString(),
		UserEmail:        email,
		PasskeyPublicKey: slices.Clone(passkeyPublicKey),
		CredentialID:     credentialID,
		TeeRandom:        slices.Clone(teeRandom.Bytes()),
		Address:          addr,
		CreatedAt:        r.now().Unix(),
	}
	defer account.zero()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.put(ctx, account); err != nil {
		return nil, err
	}
	if err := r.addToIndex(ctx, account.AccountID); err != nil {
		_ = r.store.Delete(ctx, interfaces.AccountKey(account.AccountID))
		return nil, err
	}

	r.sec.AuditInfo(audit.Authentication{UserID: account.AccountID, Success: true, Method: "passkey_registration"}, "account_registry")
	r.log.Info("Hybrid account created", "accountID", account.AccountID, "address", addr.Hex())

	out := *account
	out.TeeRandom = nil
	return &out, nil
}

// Account loads the public part of an account; TeeRandom is not returned.
func (r *AccountRegistry) Account(ctx context.Context, accountID string) (*HybridAccount, error) {
	account, err := r.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account.zero()
	account.TeeRandom = nil
	return account, nil
}

// SignWithAccount re-derives the account key and signs digest.
func (r *AccountRegistry) SignWithAccount(ctx context.Context, accountID string, digest [32]byte) ([65]byte, error) {
	account, err := r.load(ctx, accountID)
	if err != nil {
		return [65]byte{}, err
	}
	defer account.zero()
	return r.signer.SignDigest(account.UserEmail, account.PasskeyPublicKey, account.TeeRandom, digest[:])
}

// Accounts lists the ids of all persisted accounts.
func (r *AccountRegistry) Accounts(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index(ctx)
}

func (r *AccountRegistry) load(ctx context.Context, accountID string) (*HybridAccount, error) {
	if _, err := uuid.Parse(accountID); err != nil {
		return nil, fmt.Errorf("%w: malformed account id", interfaces.ErrInvalidInput)
	}
	raw, err := r.store.Get(ctx, interfaces.AccountKey(accountID))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	var account HybridAccount
	if err := cbor.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("%w: account record: %v", interfaces.ErrSerialization, err)
	}
	return &account, nil
}

func (r *AccountRegistry) put(ctx context.Context, account *HybridAccount) error {
	raw, err := cbor.Marshal(account)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrSerialization, err)
	}
	defer security.SecureZero(raw)
	if err := r.store.Put(ctx, interfaces.AccountKey(account.AccountID), raw); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	return nil
}

func (r *AccountRegistry) index(ctx context.Context) ([]string, error) {
	raw, err := r.store.Get(ctx, interfaces.AccountIndexKey)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	var ids []string
	if err := cbor.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("%w: account index: %v", interfaces.ErrSerialization, err)
	}
	return ids, nil
}

func (r *AccountRegistry) addToIndex(ctx context.Context, id string) error {
	ids, err := r.index(ctx)
	if err != nil {
		return err
	}
	raw, err := cbor.Marshal(append(ids, id))
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrSerialization, err)
	}
	if err := r.store.Put(ctx, interfaces.AccountIndexKey, raw); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	return nil
}
