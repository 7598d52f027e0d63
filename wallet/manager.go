package wallet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/security"
)

const DefaultMaxWallets = 100

type ManagerOptions struct {
	MaxWallets int
}

// Manager owns the wallets persisted in a SecureStore. The id list lives
// under interfaces.WalletIndexKey and each wallet under WalletKey(id).
// Loaded wallets stay in memory until removed or the manager is closed.
type Manager struct {
	mu      sync.Mutex
	store   interfaces.SecureStore
	deps    Deps
	max     int
	index   []string
	wallets map[string]*Core
}

// NewManager loads the wallet index from store.
func NewManager(ctx context.Context, store interfaces.SecureStore, deps Deps, opts ManagerOptions) (*Manager, error) {
	if opts.MaxWallets <= 0 {
		opts.MaxWallets = DefaultMaxWallets
	}
	m := &Manager{
		store:   store,
		deps:    deps,
		max:     opts.MaxWallets,
		wallets: make(map[string]*Core),
	}

	raw, err := store.Get(ctx, interfaces.WalletIndexKey)
	switch {
	case errors.Is(err, interfaces.ErrKeyNotFound):
	case err != nil:
		return nil, fmt.Errorf("%w: wallet index: %w", interfaces.ErrStorage, err)
	default:
		if err := cbor.Unmarshal(raw, &m.index); err != nil {
			return nil, fmt.Errorf("%w: wallet index: %v", interfaces.ErrSerialization, err)
		}
	}
	return m, nil
}

// Create generates and persists a new wallet.
func (m *Manager) Create(ctx context.Context) (*Core, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.index) >= m.max {
		return nil, fmt.Errorf("%w: %d wallets", interfaces.ErrWalletLimit, m.max)
	}

	core, err := NewCore(m.deps.Security.Rng(), m.deps)
	if err != nil {
		return nil, err
	}
	if err := m.persist(ctx, core); err != nil {
		core.Destroy()
		return nil, err
	}

	index := append(slices.Clone(m.index), core.ID())
	if err := m.writeIndex(ctx, index); err != nil {
		_ = m.store.Delete(ctx, interfaces.WalletKey(core.ID()))
		core.Destroy()
		return nil, err
	}
	m.index = index
	m.wallets[core.ID()] = core

	if m.deps.Log != nil {
		m.deps.Log.Info("Wallet created", "walletID", core.ID())
	}
	return core, nil
}

// Get returns a loaded wallet, reading it from the store on first use.
func (m *Manager) Get(ctx context.Context, walletID string) (*Core, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(ctx, walletID)
}

func (m *Manager) get(ctx context.Context, walletID string) (*Core, error) {
	if _, err := uuid.Parse(walletID); err != nil {
		return nil, fmt.Errorf("%w: malformed wallet id", interfaces.ErrInvalidInput)
	}
	if core, ok := m.wallets[walletID]; ok {
		return core, nil
	}
	if !slices.Contains(m.index, walletID) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrWalletNotFound, walletID)
	}

	raw, err := m.store.Get(ctx, interfaces.WalletKey(walletID))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s indexed but missing from store", interfaces.ErrWalletNotFound, walletID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	defer security.SecureZero(raw)

	core, err := UnmarshalCore(raw, m.deps)
	if err != nil {
		return nil, err
	}
	if core.ID() != walletID {
		core.Destroy()
		return nil, fmt.Errorf("%w: record under %s belongs to %s", interfaces.ErrSecurityViolation, walletID, core.ID())
	}
	m.wallets[walletID] = core
	return core, nil
}

// Remove deletes a wallet and zeroes its entropy. Removing an unknown
// wallet returns ErrWalletNotFound.
func (m *Manager) Remove(ctx context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := uuid.Parse(walletID); err != nil {
		return fmt.Errorf("%w: malformed wallet id", interfaces.ErrInvalidInput)
	}
	pos := slices.Index(m.index, walletID)
	if pos < 0 {
		return fmt.Errorf("%w: %s", interfaces.ErrWalletNotFound, walletID)
	}

	index := slices.Delete(slices.Clone(m.index), pos, pos+1)
	if err := m.writeIndex(ctx, index); err != nil {
		return err
	}
	m.index = index

	if err := m.store.Delete(ctx, interfaces.WalletKey(walletID)); err != nil {
		// The wallet is already unreachable through the index.
		if m.deps.Log != nil {
			m.deps.Log.Warn("Failed to delete wallet blob", "walletID", walletID, "err", err)
		}
	}
	if core, ok := m.wallets[walletID]; ok {
		core.Destroy()
		delete(m.wallets, walletID)
	}
	if m.deps.Log != nil {
		m.deps.Log.Info("Wallet removed", "walletID", walletID)
	}
	return nil
}

func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.index)
}

func (m *Manager) Info(ctx context.Context, walletID string) (interfaces.WalletInfo, error) {
	core, err := m.Get(ctx, walletID)
	if err != nil {
		return interfaces.WalletInfo{}, err
	}
	return core.Info(), nil
}

// DeriveAddress derives the address and public key at path and persists the
// updated usage counters.
func (m *Manager) DeriveAddress(ctx context.Context, walletID string, path HDPath) (common.Address, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	core, err := m.get(ctx, walletID)
	if err != nil {
		return common.Address{}, nil, err
	}
	addr, pub, err := core.DeriveAddress(path)
	if err != nil {
		return common.Address{}, nil, err
	}
	if err := m.persist(ctx, core); err != nil {
		return common.Address{}, nil, err
	}
	return addr, pub, nil
}

func (m *Manager) SignTransaction(ctx context.Context, walletID string, path HDPath, tx *interfaces.EthTransaction) (*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	core, err := m.get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	signed, err := core.SignTransaction(path, tx)
	if err != nil {
		return nil, err
	}
	if err := m.persist(ctx, core); err != nil {
		return nil, err
	}
	return signed, nil
}

// Close zeroes every loaded wallet.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, core := range m.wallets {
		core.Destroy()
		delete(m.wallets, id)
	}
}

func (m *Manager) persist(ctx context.Context, core *Core) error {
	raw, err := core.MarshalRecord()
	if err != nil {
		return err
	}
	defer security.SecureZero(raw)
	if err := m.store.Put(ctx, interfaces.WalletKey(core.ID()), raw); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	return nil
}

func (m *Manager) writeIndex(ctx context.Context, index []string) error {
	raw, err := cbor.Marshal(index)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrSerialization, err)
	}
	if err := m.store.Put(ctx, interfaces.WalletIndexKey, raw); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	return nil
}
