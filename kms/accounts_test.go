package kms

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/ruteri/tee-wallet-kms/audit"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*AccountRegistry, *storage.MemoryStore, *audit.Logger) {
	t.Helper()
	mgr, log := newTestManager(t)
	engine := NewHybridEntropyEngine(mgr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, engine.Initialize())
	store := storage.NewMemoryStore()
	return NewAccountRegistry(engine, store, mgr, slog.New(slog.NewTextHandler(io.Discard, nil))), store, log
}

func TestAccountRegistry_CreateAndSign(t *testing.T) {
	ctx := context.Background()
	registry, store, log := newTestRegistry(t)

	account, err := registry.CreateAccount(ctx, "alice@example.com", []byte("passkey-public-key"), "cred-1")
	require.NoError(t, err)
	assert.NotEmpty(t, account.AccountID)
	assert.Nil(t, account.TeeRandom, "TEE random must not leave the registry")
	assert.NotEqual(t, [20]byte{}, [20]byte(account.Address))

	// The stored record carries the TEE random needed to re-derive the key.
	raw, err := store.Get(ctx, interfaces.AccountKey(account.AccountID))
	require.NoError(t, err)
	var stored HybridAccount
	require.NoError(t, cbor.Unmarshal(raw, &stored))
	assert.Len(t, stored.TeeRandom, 32)

	loaded, err := registry.Account(ctx, account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, account.Address, loaded.Address)
	assert.Equal(t, "alice@example.com", loaded.UserEmail)
	assert.Nil(t, loaded.TeeRandom)

	digest := crypto.Keccak256Hash([]byte("transfer 1 eth"))
	sig, err := registry.SignWithAccount(ctx, account.AccountID, digest)
	require.NoError(t, err)

	recoverable := sig
	recoverable[64] -= 27
	pub, err := crypto.SigToPub(digest[:], recoverable[:])
	require.NoError(t, err)
	assert.Equal(t, account.Address, crypto.PubkeyToAddress(*pub), "Signature must recover to the account address")

	auths := 0
	for _, e := range log.EventsByComponent("account_registry", 0) {
		if _, ok := e.Event.(audit.Authentication); ok {
			auths++
		}
	}
	assert.Equal(t, 1, auths)
}

func TestAccountRegistry_DistinctAccounts(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	a, err := registry.CreateAccount(ctx, "bob@example.com", []byte("pk"), "c")
	require.NoError(t, err)
	b, err := registry.CreateAccount(ctx, "bob@example.com", []byte("pk"), "c")
	require.NoError(t, err)

	assert.NotEqual(t, a.AccountID, b.AccountID)
	assert.NotEqual(t, a.Address, b.Address, "Each account draws its own TEE random")

	ids, err := registry.Accounts(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.AccountID, b.AccountID}, ids)
}

func TestAccountRegistry_Errors(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	_, err := registry.CreateAccount(ctx, "", []byte("pk"), "c")
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
	_, err = registry.CreateAccount(ctx, "carol@example.com", nil, "c")
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)

	_, err = registry.Account(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)

	_, err = registry.SignWithAccount(ctx, "2b1d4bd6-8c0e-4a49-9f5a-1c0ad5e1f7a1", [32]byte{1})
	assert.ErrorIs(t, err, interfaces.ErrAccountNotFound)

	ids, err := registry.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
