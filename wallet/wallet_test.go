package wallet

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-wallet-kms/audit"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/security"
	"github.com/ruteri/tee-wallet-kms/seedcache"
	"github.com/ruteri/tee-wallet-kms/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
)

func newTestDeps(t *testing.T) (Deps, *audit.Logger) {
	t.Helper()
	log := audit.NewLogger(audit.Options{Fallback: io.Discard})
	mgr, err := security.NewManager(security.DefaultConfig(), log)
	require.NoError(t, err)
	seeds, err := seedcache.New(seedcache.Options{})
	require.NoError(t, err)
	return Deps{
		Security: mgr,
		Seeds:    seeds,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, log
}

func countEvents[T audit.Event](log *audit.Logger) int {
	n := 0
	for _, e := range log.Entries() {
		if _, ok := e.Event.(T); ok {
			n++
		}
	}
	return n
}

func TestParseHDPath(t *testing.T) {
	tests := []struct {
		path    string
		want    HDPath
		wantErr bool
	}{
		{path: "m/44'/60'/0'/0/0", want: HDPath{0x8000002C, 0x8000003C, 0x80000000, 0, 0}},
		{path: "m/44h/60H/1'/0/7", want: HDPath{0x8000002C, 0x8000003C, 0x80000001, 0, 7}},
		{path: "m", want: HDPath{}},
		{path: "44'/60'/0'/0/0", wantErr: true},
		{path: "m/44'/x/0", wantErr: true},
		{path: "m/4294967296", wantErr: true},
		{path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParseHDPath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, interfaces.ErrInvalidHDPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	p, err := ParseHDPath(interfaces.DefaultHDPath)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DefaultHDPath, p.String())
}

func TestDeriveFromSeed_KnownVector(t *testing.T) {
	// BIP39 all-zero 128-bit entropy; widely published first Ethereum account.
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	require.True(t, bip39.IsMnemonicValid(mnemonic))

	seed, err := expandSeed(mnemonic)
	require.NoError(t, err)

	path, err := ParseHDPath(interfaces.DefaultHDPath)
	require.NoError(t, err)
	key, err := deriveFromSeed(seed[:], path)
	require.NoError(t, err)
	defer key.Destroy()

	priv, err := crypto.ToECDSA(key.Bytes())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94"), crypto.PubkeyToAddress(priv.PublicKey))
}

func TestCore_Derivation(t *testing.T) {
	deps, _ := newTestDeps(t)
	core, err := NewCore(deps.Security.Rng(), deps)
	require.NoError(t, err)

	p0, _ := ParseHDPath("m/44'/60'/0'/0/0")
	p1, _ := ParseHDPath("m/44'/60'/0'/0/1")

	addr0, pub0, err := core.DeriveAddress(p0)
	require.NoError(t, err)
	again, pubAgain, err := core.DeriveAddress(p0)
	require.NoError(t, err)
	assert.Equal(t, addr0, again, "Same path must give the same address")
	assert.Equal(t, pub0, pubAgain)

	addr1, _, err := core.DeriveAddress(p1)
	require.NoError(t, err)
	assert.NotEqual(t, addr0, addr1, "Different paths must give different addresses")

	pub, err := core.DerivePublicKey(p0)
	require.NoError(t, err)
	require.Len(t, pub, 65)
	assert.Equal(t, byte(0x04), pub[0])
	assert.Equal(t, addr0, common.BytesToAddress(crypto.Keccak256(pub[1:])[12:]))

	assert.Equal(t, uint32(4), core.Derivations())
	stats := deps.Seeds.Stats()
	assert.Equal(t, uint64(1), stats.Misses, "Seed expansion goes through the cache")
	assert.Equal(t, uint64(3), stats.Hits)
}

func TestCore_MnemonicExportIsAudited(t *testing.T) {
	deps, log := newTestDeps(t)
	core, err := NewCore(deps.Security.Rng(), deps)
	require.NoError(t, err)

	m, err := core.Mnemonic()
	require.NoError(t, err)
	assert.True(t, bip39.IsMnemonicValid(m))
	assert.Len(t, strings.Fields(m), 24)

	events := log.SecurityEvents(0)
	var exports []audit.SecurityOperation
	for _, e := range events {
		if op, ok := e.Event.(audit.SecurityOperation); ok {
			assert.Equal(t, audit.LevelSecurity, e.Level)
			exports = append(exports, op)
		}
	}
	require.Len(t, exports, 1)
	assert.Equal(t, audit.RiskHigh, exports[0].RiskLevel)
	assert.Equal(t, "mnemonic_export", exports[0].Operation)
}

func TestCore_RecordRoundTrip(t *testing.T) {
	deps, _ := newTestDeps(t)
	core, err := NewCore(deps.Security.Rng(), deps)
	require.NoError(t, err)

	raw, err := core.MarshalRecord()
	require.NoError(t, err)
	restored, err := UnmarshalCore(raw, deps)
	require.NoError(t, err)

	path, _ := ParseHDPath(interfaces.DefaultHDPath)
	a, _, err := core.DeriveAddress(path)
	require.NoError(t, err)
	b, _, err := restored.DeriveAddress(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, core.ID(), restored.ID())

	_, err = UnmarshalCore([]byte{0xff}, deps)
	assert.ErrorIs(t, err, interfaces.ErrSerialization)
}

func TestCore_DestroyedWalletIsUnusable(t *testing.T) {
	deps, _ := newTestDeps(t)
	core, err := NewCore(deps.Security.Rng(), deps)
	require.NoError(t, err)
	core.Destroy()

	_, _, err = core.DeriveAddress(HDPath{})
	assert.ErrorIs(t, err, interfaces.ErrBadState)
	_, err = core.MarshalRecord()
	assert.ErrorIs(t, err, interfaces.ErrBadState)
}

func TestSignTransaction_EndToEnd(t *testing.T) {
	ctx := context.Background()
	deps, log := newTestDeps(t)
	manager, err := NewManager(ctx, storage.NewMemoryStore(), deps, ManagerOptions{})
	require.NoError(t, err)
	defer manager.Close()

	core, err := manager.Create(ctx)
	require.NoError(t, err)

	path, err := ParseHDPath("m/44'/60'/0'/0/0")
	require.NoError(t, err)
	addr, pub, err := manager.DeriveAddress(ctx, core.ID(), path)
	require.NoError(t, err)

	gasPrice, _ := new(big.Int).SetString("20000000000", 10)
	value, _ := new(big.Int).SetString("1000000000000000000", 10)
	tx := &interfaces.EthTransaction{
		ChainID:  1,
		Nonce:    0,
		GasPrice: gasPrice,
		Gas:      21000,
		To:       &addr,
		Value:    value,
	}

	signsBefore := countEvents[audit.SignOperation](log)
	signed, err := manager.SignTransaction(ctx, core.ID(), path, tx)
	require.NoError(t, err)
	assert.Equal(t, signsBefore+1, countEvents[audit.SignOperation](log), "Exactly one SignOperation per signature")

	sender, recoveredPub, err := VerifySignedTransaction(signed)
	require.NoError(t, err)
	assert.Equal(t, addr, sender)
	assert.Equal(t, pub, recoveredPub, "Signature must recover to the derived public key")

	assert.Equal(t, big.NewInt(1), signed.ChainId())
	assert.True(t, signed.Protected())
	assert.Equal(t, uint64(21000), signed.Gas())
	assert.Equal(t, 0, value.Cmp(signed.Value()))

	sig, err := SignatureBytes(signed)
	require.NoError(t, err)
	assert.Contains(t, []byte{27, 28}, sig[64])

	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	var decoded types.Transaction
	require.NoError(t, decoded.UnmarshalBinary(raw))
	assert.Equal(t, signed.Hash(), decoded.Hash())
}

func TestSignTransaction_RejectsInvalid(t *testing.T) {
	deps, log := newTestDeps(t)
	core, err := NewCore(deps.Security.Rng(), deps)
	require.NoError(t, err)

	_, err = core.SignTransaction(HDPath{}, &interfaces.EthTransaction{ChainID: 0})
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
	_, err = core.SignTransaction(HDPath{}, nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
	assert.Zero(t, countEvents[audit.SignOperation](log))
}

func TestManager_Persistence(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	store := storage.NewMemoryStore()

	first, err := NewManager(ctx, store, deps, ManagerOptions{})
	require.NoError(t, err)
	core, err := first.Create(ctx)
	require.NoError(t, err)
	path, _ := ParseHDPath(interfaces.DefaultHDPath)
	addr, _, err := first.DeriveAddress(ctx, core.ID(), path)
	require.NoError(t, err)
	first.Close()

	second, err := NewManager(ctx, store, deps, ManagerOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{core.ID()}, second.List())

	again, _, err := second.DeriveAddress(ctx, core.ID(), path)
	require.NoError(t, err)
	assert.Equal(t, addr, again, "Reloaded wallet must derive the same address")

	info, err := second.Info(ctx, core.ID())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), info.DerivationsCount)
}

func TestManager_Remove(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	store := storage.NewMemoryStore()
	manager, err := NewManager(ctx, store, deps, ManagerOptions{})
	require.NoError(t, err)

	core, err := manager.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, manager.Remove(ctx, core.ID()))

	_, err = manager.Get(ctx, core.ID())
	assert.ErrorIs(t, err, interfaces.ErrWalletNotFound)
	_, err = store.Get(ctx, interfaces.WalletKey(core.ID()))
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
	assert.Empty(t, manager.List())

	_, _, err = core.DeriveAddress(HDPath{})
	assert.ErrorIs(t, err, interfaces.ErrBadState, "Removed wallet must be zeroed")

	assert.ErrorIs(t, manager.Remove(ctx, core.ID()), interfaces.ErrWalletNotFound)
	assert.ErrorIs(t, manager.Remove(ctx, "nope"), interfaces.ErrInvalidInput)
}

func TestManager_Limit(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	manager, err := NewManager(ctx, storage.NewMemoryStore(), deps, ManagerOptions{MaxWallets: 2})
	require.NoError(t, err)

	_, err = manager.Create(ctx)
	require.NoError(t, err)
	_, err = manager.Create(ctx)
	require.NoError(t, err)
	_, err = manager.Create(ctx)
	assert.ErrorIs(t, err, interfaces.ErrWalletLimit)
	assert.Len(t, manager.List(), 2)
}
