package ta

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/kms"
	"github.com/ruteri/tee-wallet-kms/security"
	"github.com/ruteri/tee-wallet-kms/seedcache"
	"github.com/ruteri/tee-wallet-kms/storage"
	"github.com/ruteri/tee-wallet-kms/wallet"
)

// StorageSealingPurpose names the sealing key that protects persisted state.
const StorageSealingPurpose = "storage"

// Deps are the collaborators a TrustedApp is built from. Store is the
// untrusted backend; the TA seals it with a device-bound key on Create.
type Deps struct {
	Security *security.Manager
	Engine   *kms.HybridEntropyEngine
	Store    interfaces.SecureStore
	Seeds    *seedcache.Cache
	Wallet   wallet.ManagerOptions
	// DefaultHDPath is used when a request names no path. Empty selects
	// interfaces.DefaultHDPath.
	DefaultHDPath string

	Version   string
	BuildInfo string

	// Observe, when set, is called after every invocation.
	Observe func(cmd interfaces.CommandID, status Status, elapsed time.Duration)

	Log *slog.Logger
}

// Context is the TA state shared by all handlers. It is built by Create and
// torn down by Destroy; nothing in this package keeps state outside it.
type Context struct {
	Security *security.Manager
	Engine   *kms.HybridEntropyEngine
	Wallets  *wallet.Manager
	Accounts *kms.AccountRegistry

	DefaultHDPath string
	Version       string
	BuildInfo     string
	Log           *slog.Logger

	sealed *storage.SealedStore
}

func newContext(ctx context.Context, deps Deps) (*Context, error) {
	if !deps.Engine.IsInitialized() {
		if err := deps.Engine.Initialize(); err != nil {
			return nil, err
		}
	}

	key, err := deps.Engine.SealingKey(StorageSealingPurpose)
	if err != nil {
		return nil, err
	}
	sealed, err := storage.NewSealedStore(deps.Store, key.Bytes())
	key.Destroy()
	if err != nil {
		return nil, err
	}

	wallets, err := wallet.NewManager(ctx, sealed, wallet.Deps{
		Security: deps.Security,
		Seeds:    deps.Seeds,
		Log:      deps.Log,
	}, deps.Wallet)
	if err != nil {
		sealed.Close()
		return nil, fmt.Errorf("failed to load wallets: %w", err)
	}

	defaultPath := deps.DefaultHDPath
	if defaultPath == "" {
		defaultPath = interfaces.DefaultHDPath
	}
	if _, err := wallet.ParseHDPath(defaultPath); err != nil {
		wallets.Close()
		sealed.Close()
		return nil, err
	}

	return &Context{
		Security:      deps.Security,
		Engine:        deps.Engine,
		Wallets:       wallets,
		Accounts:      kms.NewAccountRegistry(deps.Engine, sealed, deps.Security, deps.Log),
		DefaultHDPath: defaultPath,
		Version:       deps.Version,
		BuildInfo:     deps.BuildInfo,
		Log:           deps.Log,
		sealed:        sealed,
	}, nil
}

func (c *Context) close() {
	c.Wallets.Close()
	c.sealed.Close()
}
