package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/tee-wallet-kms/audit"
	"github.com/ruteri/tee-wallet-kms/common"
	"github.com/ruteri/tee-wallet-kms/config"
	"github.com/ruteri/tee-wallet-kms/host"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/kms"
	"github.com/ruteri/tee-wallet-kms/metrics"
	"github.com/ruteri/tee-wallet-kms/security"
	"github.com/ruteri/tee-wallet-kms/seedcache"
	"github.com/ruteri/tee-wallet-kms/storage"
	"github.com/ruteri/tee-wallet-kms/ta"
	"github.com/ruteri/tee-wallet-kms/wallet"
)

// daemon holds everything serve and selftest wire together.
type daemon struct {
	cfg      *config.Config
	log      *slog.Logger
	audit    *audit.Logger
	security *security.Manager
	store    interfaces.SecureStore
	seeds    *seedcache.Cache
	app      *ta.TrustedApp
	sessions *host.SessionManager
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	closers []func() error
}

func newDaemon(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *daemon, err error) {
	d := &daemon{
		cfg:      cfg,
		log:      log,
		metrics:  metrics.New("walletd"),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			d.Close(ctx)
		}
	}()

	d.audit = audit.NewLogger(audit.Options{
		BufferSize:  cfg.Audit.BufferSize,
		OnSinkError: d.metrics.AuditSinkError,
	})
	d.audit.AddSink(audit.NewSlogSink(log.With("component", "audit")))
	if cfg.Audit.Console {
		d.audit.AddSink(audit.NewConsoleSink(os.Stdout))
	}

	d.security, err = security.NewManager(cfg.SecurityManagerConfig(), d.audit)
	if err != nil {
		return nil, fmt.Errorf("failed to create security manager: %w", err)
	}
	d.closers = append(d.closers, d.security.Close)

	if cfg.Audit.EncryptedFilePath != "" {
		if err := d.attachEncryptedAudit(); err != nil {
			return nil, err
		}
	}

	seedSource, err := cfg.FactorySeedSource()
	if err != nil {
		return nil, err
	}
	engine := kms.NewHybridEntropyEngine(d.security, log).WithFactorySeedSource(seedSource)

	d.store, err = storage.NewStoreFactory(log).CreateMultiStore(cfg.StoreLocations())
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if c, ok := d.store.(io.Closer); ok {
		d.closers = append(d.closers, c.Close)
	}

	d.seeds, err = seedcache.New(seedcache.Options{Capacity: cfg.SeedCache.Capacity, TTL: cfg.SeedCache.TTL})
	if err != nil {
		return nil, fmt.Errorf("failed to create seed cache: %w", err)
	}

	d.app = ta.New(ta.Deps{
		Security:      d.security,
		Engine:        engine,
		Store:         d.store,
		Seeds:         d.seeds,
		Wallet:        wallet.ManagerOptions{MaxWallets: cfg.Wallet.MaxWallets},
		DefaultHDPath: cfg.Wallet.DefaultHDPath,
		Version:       common.Version,
		BuildInfo:     runtime.Version(),
		Observe: func(cmd interfaces.CommandID, status ta.Status, elapsed time.Duration) {
			d.metrics.ObserveCommand(cmd.String(), status.String(), elapsed)
		},
		Log: log.With("component", "ta"),
	}, cfg.TEE.MaxSessions)
	if err := d.app.Create(ctx); err != nil {
		return nil, fmt.Errorf("failed to create trusted application: %w", err)
	}

	d.sessions = host.NewSessionManager(host.NewLocalTransport(d.app), host.SessionOptions{
		MaxSessions:      cfg.TEE.MaxSessions,
		Timeout:          cfg.TEE.SessionTimeout,
		SweepInterval:    cfg.TEE.SweepInterval,
		CommandTimeout:   cfg.TEE.CommandTimeout,
		OutputBufferSize: cfg.TEE.OutputBufferSize,
	}, log.With("component", "sessions"), d.metrics)

	if err := d.metrics.Register(d.registry); err != nil {
		return nil, err
	}
	if err := d.metrics.RegisterSeedCache(d.registry, d.seeds.Stats); err != nil {
		return nil, err
	}
	return d, nil
}

// attachEncryptedAudit derives the audit key from the configured passphrase.
// The salt is kept next to the log so the same key is derived on restart.
func (d *daemon) attachEncryptedAudit() error {
	params := d.cfg.Security.Kdf
	params.OutputLength = 32

	saltPath := d.cfg.Audit.EncryptedFilePath + ".salt"
	salt, err := os.ReadFile(saltPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		salt = make([]byte, params.SaltSize)
		if err := d.security.Rng().FillBytes(salt); err != nil {
			return err
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return fmt.Errorf("failed to write audit salt: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read audit salt: %w", err)
	default:
		params.SaltSize = len(salt)
	}

	kdf, err := d.security.NewKeyDerivationManager(params)
	if err != nil {
		return err
	}
	key, err := kdf.DeriveKeyWithSalt([]byte(d.cfg.Audit.EncryptionPassphrase), salt)
	if err != nil {
		return err
	}
	defer key.Destroy()

	sink, err := audit.NewEncryptedFileSink(d.cfg.Audit.EncryptedFilePath, key.KeyMaterial.Bytes())
	if err != nil {
		return err
	}
	d.audit.AddSink(sink)
	d.closers = append(d.closers, sink.Close)
	return nil
}

// Ready reports whether the TA can serve commands.
func (d *daemon) Ready(ctx context.Context) error {
	if state := d.app.State(); state != ta.StateCreated {
		return fmt.Errorf("trusted application is %s", state)
	}
	if !d.store.Available(ctx) {
		return fmt.Errorf("%w: %s", interfaces.ErrBackendUnavailable, d.store.Name())
	}
	return nil
}

type statusReport struct {
	Version   string          `json:"version"`
	TAState   string          `json:"ta_state"`
	Sessions  int             `json:"sessions"`
	Wallets   int             `json:"wallets"`
	Store     string          `json:"store"`
	SeedCache seedcache.Stats `json:"seed_cache"`
}

func (d *daemon) Status() any {
	report := statusReport{
		Version:   common.Version,
		TAState:   d.app.State().String(),
		Sessions:  d.sessions.Count(),
		Store:     d.store.Name(),
		SeedCache: d.seeds.Stats(),
	}
	if tc := d.app.Context(); tc != nil {
		report.Wallets = len(tc.Wallets.List())
	}
	return report
}

// Close destroys the TA and then runs the closers in registration order, so
// the audit flush reaches sinks that are still open. It is safe on a
// partially built daemon.
func (d *daemon) Close(ctx context.Context) {
	if d.sessions != nil {
		d.sessions.CloseAll(ctx)
	}
	if d.app != nil {
		d.app.Destroy()
	}
	if d.seeds != nil {
		d.seeds.Clear()
	}
	for _, closeFn := range d.closers {
		if err := closeFn(); err != nil {
			d.log.Warn("Failed to close resource", "err", err)
		}
	}
	d.closers = nil
}
