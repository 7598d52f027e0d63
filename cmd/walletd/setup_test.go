package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/tee-wallet-kms/audit"
	"github.com/ruteri/tee-wallet-kms/config"
	"github.com/ruteri/tee-wallet-kms/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDaemon_Selftest(t *testing.T) {
	ctx := context.Background()
	d, err := newDaemon(ctx, config.Default(), testLogger())
	require.NoError(t, err)
	defer d.Close(ctx)

	require.NoError(t, d.Ready(ctx))
	require.NoError(t, selftest(ctx, d, testLogger()))

	report, ok := d.Status().(statusReport)
	require.True(t, ok)
	assert.Equal(t, "created", report.TAState)
	assert.Equal(t, 0, report.Sessions)
	assert.Equal(t, 0, report.Wallets)
	assert.Equal(t, "memory", report.Store)

	families, err := d.registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["walletd_commands_total"])
	assert.True(t, names["walletd_seed_cache_entries"])
}

func TestDaemon_NotReadyAfterClose(t *testing.T) {
	ctx := context.Background()
	d, err := newDaemon(ctx, config.Default(), testLogger())
	require.NoError(t, err)

	d.Close(ctx)
	assert.ErrorContains(t, d.Ready(ctx), "destroyed")
}

func TestDaemon_RejectsUnusableStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.URIs = []string{"ftp://nowhere"}

	_, err := newDaemon(context.Background(), cfg, testLogger())
	assert.ErrorContains(t, err, "failed to create store")
}

func TestDaemon_EncryptedAuditKeyIsStable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.enc")

	cfg := config.Default()
	cfg.Audit.EncryptedFilePath = logPath
	cfg.Audit.EncryptionPassphrase = "correct horse battery staple"
	cfg.Security.Kdf = security.FastKdfParams()

	for range 2 {
		d, err := newDaemon(ctx, cfg, testLogger())
		require.NoError(t, err)
		d.security.AuditInfo(audit.TEEOperation{Operation: "restart_marker", Success: true}, "test")
		d.Close(ctx)
	}

	salt, err := os.ReadFile(logPath + ".salt")
	require.NoError(t, err)
	require.Len(t, salt, cfg.Security.Kdf.SaltSize)

	rng, err := security.NewSystemRng()
	require.NoError(t, err)
	params := cfg.Security.Kdf
	params.OutputLength = 32
	kdf, err := security.NewKeyDerivationManager(params, rng, nil)
	require.NoError(t, err)
	key, err := kdf.DeriveKeyWithSalt([]byte(cfg.Audit.EncryptionPassphrase), salt)
	require.NoError(t, err)
	defer key.Destroy()

	records, err := audit.ReadEncryptedFile(logPath, key.KeyMaterial.Bytes())
	require.NoError(t, err)

	markers := 0
	for _, r := range records {
		if strings.Contains(string(r), "restart_marker") {
			markers++
		}
	}
	assert.Equal(t, 2, markers, "both runs must decrypt under the same key")
}
