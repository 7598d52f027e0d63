package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/tee-wallet-kms/kms"
	"github.com/ruteri/tee-wallet-kms/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walletd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, errs := Load("")
	require.Empty(t, errs)

	assert.Equal(t, 10, cfg.TEE.MaxSessions)
	assert.Equal(t, 300*time.Second, cfg.TEE.SessionTimeout)
	assert.Equal(t, 100, cfg.Wallet.MaxWallets)
	assert.Equal(t, "m/44'/60'/0'/0/0", cfg.Wallet.DefaultHDPath)
	assert.Equal(t, 10, cfg.SeedCache.Capacity)
	assert.Equal(t, []string{"memory://"}, cfg.Storage.URIs)

	src, err := cfg.FactorySeedSource()
	require.NoError(t, err)
	assert.Equal(t, kms.DomainFactorySeed{Domain: kms.DefaultFactoryDomain}, src)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
tee:
  max_sessions: 4
  session_timeout: 90s
wallet:
  max_wallets: 7
seed_cache:
  ttl: 1m
storage:
  uris:
    - file:///var/lib/walletd
    - s3://AKID:SECRET@bucket/walletd
entropy:
  factory_seed: otp:/dev/otp0
security:
  kdf:
    algorithm: pbkdf2-sha256
    salt_size: 16
    iterations: 210000
    output_length: 32
`)
	cfg, errs := Load(path)
	require.Empty(t, errs)

	assert.Equal(t, 4, cfg.TEE.MaxSessions)
	assert.Equal(t, 90*time.Second, cfg.TEE.SessionTimeout)
	assert.Equal(t, 30*time.Second, cfg.TEE.SweepInterval, "Unset keys keep their defaults")
	assert.Equal(t, 7, cfg.Wallet.MaxWallets)
	assert.Equal(t, time.Minute, cfg.SeedCache.TTL)
	assert.Len(t, cfg.StoreLocations(), 2)
	assert.Equal(t, security.KdfPBKDF2, cfg.Security.Kdf.Algorithm)

	src, err := cfg.FactorySeedSource()
	require.NoError(t, err)
	assert.Equal(t, kms.OTPFactorySeed{Path: "/dev/otp0"}, src)

	summary := cfg.LogSummary()
	assert.NotContains(t, summary["storage"], "SECRET")
	assert.Equal(t, "otp", summary["factory_seed"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "tee:\n  max_sessions: 4\n")
	t.Setenv("WALLETD_MAX_SESSIONS", "6")
	t.Setenv("WALLETD_SEED_CACHE_TTL", "45s")
	t.Setenv("WALLETD_STORAGE_URIS", "memory://,sqlite://memory")
	t.Setenv("WALLETD_AUDIT_CONSOLE", "yes")

	cfg, errs := Load(path)
	require.Empty(t, errs)
	assert.Equal(t, 6, cfg.TEE.MaxSessions, "Environment wins over the file")
	assert.Equal(t, 45*time.Second, cfg.SeedCache.TTL)
	assert.Equal(t, []string{"memory://", "sqlite://memory"}, cfg.Storage.URIs)
	assert.True(t, cfg.Audit.Console)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, errs := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Len(t, errs, 1)
	})

	t.Run("bad env values are all reported", func(t *testing.T) {
		t.Setenv("WALLETD_MAX_SESSIONS", "many")
		t.Setenv("WALLETD_SESSION_TIMEOUT", "soon")
		_, errs := Load("")
		require.Len(t, errs, 2)
		for _, err := range errs {
			assert.ErrorIs(t, err, ErrInvalidValue)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"zero sessions", func(c *Config) { c.TEE.MaxSessions = 0 }, ErrNonPositiveParameters},
		{"buffer too small", func(c *Config) { c.TEE.OutputBufferSize = 512 }, ErrInvalidOutputBuffer},
		{"bad hd path", func(c *Config) { c.Wallet.DefaultHDPath = "44/60" }, ErrInvalidDefaultHDPath},
		{"no storage", func(c *Config) { c.Storage.URIs = nil }, ErrMissingStorage},
		{"encrypted audit without passphrase", func(c *Config) { c.Audit.EncryptedFilePath = "/tmp/audit.enc" }, ErrMissingAuditPassword},
		{"unknown seed source", func(c *Config) { c.Entropy.FactorySeed = "tpm:0" }, ErrInvalidFactorySeed},
		{"empty seed domain", func(c *Config) { c.Entropy.FactorySeed = "domain:" }, ErrInvalidFactorySeed},
		{"protections disabled", func(c *Config) { c.Security.ConstantTime = false }, ErrProtectionsDisabled},
		{"weak kdf", func(c *Config) { c.Security.Kdf.MemoryCost = 1024 }, security.ErrInvalidKdfParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], tt.want)
		})
	}
}

func TestSecurityManagerConfig(t *testing.T) {
	cfg := Default()
	cfg.Audit.FilePath = "/var/log/walletd/audit.jsonl"
	sc := cfg.SecurityManagerConfig()
	assert.True(t, sc.EnableConstantTime)
	assert.True(t, sc.EnableMemoryProtection)
	assert.True(t, sc.EnableAuditLogging)
	assert.Equal(t, "/var/log/walletd/audit.jsonl", sc.AuditFilePath)
}
