// Package config loads walletd configuration from an optional YAML file,
// overridden by WALLETD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/kms"
	"github.com/ruteri/tee-wallet-kms/security"
	"github.com/ruteri/tee-wallet-kms/wallet"
)

const EnvPrefix = "WALLETD_"

type Config struct {
	TEE       TEEConfig       `koanf:"tee"`
	Wallet    WalletConfig    `koanf:"wallet"`
	SeedCache SeedCacheConfig `koanf:"seed_cache"`
	Audit     AuditConfig     `koanf:"audit"`
	Storage   StorageConfig   `koanf:"storage"`
	Entropy   EntropyConfig   `koanf:"entropy"`
	Security  SecurityConfig  `koanf:"security"`
}

type TEEConfig struct {
	MaxSessions      int           `koanf:"max_sessions"`
	SessionTimeout   time.Duration `koanf:"session_timeout"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	CommandTimeout   time.Duration `koanf:"command_timeout"`
	OutputBufferSize int           `koanf:"output_buffer_size"`
}

type WalletConfig struct {
	MaxWallets    int    `koanf:"max_wallets"`
	DefaultHDPath string `koanf:"default_hd_path"`
}

type SeedCacheConfig struct {
	Capacity int           `koanf:"capacity"`
	TTL      time.Duration `koanf:"ttl"`
}

type AuditConfig struct {
	BufferSize int  `koanf:"buffer_size"`
	Console    bool `koanf:"console"`
	// FilePath receives plain JSON lines.
	FilePath string `koanf:"file_path"`
	// EncryptedFilePath receives XChaCha20-Poly1305 sealed records keyed
	// from EncryptionPassphrase.
	EncryptedFilePath    string `koanf:"encrypted_file_path"`
	EncryptionPassphrase string `koanf:"encryption_passphrase"`
}

type StorageConfig struct {
	// URIs are combined into a multi-store when more than one is given.
	URIs []string `koanf:"uris"`
}

type EntropyConfig struct {
	// FactorySeed is "domain:<string>" or "otp:<path>".
	FactorySeed string `koanf:"factory_seed"`
}

type SecurityConfig struct {
	ConstantTime     bool               `koanf:"constant_time"`
	MemoryProtection bool               `koanf:"memory_protection"`
	Kdf              security.KdfParams `koanf:"kdf"`
}

var (
	ErrInvalidValue          = errors.New("invalid configuration value")
	ErrMissingStorage        = errors.New("storage.uris must name at least one store")
	ErrMissingAuditPassword  = errors.New("audit.encryption_passphrase is required with audit.encrypted_file_path")
	ErrInvalidFactorySeed    = errors.New(`entropy.factory_seed must be "domain:<string>" or "otp:<path>"`)
	ErrProtectionsDisabled   = errors.New("security.constant_time and security.memory_protection must stay enabled")
	ErrInvalidOutputBuffer   = fmt.Errorf("tee.output_buffer_size must be within [%d,%d]", interfaces.MinOutputBufferSize, interfaces.MaxOutputBufferSize)
	ErrInvalidDefaultHDPath  = errors.New("wallet.default_hd_path is not a valid HD path")
	ErrNonPositiveParameters = errors.New("session, wallet and cache limits must be positive")
)

func Default() *Config {
	return &Config{
		TEE: TEEConfig{
			MaxSessions:      10,
			SessionTimeout:   300 * time.Second,
			SweepInterval:    30 * time.Second,
			CommandTimeout:   10 * time.Second,
			OutputBufferSize: interfaces.DefaultOutputBufferSize,
		},
		Wallet: WalletConfig{
			MaxWallets:    wallet.DefaultMaxWallets,
			DefaultHDPath: interfaces.DefaultHDPath,
		},
		SeedCache: SeedCacheConfig{
			Capacity: 10,
			TTL:      300 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 1000,
			Console:    false,
		},
		Storage: StorageConfig{
			URIs: []string{"memory://"},
		},
		Entropy: EntropyConfig{
			FactorySeed: "domain:" + kms.DefaultFactoryDomain,
		},
		Security: SecurityConfig{
			ConstantTime:     true,
			MemoryProtection: true,
			Kdf:              security.DefaultKdfParams(),
		},
	}
}

// Load reads configFilePath (if not empty) over the defaults and applies
// environment overrides. Returns the config and every validation error
// found; a file that cannot be read is reported alone.
func Load(configFilePath string) (*Config, []error) {
	cfg := Default()

	if configFilePath != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
		if err := k.Unmarshal("", cfg); err != nil {
			return nil, []error{fmt.Errorf("failed to decode config file %s: %w", configFilePath, err)}
		}
	}

	loadErrs := cfg.applyEnv()
	return cfg, append(loadErrs, cfg.Validate()...)
}

func (c *Config) applyEnv() []error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(envInt("MAX_SESSIONS", &c.TEE.MaxSessions))
	collect(envDuration("SESSION_TIMEOUT", &c.TEE.SessionTimeout))
	collect(envDuration("SWEEP_INTERVAL", &c.TEE.SweepInterval))
	collect(envDuration("COMMAND_TIMEOUT", &c.TEE.CommandTimeout))
	collect(envInt("OUTPUT_BUFFER_SIZE", &c.TEE.OutputBufferSize))
	collect(envInt("MAX_WALLETS", &c.Wallet.MaxWallets))
	envString("DEFAULT_HD_PATH", &c.Wallet.DefaultHDPath)
	collect(envInt("SEED_CACHE_CAPACITY", &c.SeedCache.Capacity))
	collect(envDuration("SEED_CACHE_TTL", &c.SeedCache.TTL))
	collect(envInt("AUDIT_BUFFER_SIZE", &c.Audit.BufferSize))
	collect(envBool("AUDIT_CONSOLE", &c.Audit.Console))
	envString("AUDIT_FILE", &c.Audit.FilePath)
	envString("AUDIT_ENCRYPTED_FILE", &c.Audit.EncryptedFilePath)
	envString("AUDIT_PASSPHRASE", &c.Audit.EncryptionPassphrase)
	envString("FACTORY_SEED", &c.Entropy.FactorySeed)
	if val := os.Getenv(EnvPrefix + "STORAGE_URIS"); val != "" {
		c.Storage.URIs = strings.Split(val, ",")
	}
	if val := os.Getenv(EnvPrefix + "KDF_ALGORITHM"); val != "" {
		c.Security.Kdf.Algorithm = security.KdfAlgorithm(val)
	}
	return errs
}

// Validate returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	if c.TEE.MaxSessions <= 0 || c.TEE.SessionTimeout <= 0 || c.TEE.SweepInterval <= 0 || c.TEE.CommandTimeout <= 0 ||
		c.Wallet.MaxWallets <= 0 || c.SeedCache.Capacity <= 0 || c.SeedCache.TTL <= 0 {
		errs = append(errs, ErrNonPositiveParameters)
	}
	if c.TEE.OutputBufferSize < interfaces.MinOutputBufferSize || c.TEE.OutputBufferSize > interfaces.MaxOutputBufferSize {
		errs = append(errs, ErrInvalidOutputBuffer)
	}
	if _, err := wallet.ParseHDPath(c.Wallet.DefaultHDPath); err != nil {
		errs = append(errs, ErrInvalidDefaultHDPath)
	}
	if len(c.Storage.URIs) == 0 {
		errs = append(errs, ErrMissingStorage)
	}
	for _, uri := range c.Storage.URIs {
		if _, err := url.Parse(uri); err != nil {
			errs = append(errs, fmt.Errorf("%w: storage uri: %v", ErrInvalidValue, err))
		}
	}
	if c.Audit.EncryptedFilePath != "" && c.Audit.EncryptionPassphrase == "" {
		errs = append(errs, ErrMissingAuditPassword)
	}
	if _, err := c.FactorySeedSource(); err != nil {
		errs = append(errs, err)
	}
	if !c.Security.ConstantTime || !c.Security.MemoryProtection {
		errs = append(errs, ErrProtectionsDisabled)
	}
	if err := c.Security.Kdf.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// FactorySeedSource resolves entropy.factory_seed.
func (c *Config) FactorySeedSource() (interfaces.FactorySeedSource, error) {
	kind, arg, ok := strings.Cut(c.Entropy.FactorySeed, ":")
	if !ok || arg == "" {
		return nil, ErrInvalidFactorySeed
	}
	switch kind {
	case "domain":
		return kms.DomainFactorySeed{Domain: arg}, nil
	case "otp":
		return kms.OTPFactorySeed{Path: arg}, nil
	}
	return nil, ErrInvalidFactorySeed
}

// SecurityManagerConfig maps the security and audit sections onto
// security.Config. The encrypted sink is attached separately once its key
// has been derived.
func (c *Config) SecurityManagerConfig() security.Config {
	return security.Config{
		EnableConstantTime:     c.Security.ConstantTime,
		EnableMemoryProtection: c.Security.MemoryProtection,
		EnableAuditLogging:     true,
		AuditFilePath:          c.Audit.FilePath,
	}
}

func (c *Config) StoreLocations() []interfaces.StoreLocation {
	locations := make([]interfaces.StoreLocation, 0, len(c.Storage.URIs))
	for _, uri := range c.Storage.URIs {
		locations = append(locations, interfaces.StoreLocation(strings.TrimSpace(uri)))
	}
	return locations
}

// LogSummary returns the configuration with credentials masked.
func (c *Config) LogSummary() map[string]string {
	uris := make([]string, 0, len(c.Storage.URIs))
	for _, uri := range c.Storage.URIs {
		if u, err := url.Parse(uri); err == nil {
			uris = append(uris, u.Redacted())
		} else {
			uris = append(uris, "<unparseable>")
		}
	}
	seedKind, _, _ := strings.Cut(c.Entropy.FactorySeed, ":")
	return map[string]string{
		"max_sessions":         strconv.Itoa(c.TEE.MaxSessions),
		"session_timeout":      c.TEE.SessionTimeout.String(),
		"max_wallets":          strconv.Itoa(c.Wallet.MaxWallets),
		"seed_cache_capacity":  strconv.Itoa(c.SeedCache.Capacity),
		"seed_cache_ttl":       c.SeedCache.TTL.String(),
		"storage":              strings.Join(uris, ","),
		"factory_seed":         seedKind,
		"audit_file":           c.Audit.FilePath,
		"audit_encrypted_file": c.Audit.EncryptedFilePath,
		"audit_passphrase":     maskSecret(c.Audit.EncryptionPassphrase),
		"kdf_algorithm":        string(c.Security.Kdf.Algorithm),
	}
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) error {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%w: %s%s must be an integer", ErrInvalidValue, EnvPrefix, key)
	}
	*dst = i
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%w: %s%s must be a duration such as 30s", ErrInvalidValue, EnvPrefix, key)
	}
	*dst = d
	return nil
}

func envBool(key string, dst *bool) error {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return nil
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("%w: %s%s must be a boolean", ErrInvalidValue, EnvPrefix, key)
	}
	return nil
}
