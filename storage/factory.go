package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/tee-wallet-kms/interfaces"
)

// StoreFactory creates stores from location URIs.
type StoreFactory struct {
	log *slog.Logger
}

func NewStoreFactory(logger *slog.Logger) *StoreFactory {
	return &StoreFactory{log: logger}
}

// StoreFor creates a store from a location URI.
//
// Supported schemes:
//   - memory:// - process memory, lost on restart
//   - file:///var/lib/walletd/ - one file per key
//   - sqlite:///var/lib/walletd/wallets.db - single table; sqlite://memory is ephemeral
//   - vault://vault.example.com:8200/secret/walletd?tls=false - KV v2 mount and prefix
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=...
func (sf *StoreFactory) StoreFor(location interfaces.StoreLocation) (interfaces.SecureStore, error) {
	u, err := url.Parse(string(location))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return sf.createFileStore(u)
	case "sqlite":
		return sf.createSQLiteStore(u)
	case "vault":
		return sf.createVaultStore(u)
	case "s3":
		return sf.createS3Store(u)
	default:
		return nil, fmt.Errorf("%w: unsupported store scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMultiStore skips locations that fail to parse or connect and errors
// only when none are usable.
func (sf *StoreFactory) CreateMultiStore(locations []interfaces.StoreLocation) (interfaces.SecureStore, error) {
	stores := make([]interfaces.SecureStore, 0, len(locations))

	for _, location := range locations {
		store, err := sf.StoreFor(location)
		if err != nil {
			sf.log.Warn("Failed to create store",
				"err", err,
				slog.String("location", redactLocation(location)))
			continue
		}
		stores = append(stores, store)
	}

	if len(stores) == 0 {
		return nil, fmt.Errorf("%w: no valid stores created", interfaces.ErrInvalidLocationURI)
	}
	if len(stores) == 1 {
		return stores[0], nil
	}
	return NewMultiStore(stores, sf.log), nil
}

func (sf *StoreFactory) createFileStore(u *url.URL) (interfaces.SecureStore, error) {
	sf.log.Debug("Creating file store", slog.String("uri", u.String()))
	path := localPath(u)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
	}
	return NewFileStore(path, sf.log)
}

func (sf *StoreFactory) createSQLiteStore(u *url.URL) (interfaces.SecureStore, error) {
	sf.log.Debug("Creating sqlite store", slog.String("uri", u.String()))
	path := localPath(u)
	switch path {
	case "":
		return nil, fmt.Errorf("%w: empty path in sqlite URI", interfaces.ErrInvalidLocationURI)
	case "memory":
		path = ":memory:"
	}
	return NewSQLiteStore(path, sf.log)
}

func (sf *StoreFactory) createVaultStore(u *url.URL) (interfaces.SecureStore, error) {
	sf.log.Debug("Creating Vault store", slog.String("host", u.Host))

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("%w: vault URI needs a mount path, e.g. vault://host:8200/secret/walletd", interfaces.ErrInvalidLocationURI)
	}
	mount := parts[0]
	prefix := ""
	if len(parts) == 2 {
		prefix = parts[1]
	}

	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}
	// The token comes from VAULT_TOKEN so it never appears in configuration URIs.
	return NewVaultStore(scheme+"://"+u.Host, "", mount, prefix, sf.log)
}

func (sf *StoreFactory) createS3Store(u *url.URL) (interfaces.SecureStore, error) {
	sf.log.Debug("Creating S3 store", slog.String("bucket", u.Host))

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Store(u.Host, strings.Trim(u.Path, "/"), region, query.Get("endpoint"), accessKey, secretKey, sf.log)
}

func localPath(u *url.URL) string {
	if u.Host == "" {
		return u.Path
	}
	if u.Path == "" {
		return u.Host
	}
	return u.Host + "/" + strings.TrimPrefix(u.Path, "/")
}

func redactLocation(location interfaces.StoreLocation) string {
	u, err := url.Parse(string(location))
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
