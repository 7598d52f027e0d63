package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/tee-wallet-kms/interfaces"
)

// VaultStore keeps blobs in a HashiCorp Vault KV v2 mount. Values are
// base64-encoded under the "content" field of each secret.
type VaultStore struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultStore creates a Vault-backed store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token; when empty the client falls back to VAULT_TOKEN
//   - mountPath: KV v2 mount (e.g. "secret")
//   - dataPath: prefix within the mount (e.g. "walletd")
func NewVaultStore(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultStore{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}, nil
}

func (b *VaultStore) Get(ctx context.Context, key string) ([]byte, error) {
	path := b.secretPath("data", key)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault", "err", err, slog.String("path", path))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrKeyNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// Deleted KV v2 versions come back with a nil data map.
		return nil, interfaces.ErrKeyNotFound
	}
	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: content field missing in Vault secret", interfaces.ErrStorage)
	}

	value, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid content encoding: %v", interfaces.ErrStorage, err)
	}

	b.log.Debug("Read blob from Vault", slog.String("path", path), slog.Int("size", len(value)))
	return value, nil
}

func (b *VaultStore) Put(ctx context.Context, key string, value []byte) error {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return err
	}
	path := b.secretPath("data", key)

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(value),
		},
	}
	if _, err := b.client.Logical().WriteWithContext(ctx, path, payload); err != nil {
		b.log.Error("Failed to write to Vault", "err", err, slog.String("path", path))
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored blob in Vault", slog.String("path", path), slog.Int("size", len(value)))
	return nil
}

// Delete removes every version of the secret through the metadata endpoint.
func (b *VaultStore) Delete(ctx context.Context, key string) error {
	path := b.secretPath("metadata", key)
	if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *VaultStore) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

func (b *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s", b.mountPath)
}

func (b *VaultStore) secretPath(kind, key string) string {
	if b.dataPath == "" {
		return fmt.Sprintf("%s/%s/%s", b.mountPath, kind, key)
	}
	return fmt.Sprintf("%s/%s/%s/%s", b.mountPath, kind, b.dataPath, key)
}
