package security

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/tee-wallet-kms/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *audit.Logger) {
	t.Helper()
	log := audit.NewLogger(audit.Options{Fallback: &bytes.Buffer{}})
	m, err := NewManager(cfg, log)
	require.NoError(t, err, "Failed to create security manager")
	t.Cleanup(func() { m.Close() })
	return m, log
}

func TestManager_CreateSecureMemoryAudits(t *testing.T) {
	m, log := newTestManager(t, DefaultConfig())

	mem, err := m.CreateSecureMemory(128)
	require.NoError(t, err)
	assert.Equal(t, 128, mem.Size())

	entries := log.EventsByComponent("security_manager", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.MemoryAllocation{Size: 128, Secure: true}, entries[0].Event)

	_, err = m.CreateSecureMemory(0)
	assert.ErrorIs(t, err, ErrAllocation)
}

func TestManager_CreateSecureRngAudits(t *testing.T) {
	m, log := newTestManager(t, DefaultConfig())

	rng, err := m.CreateSecureRng()
	require.NoError(t, err)
	require.NotNil(t, rng)

	entries := log.Entries()
	require.Len(t, entries, 1)
	op, ok := entries[0].Event.(audit.TEEOperation)
	require.True(t, ok)
	assert.Equal(t, "secure_rng_init", op.Operation)
	assert.True(t, op.Success)
}

func TestManager_AuditingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableAuditLogging = false
	m, log := newTestManager(t, cfg)

	_, err := m.CreateSecureMemory(16)
	require.NoError(t, err)
	assert.Equal(t, 0, log.Len(), "Info events are suppressed")

	m.AuditSecurity(audit.SecurityViolation{ViolationType: "x"}, "test")
	assert.Equal(t, 1, log.Len(), "Security events are always recorded")
}

func TestManager_ValidateSecurityInvariants(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	assert.NoError(t, m.ValidateSecurityInvariants())

	cfg := DefaultConfig()
	cfg.EnableConstantTime = false
	weak, log := newTestManager(t, cfg)
	assert.Error(t, weak.ValidateSecurityInvariants())
	assert.Len(t, log.SecurityEvents(0), 1)
}

func TestManager_SelfTest(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	passed, err := m.SelfTest()
	require.NoError(t, err)
	assert.Equal(t, []string{"invariants", "constant_time_eq", "secure_memory", "secure_rng", "stack_canary"}, passed)
}

func TestManager_FileSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.AuditFilePath = filepath.Join(dir, "audit.log")

	m, err := NewManager(cfg, audit.NewLogger(audit.Options{Fallback: &bytes.Buffer{}}))
	require.NoError(t, err)
	_, err = m.CreateSecureMemory(8)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	raw, err := os.ReadFile(cfg.AuditFilePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "memory_allocation")

	cfg.AuditFilePath = filepath.Join(dir, "missing", "audit.log")
	_, err = NewManager(cfg, nil)
	assert.Error(t, err, "Unwritable audit path must fail")
}
