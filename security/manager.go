package security

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ruteri/tee-wallet-kms/audit"
)

// Config toggles the protections applied by a Manager.
type Config struct {
	EnableConstantTime     bool `koanf:"constant_time"`
	EnableMemoryProtection bool `koanf:"memory_protection"`
	EnableAuditLogging     bool `koanf:"audit_logging"`
	// AuditFilePath, when set, adds an append-only JSON-lines sink.
	AuditFilePath string `koanf:"audit_file_path"`
}

func DefaultConfig() Config {
	return Config{
		EnableConstantTime:     true,
		EnableMemoryProtection: true,
		EnableAuditLogging:     true,
	}
}

// Manager is the security facade handed to every TA component. It owns the
// audit logger and a shared SecureRng.
type Manager struct {
	cfg   Config
	audit *audit.Logger
	rng   *SecureRng

	mu     sync.Mutex
	closer []func() error
	closed bool
}

// NewManager wires cfg into auditLog (sinks are added for the configured
// files) and seeds the shared generator from the OS.
func NewManager(cfg Config, auditLog *audit.Logger) (*Manager, error) {
	if auditLog == nil {
		auditLog = audit.NewLogger(audit.Options{})
	}
	m := &Manager{cfg: cfg, audit: auditLog}

	if cfg.EnableAuditLogging && cfg.AuditFilePath != "" {
		sink, err := audit.NewFileSink(cfg.AuditFilePath)
		if err != nil {
			return nil, err
		}
		auditLog.AddSink(sink)
		m.closer = append(m.closer, sink.Close)
	}

	rng, err := NewSystemRng()
	if err != nil {
		return nil, err
	}
	m.rng = rng
	return m, nil
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) AuditLogger() *audit.Logger { return m.audit }

// Rng returns the shared generator. It is safe for concurrent use.
func (m *Manager) Rng() *SecureRng { return m.rng }

func (m *Manager) AuditInfo(event audit.Event, component string) {
	if m.cfg.EnableAuditLogging {
		m.audit.Info(event, component)
	}
}

func (m *Manager) AuditWarning(event audit.Event, component string) {
	if m.cfg.EnableAuditLogging {
		m.audit.Warning(event, component)
	}
}

func (m *Manager) AuditError(event audit.Event, component string) {
	if m.cfg.EnableAuditLogging {
		m.audit.Error(event, component)
	}
}

// AuditCritical and AuditSecurity are recorded even with audit logging
// disabled: security conditions are always audited.
func (m *Manager) AuditCritical(event audit.Event, component string) {
	m.audit.Critical(event, component)
}

func (m *Manager) AuditSecurity(event audit.Event, component string) {
	m.audit.Security(event, component)
}

// CreateSecureMemory allocates a SecureMemory and audits the allocation.
func (m *Manager) CreateSecureMemory(size int) (*SecureMemory, error) {
	mem, err := NewSecureMemory(size)
	if err != nil {
		m.AuditError(audit.MemoryAllocation{Size: size, Secure: true}, "security_manager")
		return nil, err
	}
	m.AuditInfo(audit.MemoryAllocation{Size: size, Secure: m.cfg.EnableMemoryProtection}, "security_manager")
	return mem, nil
}

// CreateSecureRng seeds an independent generator from the OS and audits it.
func (m *Manager) CreateSecureRng() (*SecureRng, error) {
	start := time.Now()
	rng, err := NewSystemRng()
	m.AuditInfo(audit.TEEOperation{
		Operation:  "secure_rng_init",
		DurationMs: uint64(time.Since(start).Milliseconds()),
		Success:    err == nil,
	}, "security_manager")
	return rng, err
}

// NewKeyDerivationManager builds a KDF manager sharing this manager's rng and
// audit log.
func (m *Manager) NewKeyDerivationManager(params KdfParams) (*KeyDerivationManager, error) {
	return NewKeyDerivationManager(params, m.rng, m.audit)
}

// ValidateSecurityInvariants fails when constant-time comparison or memory
// protection has been disabled.
func (m *Manager) ValidateSecurityInvariants() error {
	var errs []error
	if !m.cfg.EnableConstantTime {
		errs = append(errs, errors.New("constant-time operations disabled"))
	}
	if !m.cfg.EnableMemoryProtection {
		errs = append(errs, errors.New("memory protection disabled"))
	}
	if err := errors.Join(errs...); err != nil {
		m.AuditCritical(audit.SecurityViolation{ViolationType: "invariant_check", Details: err.Error()}, "security_manager")
		return err
	}
	return nil
}

// SelfTest exercises the primitives and returns the names of the checks that
// passed. The first failing check aborts with an error naming it.
func (m *Manager) SelfTest() ([]string, error) {
	var passed []string
	fail := func(check string, err error) ([]string, error) {
		m.AuditSecurity(audit.SecurityViolation{ViolationType: "self_test", Details: check}, "security_manager")
		return passed, fmt.Errorf("self test %s failed: %w", check, err)
	}

	if err := m.ValidateSecurityInvariants(); err != nil {
		return fail("invariants", err)
	}
	passed = append(passed, "invariants")

	a, b := []byte("constant-time-a"), []byte("constant-time-b")
	if !ConstantTimeEq(a, a) || ConstantTimeEq(a, b) || ConstantTimeEq(a, a[:3]) {
		return fail("constant_time_eq", errors.New("comparison mismatch"))
	}
	passed = append(passed, "constant_time_eq")

	mem, err := m.CreateSecureMemory(64)
	if err != nil {
		return fail("secure_memory", err)
	}
	view := mem.Bytes()
	if err := mem.CopyFromSlice([]byte("secret")); err != nil {
		return fail("secure_memory", err)
	}
	mem.Destroy()
	for _, v := range view {
		if v != 0 {
			return fail("secure_memory", errors.New("buffer not zeroed on destroy"))
		}
	}
	passed = append(passed, "secure_memory")

	var x, y [32]byte
	if err := m.rng.FillBytes(x[:]); err != nil {
		return fail("secure_rng", err)
	}
	if err := m.rng.FillBytes(y[:]); err != nil {
		return fail("secure_rng", err)
	}
	if x == y || x == [32]byte{} {
		return fail("secure_rng", errors.New("generator repeated output"))
	}
	passed = append(passed, "secure_rng")

	canary, err := NewStackCanary(m.rng)
	if err != nil {
		return fail("stack_canary", err)
	}
	if !canary.Check(canary.Value()) || canary.Check(canary.Value()^1) {
		return fail("stack_canary", errors.New("canary check mismatch"))
	}
	passed = append(passed, "stack_canary")

	return passed, nil
}

// Close releases the file sinks opened by NewManager.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	if err := m.audit.Flush(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range m.closer {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
