// Package ta implements the trusted application side of the command
// protocol.
//
// A TrustedApp moves through Uninitialized, Created and Destroyed. Create
// builds the Context every handler receives; sessions can only be opened
// while the TA is Created. Each invocation carries a command id and a
// Params value: the handler's CBOR input is decoded from the input slot and
// its CBOR output is written to the fixed-size output slot. Failures always
// leave diagnostic text in the output slot and return a non-success Status.
package ta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/tee-wallet-kms/audit"
	"github.com/ruteri/tee-wallet-kms/interfaces"
)

const component = "trusted_app"

type State int

const (
	StateUninitialized State = iota
	StateCreated
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreated:
		return "created"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("state_%d", int(s))
}

// DefaultMaxSessions bounds concurrently open sessions.
const DefaultMaxSessions = 10

type session struct {
	// Serialises commands within the session.
	mu     sync.Mutex
	id     uint32
	closed bool
}

type TrustedApp struct {
	mu          sync.Mutex
	state       State
	deps        Deps
	tc          *Context
	sessions    map[uint32]*session
	nextID      uint32
	maxSessions int
	log         *slog.Logger
}

// New returns an uninitialised TA. maxSessions <= 0 selects DefaultMaxSessions.
func New(deps Deps, maxSessions int) *TrustedApp {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
		deps.Log = log
	}
	return &TrustedApp{
		deps:        deps,
		sessions:    make(map[uint32]*session),
		maxSessions: maxSessions,
		log:         log,
	}
}

func (t *TrustedApp) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Create performs one-time TA initialisation.
func (t *TrustedApp) Create(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateUninitialized {
		return fmt.Errorf("%w: create in state %s", interfaces.ErrBadState, t.state)
	}

	start := time.Now()
	tc, err := newContext(ctx, t.deps)
	t.deps.Security.AuditInfo(audit.TEEOperation{
		Operation:  "ta_create",
		DurationMs: uint64(time.Since(start).Milliseconds()),
		Success:    err == nil,
	}, component)
	if err != nil {
		return err
	}
	t.tc = tc
	t.state = StateCreated
	t.log.Info("Trusted application created", "wallets", len(tc.Wallets.List()))
	return nil
}

// OpenSession returns a new session id.
func (t *TrustedApp) OpenSession() (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateCreated {
		return 0, fmt.Errorf("%w: open session in state %s", interfaces.ErrBadState, t.state)
	}
	if len(t.sessions) >= t.maxSessions {
		return 0, fmt.Errorf("%w: %d sessions open", interfaces.ErrMaxSessions, len(t.sessions))
	}
	t.nextID++
	// Zero is never handed out so it can mean "no session".
	if t.nextID == 0 {
		t.nextID = 1
	}
	t.sessions[t.nextID] = &session{id: t.nextID}
	return t.nextID, nil
}

// CloseSession ends a session. Closing an unknown session reports
// ErrSessionNotFound.
func (t *TrustedApp) CloseSession(id uint32) error {
	t.mu.Lock()
	s, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", interfaces.ErrSessionNotFound, id)
	}
	// Wait for an in-flight command to finish.
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (t *TrustedApp) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// InvokeCommand dispatches cmd on session id. On failure the output slot of
// p holds a diagnostic message and the returned Status is not
// StatusSuccess. Unknown commands fail with StatusNotSupported before any
// handler or decoder runs.
func (t *TrustedApp) InvokeCommand(ctx context.Context, id uint32, cmd interfaces.CommandID, p *Params) Status {
	start := time.Now()
	status := t.invoke(ctx, id, cmd, p)
	if t.deps.Observe != nil {
		t.deps.Observe(cmd, status, time.Since(start))
	}
	return status
}

func (t *TrustedApp) invoke(ctx context.Context, id uint32, cmd interfaces.CommandID, p *Params) Status {
	h, ok := commandTable[cmd]
	if !ok {
		p.writeMessage(fmt.Sprintf("unsupported command %d", uint32(cmd)))
		return StatusNotSupported
	}

	t.mu.Lock()
	state, tc := t.state, t.tc
	s, found := t.sessions[id]
	t.mu.Unlock()

	if state != StateCreated {
		p.writeMessage(fmt.Sprintf("trusted application is %s", state))
		return StatusBadState
	}
	if !found {
		p.writeMessage(fmt.Sprintf("unknown session %d", id))
		return StatusItemNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		p.writeMessage(fmt.Sprintf("session %d closed", id))
		return StatusItemNotFound
	}

	err := h(ctx, tc, p)
	if err == nil {
		return StatusSuccess
	}

	status := statusFor(err)
	p.writeMessage(err.Error())
	if status == StatusSecurity {
		t.deps.Security.AuditSecurity(audit.SecurityViolation{
			ViolationType: "command_failed",
			Details:       fmt.Sprintf("%s: %v", cmd, err),
		}, component)
	}
	if !errors.Is(err, interfaces.ErrBufferTooSmall) {
		t.log.Debug("Command failed", "command", cmd.String(), "session", id, "status", status.String(), "err", err)
	}
	return status
}

// Destroy closes every session and zeroes TA state. It is idempotent.
func (t *TrustedApp) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateDestroyed {
		return
	}
	for id, s := range t.sessions {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		delete(t.sessions, id)
	}
	if t.tc != nil {
		t.tc.close()
		t.tc = nil
	}
	t.deps.Engine.Destroy()
	t.state = StateDestroyed
	t.log.Info("Trusted application destroyed")
}

// Context returns the handler state, or nil unless the TA is Created.
func (t *TrustedApp) Context() *Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tc
}
