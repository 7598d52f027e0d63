package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/metrics"
)

const (
	DefaultMaxSessions    = 10
	DefaultSessionTimeout = 300 * time.Second
	DefaultSweepInterval  = 30 * time.Second
	DefaultCommandTimeout = 10 * time.Second
)

type SessionOptions struct {
	MaxSessions int
	// Timeout is the idle time after which a session is swept.
	Timeout       time.Duration
	SweepInterval time.Duration
	// CommandTimeout bounds a single Invoke unless ctx has an earlier deadline.
	CommandTimeout   time.Duration
	OutputBufferSize int
	Now              func() time.Time
}

func (o *SessionOptions) setDefaults() {
	if o.MaxSessions <= 0 {
		o.MaxSessions = DefaultMaxSessions
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultSessionTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.OutputBufferSize == 0 {
		o.OutputBufferSize = interfaces.DefaultOutputBufferSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// SessionInfo is a snapshot of a host session.
type SessionInfo struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
}

type session struct {
	// Held for the duration of a command so a session never has two in
	// flight.
	mu sync.Mutex

	id        string
	teeID     uint32
	userID    string
	createdAt time.Time

	// Guarded by SessionManager.mu.
	lastActivity time.Time
	gone         bool
}

// SessionManager owns the host side of TA sessions: it bounds how many are
// open, serialises commands per session, expires idle sessions and discards
// sessions whose transport failed mid-command.
type SessionManager struct {
	transport Transport
	opts      SessionOptions
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
	pending  int

	// Tracks background closes of discarded sessions.
	wg sync.WaitGroup
}

// NewSessionManager returns a manager over transport. m may be nil.
func NewSessionManager(transport Transport, opts SessionOptions, log *slog.Logger, m *metrics.Metrics) *SessionManager {
	opts.setDefaults()
	return &SessionManager{
		transport: transport,
		opts:      opts,
		log:       log,
		metrics:   m,
		sessions:  make(map[string]*session),
	}
}

func (m *SessionManager) Options() SessionOptions { return m.opts }

// CreateSession opens a TA session and returns its host id.
func (m *SessionManager) CreateSession(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	if len(m.sessions)+m.pending >= m.opts.MaxSessions {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: limit %d", interfaces.ErrMaxSessions, m.opts.MaxSessions)
	}
	m.pending++
	m.mu.Unlock()

	teeID, err := m.transport.OpenSession(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending--
	if err != nil {
		return "", fmt.Errorf("%w: open: %w", interfaces.ErrSession, err)
	}

	now := m.opts.Now()
	s := &session{
		id:           uuid.NewString(),
		teeID:        teeID,
		userID:       userID,
		createdAt:    now,
		lastActivity: now,
	}
	m.sessions[s.id] = s
	m.metrics.SessionOpened()
	m.log.Debug("Session created", "session", s.id, "teeSession", teeID)
	return s.id, nil
}

// Invoke runs cmd on the session. An idle-expired session is closed and
// reported as not found. When the transport fails the session is discarded
// and ErrSessionPoisoned is returned alongside the transport error; the
// command is not retried.
func (m *SessionManager) Invoke(ctx context.Context, sessionID string, cmd interfaces.CommandID, input []byte) (Result, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	expired := ok && m.expired(s)
	m.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", interfaces.ErrSessionNotFound, sessionID)
	}
	if expired {
		m.closeExpired(ctx, s)
		return Result{}, fmt.Errorf("%w: %s expired", interfaces.ErrSessionNotFound, sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m.mu.Lock()
	if s.gone {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s closed", interfaces.ErrSessionNotFound, sessionID)
	}
	s.lastActivity = m.opts.Now()
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, m.opts.CommandTimeout)
	defer cancel()
	res, err := m.transport.Invoke(cctx, s.teeID, cmd, input, m.opts.OutputBufferSize)
	if err != nil {
		if errors.Is(err, interfaces.ErrInvalidInput) {
			return Result{}, err
		}
		m.discard(s)
		return Result{}, fmt.Errorf("%w: %s: %w", interfaces.ErrSessionPoisoned, cmd, err)
	}

	m.mu.Lock()
	s.lastActivity = m.opts.Now()
	m.mu.Unlock()
	return res, nil
}

// CloseSession closes a session after any in-flight command. Closing an
// unknown or already closed session is not an error.
func (m *SessionManager) CloseSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		m.removeLocked(s)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return m.closeTEE(ctx, s)
}

// Sweep closes every session idle for longer than the timeout and returns
// how many were closed.
func (m *SessionManager) Sweep(ctx context.Context) int {
	m.mu.Lock()
	var expired []*session
	for _, s := range m.sessions {
		if m.expired(s) {
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	closed := 0
	for _, s := range expired {
		if m.closeExpired(ctx, s) {
			closed++
		}
	}
	if closed > 0 {
		m.log.Info("Expired idle sessions", "count", closed)
	}
	return closed
}

// Run sweeps every SweepInterval until ctx is done, then closes all
// sessions.
func (m *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CommandTimeout)
			m.CloseAll(closeCtx)
			cancel()
			return
		}
	}
}

func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) Session(sessionID string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return SessionInfo{}, false
	}
	return SessionInfo{ID: s.id, UserID: s.userID, CreatedAt: s.createdAt, LastActivity: s.lastActivity}, true
}

// CloseAll closes every session and waits for background closes of
// discarded sessions.
func (m *SessionManager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
		m.removeLocked(s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.mu.Lock()
		if err := m.closeTEE(ctx, s); err != nil {
			m.log.Warn("Failed to close session", "session", s.id, "err", err)
		}
		s.mu.Unlock()
	}
	m.wg.Wait()
}

// expired must be called with m.mu held.
func (m *SessionManager) expired(s *session) bool {
	return m.opts.Now().Sub(s.lastActivity) > m.opts.Timeout
}

func (m *SessionManager) closeExpired(ctx context.Context, s *session) bool {
	m.mu.Lock()
	if s.gone || !m.expired(s) {
		m.mu.Unlock()
		return false
	}
	m.removeLocked(s)
	m.mu.Unlock()

	m.metrics.SessionExpired()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.closeTEE(ctx, s); err != nil {
		m.log.Warn("Failed to close expired session", "session", s.id, "err", err)
	}
	return true
}

// discard drops a session whose transport failed. The TA side is closed in
// the background because the abandoned command may still hold it.
func (m *SessionManager) discard(s *session) {
	m.mu.Lock()
	if s.gone {
		m.mu.Unlock()
		return
	}
	m.removeLocked(s)
	m.mu.Unlock()

	m.metrics.SessionPoisoned()
	m.log.Warn("Session poisoned by transport failure", "session", s.id, "teeSession", s.teeID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
		defer cancel()
		if err := m.transport.CloseSession(ctx, s.teeID); err != nil && !errors.Is(err, interfaces.ErrSessionNotFound) {
			m.log.Warn("Failed to close poisoned session", "session", s.id, "err", err)
		}
	}()
}

// removeLocked must be called with m.mu held.
func (m *SessionManager) removeLocked(s *session) {
	if s.gone {
		return
	}
	s.gone = true
	delete(m.sessions, s.id)
	m.metrics.SessionClosed()
}

func (m *SessionManager) closeTEE(ctx context.Context, s *session) error {
	err := m.transport.CloseSession(ctx, s.teeID)
	if err != nil && !errors.Is(err, interfaces.ErrSessionNotFound) {
		return fmt.Errorf("%w: close %s: %w", interfaces.ErrSession, s.id, err)
	}
	m.log.Debug("Session closed", "session", s.id)
	return nil
}
