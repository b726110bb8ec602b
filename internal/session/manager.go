// ABOUTME: Manages the identity -> session registry, per-session serialization, and expiry sweeping.
// ABOUTME: Many sessions run concurrently; work within one session is strictly serial.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleybot/parley/internal/memory"
	"github.com/parleybot/parley/internal/store"
	"github.com/parleybot/parley/internal/window"
)

// ErrSessionBusy indicates a non-blocking access attempt while another
// operation holds the session's processing token. Recoverable by retrying
// or by using the queueing variant.
var ErrSessionBusy = errors.New("session busy")

// ErrSessionNotFound indicates the identity has no active session.
var ErrSessionNotFound = errors.New("session not found")

// resolveAttempts bounds the resolve/acquire loop against sessions expiring
// between resolution and token acquisition.
const resolveAttempts = 3

// Config holds the manager's bounds. All values are configuration inputs;
// nothing here is hardcoded policy.
type Config struct {
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	MaxSessions    int // 0 means unbounded
	ContextBudget  int
	MemoryCapacity int
	MemoryMaxAge   time.Duration
}

// Archiver is what the manager needs from storage: a place to put retiring
// sessions. store.NopStore satisfies it.
type Archiver interface {
	ArchiveSession(ctx context.Context, arc *store.SessionArchive) error
}

// DebugInfo is the management-surface view of one session.
type DebugInfo struct {
	TurnCount    int
	MemoryCount  int
	LastActivity time.Time
	State        State
}

// Manager owns the identity -> session registry. The registry uses per-key
// insert-if-absent under one short-lived map lock; long operations hold only
// the per-session token, so unrelated sessions never serialize each other.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg      Config
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager validates cfg and returns a manager. Zero or negative budgets
// are configuration errors and fail here, not at first use.
func NewManager(cfg Config, archiver Archiver, logger *slog.Logger) (*Manager, error) {
	if cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("session idle timeout must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("session sweep interval must be positive")
	}
	if cfg.ContextBudget <= 0 {
		return nil, window.ErrInvalidBudget
	}
	if cfg.MemoryCapacity <= 0 {
		return nil, memory.ErrInvalidCapacity
	}
	if archiver == nil {
		archiver = store.NopStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		archiver: archiver,
		logger:   logger.With("component", "session"),
		now:      time.Now,
	}, nil
}

// ResolveOrCreate returns the active session for identity, creating one if
// none exists. Concurrent calls for the same unseen identity observe the
// same created session: creation is an insert-if-absent under the registry
// write lock.
func (m *Manager) ResolveOrCreate(identity string) (*Session, error) {
	now := m.now()

	m.mu.RLock()
	s := m.sessions[identity]
	m.mu.RUnlock()
	if s != nil && !s.isExpired(now) {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock: another caller may have won the race.
	if s := m.sessions[identity]; s != nil && !s.isExpired(now) {
		return s, nil
	}

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.reclaimLocked(now)
	}

	s, err := m.newSession(identity, now)
	if err != nil {
		return nil, err
	}
	m.sessions[identity] = s

	m.logger.Info("session created",
		"session_id", s.ID,
		"identity", identity,
		"total_sessions", len(m.sessions),
	)
	return s, nil
}

func (m *Manager) newSession(identity string, now time.Time) (*Session, error) {
	w, err := window.New(m.cfg.ContextBudget)
	if err != nil {
		return nil, err
	}
	pool, err := memory.NewPool(m.cfg.MemoryCapacity)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:           uuid.New().String(),
		Identity:     identity,
		CreatedAt:    now,
		Window:       w,
		Memory:       pool,
		token:        make(chan struct{}, 1),
		lastActivity: now,
		expiresAt:    now.Add(m.cfg.IdleTimeout),
	}, nil
}

// WithSession runs fn against the identity's session while holding its
// processing token. Callers that arrive while the token is held queue in
// FIFO order. The token is released and last-activity refreshed on every
// exit path, including panics and fn errors.
func (m *Manager) WithSession(ctx context.Context, identity string, fn func(*Session) error) error {
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		s, err := m.ResolveOrCreate(identity)
		if err != nil {
			return err
		}

		if !s.acquire(ctx.Done()) {
			return ctx.Err()
		}

		// The session may have been retired while this caller queued;
		// loop to resolve a fresh one.
		if s.isExpired(m.now()) {
			s.release()
			continue
		}

		return m.runHeld(s, fn)
	}
	return fmt.Errorf("session for %s kept expiring during acquisition", identity)
}

// TryWithSession is the non-blocking variant: it fails with ErrSessionBusy
// instead of queueing.
func (m *Manager) TryWithSession(identity string, fn func(*Session) error) error {
	s, err := m.ResolveOrCreate(identity)
	if err != nil {
		return err
	}
	if !s.tryAcquire() {
		return ErrSessionBusy
	}
	if s.isExpired(m.now()) {
		s.release()
		return ErrSessionNotFound
	}
	return m.runHeld(s, fn)
}

// runHeld executes fn with the token already held.
func (m *Manager) runHeld(s *Session, fn func(*Session) error) error {
	defer func() {
		s.touch(m.cfg.IdleTimeout, m.now())
		s.release()
	}()
	return fn(s)
}

// SweepExpired retires sessions whose last activity exceeds the idle
// timeout. It is safe to run concurrently with normal traffic: a session
// whose token cannot be taken without blocking is in flight and is left for
// the next sweep. Returns the number of sessions retired.
func (m *Manager) SweepExpired(ctx context.Context) int {
	now := m.now()

	m.mu.RLock()
	candidates := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.isExpired(now) {
			candidates = append(candidates, s)
		}
	}
	m.mu.RUnlock()

	count := 0
	for _, s := range candidates {
		if m.retire(ctx, s, store.ReasonExpired, false) {
			count++
		}
	}

	if count > 0 {
		m.logger.Info("swept expired sessions", "count", count)
	}
	return count
}

// ForceExpire retires the identity's session immediately, queueing behind
// any in-flight operation.
func (m *Manager) ForceExpire(ctx context.Context, identity string) error {
	m.mu.RLock()
	s := m.sessions[identity]
	m.mu.RUnlock()
	if s == nil {
		return ErrSessionNotFound
	}
	if !m.retire(ctx, s, store.ReasonForced, true) {
		return ctx.Err()
	}
	return nil
}

// retire takes the session's token (blocking when wait is true), marks it
// expired, archives it, and removes it from the registry. Returns false if
// the token could not be taken.
func (m *Manager) retire(ctx context.Context, s *Session, reason store.ArchiveReason, wait bool) bool {
	if wait {
		if !s.acquire(ctx.Done()) {
			return false
		}
	} else if !s.tryAcquire() {
		return false
	}

	// Activity may have arrived between candidate selection and token
	// acquisition; an expired-reason retire must re-check.
	if reason == store.ReasonExpired && !s.isExpired(m.now()) {
		s.release()
		return false
	}

	s.markExpired()
	m.archive(ctx, s, reason)
	s.release()

	m.mu.Lock()
	if m.sessions[s.Identity] == s {
		delete(m.sessions, s.Identity)
	}
	m.mu.Unlock()

	m.logger.Debug("session retired",
		"session_id", s.ID,
		"identity", s.Identity,
		"reason", reason,
	)
	return true
}

// archive snapshots the session into the store. Called with the token held,
// so window and memory reads are consistent. Archival failure is logged, not
// propagated: losing a transcript must not wedge session lifecycle.
func (m *Manager) archive(ctx context.Context, s *Session, reason store.ArchiveReason) {
	turns := s.Window.Snapshot()
	memories := s.Memory.Snapshot()

	arc := &store.SessionArchive{
		ID:           uuid.New().String(),
		SessionID:    s.ID,
		Identity:     s.Identity,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity(),
		Reason:       reason,
		ArchivedAt:   m.now(),
		Turns:        make([]store.ArchivedTurn, len(turns)),
		Memories:     make([]store.ArchivedMemory, len(memories)),
	}
	for i, t := range turns {
		arc.Turns[i] = store.ArchivedTurn{
			Role:      string(t.Role),
			Content:   t.Content,
			Timestamp: t.Timestamp,
		}
	}
	for i, e := range memories {
		arc.Memories[i] = store.ArchivedMemory{
			Fact:       e.Fact,
			Importance: e.Importance,
			CreatedAt:  e.CreatedAt,
		}
	}

	if err := m.archiver.ArchiveSession(ctx, arc); err != nil {
		m.logger.Error("archiving session failed",
			"session_id", s.ID,
			"identity", s.Identity,
			"error", err,
		)
	}
}

// reclaimLocked frees registry slots when the session cap is reached. It
// first drops token-free expired sessions, then falls back to the idlest
// token-free session. Called with the registry write lock held; archival
// runs inline with a background context since the caller's request context
// should not govern another session's persistence.
func (m *Manager) reclaimLocked(now time.Time) {
	ctx := context.Background()

	for identity, s := range m.sessions {
		if s.isExpired(now) && s.tryAcquire() {
			s.markExpired()
			m.archive(ctx, s, store.ReasonExpired)
			s.release()
			delete(m.sessions, identity)
		}
	}
	if m.cfg.MaxSessions <= 0 || len(m.sessions) < m.cfg.MaxSessions {
		return
	}

	var victim *Session
	for _, s := range m.sessions {
		if victim == nil || s.LastActivity().Before(victim.LastActivity()) {
			victim = s
		}
	}
	if victim == nil || !victim.tryAcquire() {
		// Every session is mid-flight; admit the newcomer over the cap
		// rather than reject traffic.
		m.logger.Warn("session cap reached with all sessions in flight",
			"max_sessions", m.cfg.MaxSessions)
		return
	}
	victim.markExpired()
	m.archive(ctx, victim, store.ReasonCapacity)
	victim.release()
	delete(m.sessions, victim.Identity)

	m.logger.Info("session evicted for capacity",
		"session_id", victim.ID,
		"identity", victim.Identity,
	)
}

// ActiveCount returns the number of registered, non-retired sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Debug returns the management-surface view of a session without touching
// its window or memory contents beyond their counts. Fails with
// ErrSessionBusy rather than queueing behind a model call.
func (m *Manager) Debug(identity string) (*DebugInfo, error) {
	m.mu.RLock()
	s := m.sessions[identity]
	m.mu.RUnlock()
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if !s.tryAcquire() {
		return nil, ErrSessionBusy
	}
	defer s.release()

	return &DebugInfo{
		TurnCount:    s.Window.Len(),
		MemoryCount:  s.Memory.Len(),
		LastActivity: s.LastActivity(),
		State:        s.State(),
	}, nil
}

// Run drives the periodic sweep until ctx is cancelled. Expired-session
// sweeping also enforces the memory pool's hard age ceiling on survivors.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	m.logger.Info("session sweeper started",
		"interval", m.cfg.SweepInterval,
		"idle_timeout", m.cfg.IdleTimeout,
	)
	for {
		select {
		case <-ticker.C:
			m.SweepExpired(ctx)
			m.expireMemories()
		case <-ctx.Done():
			m.logger.Info("session sweeper stopped")
			return
		}
	}
}

// expireMemories applies the memory max-age ceiling across live sessions,
// skipping any session whose token is held.
func (m *Manager) expireMemories() {
	if m.cfg.MemoryMaxAge <= 0 {
		return
	}

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if !s.tryAcquire() {
			continue
		}
		if n := s.Memory.ExpireOlderThan(m.cfg.MemoryMaxAge); n > 0 {
			m.logger.Debug("expired aged memories",
				"session_id", s.ID,
				"count", n,
			)
		}
		s.release()
	}
}
