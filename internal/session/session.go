// ABOUTME: Session record: per-identity conversational state plus the processing token.
// ABOUTME: The token serializes all mutation of the session's window and memory pool.

package session

import (
	"sync"
	"time"

	"github.com/parleybot/parley/internal/memory"
	"github.com/parleybot/parley/internal/window"
)

// State describes where a session is in its lifecycle.
type State string

const (
	StateActive  State = "active" // processing token currently held
	StateIdle    State = "idle"
	StateExpired State = "expired"
)

// Session is the per-identity conversational state container. The Window and
// Memory fields are owned exclusively by this session and must only be
// touched while the processing token is held (via Manager.WithSession or
// Manager.TryWithSession).
type Session struct {
	ID              string
	Identity        string
	CreatedAt       time.Time
	ModelPreference string

	Window *window.Window
	Memory *memory.Pool

	// token enforces at most one in-flight processing step. A buffered
	// channel is used rather than a mutex because blocked senders are
	// woken in FIFO arrival order, which is the queueing policy callers
	// are promised.
	token chan struct{}

	// meta guards the lifecycle fields below. It is separate from the
	// processing token so the sweeper and the debug surface can read
	// timestamps without queueing behind a model call.
	meta         sync.Mutex
	lastActivity time.Time
	expiresAt    time.Time
	expired      bool
}

// acquire blocks until the processing token is available or stop yields.
// Returns false if stop won the race.
func (s *Session) acquire(stop <-chan struct{}) bool {
	select {
	case s.token <- struct{}{}:
		return true
	case <-stop:
		return false
	}
}

// tryAcquire takes the processing token without blocking.
func (s *Session) tryAcquire() bool {
	select {
	case s.token <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) release() { <-s.token }

// touch refreshes last-activity and extends the expiry deadline.
func (s *Session) touch(idleTimeout time.Duration, now time.Time) {
	s.meta.Lock()
	s.lastActivity = now
	s.expiresAt = now.Add(idleTimeout)
	s.meta.Unlock()
}

// isExpired reports whether the session has been retired or has passed its
// deadline.
func (s *Session) isExpired(now time.Time) bool {
	s.meta.Lock()
	defer s.meta.Unlock()
	return s.expired || now.After(s.expiresAt)
}

// markExpired retires the session. Called with the processing token held.
func (s *Session) markExpired() {
	s.meta.Lock()
	s.expired = true
	s.meta.Unlock()
}

// LastActivity returns the time of the most recent processed event.
func (s *Session) LastActivity() time.Time {
	s.meta.Lock()
	defer s.meta.Unlock()
	return s.lastActivity
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.meta.Lock()
	expired := s.expired
	s.meta.Unlock()
	if expired {
		return StateExpired
	}
	if len(s.token) == 1 {
		return StateActive
	}
	return StateIdle
}
