package browser

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle       State = "idle"
	StateBusy       State = "busy"
	StateUnhealthy  State = "unhealthy"
	StateTerminated State = "terminated"
)

// Conn is the minimal surface the pool needs from an underlying browser
// tab. The rod layer supplies the real implementation; tests supply fakes.
type Conn interface {
	// Probe is a lightweight liveness check: is the underlying browser
	// process still responsive.
	Probe(ctx context.Context) error

	// Close releases the underlying resource.
	Close() error
}

// Factory creates a fresh Conn.
type Factory func(ctx context.Context) (Conn, error)

// Session wraps one browser tab with lifecycle metadata. A session is busy
// for at most one task at a time; the pool enforces this by handing each
// session to exactly one caller between Acquire and Release.
type Session struct {
	id      string
	conn    Conn
	created time.Time

	mu       sync.Mutex
	state    State
	lastUsed time.Time
	uses     int
}

func newSession(conn Conn) *Session {
	return &Session{
		id:      uuid.NewString(),
		conn:    conn,
		created: time.Now(),
		state:   StateIdle,
	}
}

// ID returns the session identity.
func (s *Session) ID() string { return s.id }

// Conn returns the underlying browser connection.
func (s *Session) Conn() Conn { return s.conn }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Uses returns the handled-task counter.
func (s *Session) Uses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uses
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// markTerminated flips the session to terminated and reports whether it
// was still busy, so the pool can settle its busy count exactly once.
func (s *Session) markTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasBusy := s.state == StateBusy
	s.state = StateTerminated
	return wasBusy
}

// recordUse bumps the handled-task counter and the last-used timestamp.
func (s *Session) recordUse() {
	s.mu.Lock()
	s.uses++
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// expired reports whether the session hit its use-count or age ceiling.
// Browser engines accumulate memory under heavy DOM churn, so sessions are
// recycled proactively instead of living forever.
func (s *Session) expired(maxUses int, maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxUses > 0 && s.uses >= maxUses {
		return true
	}
	if maxAge > 0 && time.Since(s.created) >= maxAge {
		return true
	}
	return false
}
