// Package browser manages a bounded pool of browser sessions.
//
// Sessions wrap heavyweight Chromium tabs: expensive to create, prone to
// crashing, and leaky under long use. The pool creates them lazily up to a
// fixed capacity, probes liveness before every handout, retires sessions
// that fail a probe or hit their recycling ceilings, and drains with a
// grace deadline on shutdown.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/snaredev/snare/config"
	"github.com/snaredev/snare/models"
)

// ErrPoolExhausted is returned by Acquire when no session becomes available
// within the configured wait.
var ErrPoolExhausted = errors.New("browser: no session available within acquire timeout")

// ErrPoolClosed is returned by Acquire after Shutdown has begun.
var ErrPoolClosed = errors.New("browser: pool is shut down")

// probeTimeout bounds the pre-handout liveness check.
const probeTimeout = 2 * time.Second

// Pool owns up to Capacity live sessions. Safe for concurrent use.
type Pool struct {
	cfg     config.PoolConfig
	factory Factory

	mu   sync.Mutex
	all  map[string]*Session
	idle chan *Session

	busy    atomic.Int32
	closing atomic.Bool
}

// NewPool creates an empty pool. Sessions are created lazily on demand, so
// a pool is cheap until work arrives.
func NewPool(cfg config.PoolConfig, factory Factory) *Pool {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	return &Pool{
		cfg:     cfg,
		factory: factory,
		all:     make(map[string]*Session),
		idle:    make(chan *Session, cfg.Capacity),
	}
}

// Acquire hands out an idle session, creating one if the pool is under
// capacity. It blocks cooperatively until a session frees up, the caller's
// context is done, or the acquire timeout elapses (ErrPoolExhausted).
// A session never leaves Acquire without passing a liveness probe.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if p.closing.Load() {
		return nil, ErrPoolClosed
	}

	timeout := time.NewTimer(p.cfg.AcquireTimeout)
	defer timeout.Stop()

	for {
		// Fast path: an idle session is ready.
		select {
		case s := <-p.idle:
			if ready := p.vet(ctx, s); ready != nil {
				return ready, nil
			}
			continue
		default:
		}

		// Under capacity: create a fresh session.
		if s, err := p.tryCreate(ctx); s != nil {
			s.setState(StateBusy)
			p.busy.Add(1)
			return s, nil
		} else if err != nil {
			return nil, models.NewScrapeError(models.ErrKindBrowserCrash,
				"failed to create browser session", err)
		}

		// At capacity with nothing idle: wait.
		select {
		case s := <-p.idle:
			if ready := p.vet(ctx, s); ready != nil {
				return ready, nil
			}
		case <-timeout.C:
			return nil, ErrPoolExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// vet validates an idle session before handout: recycling ceilings first,
// then the liveness probe. Returns nil when the session was retired, in
// which case the caller loops (the freed capacity lets it create a
// replacement).
func (p *Pool) vet(ctx context.Context, s *Session) *Session {
	if s.expired(p.cfg.MaxSessionUses, p.cfg.MaxSessionAge) {
		slog.Debug("pool: recycling session", "session", s.ID(), "uses", s.Uses())
		p.Retire(s)
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := s.conn.Probe(probeCtx)
	cancel()
	if err != nil {
		slog.Warn("pool: session failed liveness probe, retiring",
			"session", s.ID(), "error", err)
		s.setState(StateUnhealthy)
		p.Retire(s)
		return nil
	}

	s.setState(StateBusy)
	p.busy.Add(1)
	return s
}

// tryCreate makes a new session if the pool is under capacity.
// Returns (nil, nil) when at capacity.
func (p *Pool) tryCreate(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if len(p.all) >= p.cfg.Capacity {
		p.mu.Unlock()
		return nil, nil
	}
	// Reserve the slot before the (slow) factory call so concurrent
	// acquirers cannot overshoot capacity.
	placeholder := &Session{id: uuid.NewString(), state: StateIdle}
	p.all[placeholder.id] = placeholder
	p.mu.Unlock()

	conn, err := p.factory(ctx)

	p.mu.Lock()
	delete(p.all, placeholder.id)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	s := newSession(conn)
	p.all[s.id] = s
	p.mu.Unlock()

	slog.Debug("pool: created session", "session", s.ID())
	return s, nil
}

// Release returns a session after a task. Healthy sessions go back to the
// idle set; sessions past their recycling ceiling are retired, with a
// replacement created immediately so waiters are not stranded.
func (p *Pool) Release(s *Session) {
	p.busy.Add(-1)
	s.recordUse()
	// Leave the busy state before any retirement below, so Retire does
	// not settle the busy count a second time.
	s.setState(StateIdle)

	if p.closing.Load() {
		p.Retire(s)
		return
	}

	if s.expired(p.cfg.MaxSessionUses, p.cfg.MaxSessionAge) {
		slog.Debug("pool: retiring session at recycle ceiling",
			"session", s.ID(), "uses", s.Uses())
		p.Retire(s)
		p.replace()
		return
	}

	select {
	case p.idle <- s:
	default:
		// Idle buffer full can only mean accounting drift; close rather
		// than leak the tab.
		p.Retire(s)
	}
}

// Retire removes a session from the pool and closes its underlying tab.
// A retired session is never handed to a subsequent task. Retiring a
// session that is still busy (a crashed tab mid-task) releases its busy
// slot, so stats and the shutdown wait stay truthful.
func (p *Pool) Retire(s *Session) {
	p.mu.Lock()
	delete(p.all, s.id)
	p.mu.Unlock()

	if s.markTerminated() {
		p.busy.Add(-1)
	}
	if err := s.conn.Close(); err != nil {
		slog.Warn("pool: closing retired session failed", "session", s.ID(), "error", err)
	}
}

// replace creates a fresh idle session after a retirement, capacity
// permitting. Failures are logged and left for the next Acquire to retry.
func (p *Pool) replace() {
	s, err := p.tryCreate(context.Background())
	if err != nil {
		slog.Warn("pool: failed to replace retired session", "error", err)
		return
	}
	if s == nil {
		return
	}
	select {
	case p.idle <- s:
	default:
		p.Retire(s)
	}
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() models.PoolStats {
	p.mu.Lock()
	live := len(p.all)
	p.mu.Unlock()
	return models.PoolStats{
		Capacity: p.cfg.Capacity,
		Live:     live,
		Busy:     int(p.busy.Load()),
		Idle:     len(p.idle),
	}
}

// Shutdown drains the pool: idle sessions close immediately, busy sessions
// get the grace deadline to finish, stragglers are force-terminated.
func (p *Pool) Shutdown() {
	p.closing.Store(true)

	// Drain the idle set.
drain:
	for {
		select {
		case s := <-p.idle:
			p.Retire(s)
		default:
			break drain
		}
	}

	// Wait out busy sessions up to the grace deadline. Sessions released
	// during the wait are retired by Release (closing flag).
	deadline := time.Now().Add(p.cfg.ShutdownGrace)
	for p.busy.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	// Force-terminate anything still tracked.
	p.mu.Lock()
	remaining := make([]*Session, 0, len(p.all))
	for _, s := range p.all {
		remaining = append(remaining, s)
	}
	p.mu.Unlock()

	for _, s := range remaining {
		if s.conn != nil {
			slog.Warn("pool: force-terminating session at shutdown", "session", s.ID())
			p.Retire(s)
		}
	}
	slog.Info("pool: shutdown complete")
}
