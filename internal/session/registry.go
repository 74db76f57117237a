// Package session keeps logged-in browsers alive between requests.
//
// Expiry is measured from creation only. Lookups refresh LastUsedAt for
// observability but never push the deadline out. A leased session is never
// torn down under its holder: close and expiry remove the entry at once and
// defer browser teardown until the lease is released.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Session is a read-only view of a registry entry.
type Session struct {
	ID         string
	Owner      string
	CreatedAt  time.Time
	LastUsedAt time.Time
	TTL        time.Duration
}

// ExpiresAt is the absolute deadline of the session.
func (s Session) ExpiresAt() time.Time {
	return s.CreatedAt.Add(s.TTL)
}

// Remaining is the time left before expiry at now, floored at zero.
func (s Session) Remaining(now time.Time) time.Duration {
	return max(s.ExpiresAt().Sub(now), 0)
}

type entry struct {
	session Session
	handle  scrape.Browser
	leased  bool
	// removed marks an entry already dropped from the map whose handle
	// closes on release.
	removed bool
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.session.ExpiresAt())
}

// Config controls registry behavior.
type Config struct {
	TTL time.Duration
}

// Registry maps session ids to browser handles.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	clock    scrape.Clock
	idGen    scrape.IDGenerator
	logger   *zap.Logger
	onChange func(active int)
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg Config, clock scrape.Clock, idGen scrape.IDGenerator, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3 * time.Hour
	}
	return &Registry{
		sessions: make(map[string]*entry),
		ttl:      cfg.TTL,
		clock:    clock,
		idGen:    idGen,
		logger:   logger,
	}
}

// OnChange registers a callback invoked with the active count after every
// mutation. It is meant for gauges and must not call back into the registry.
func (r *Registry) OnChange(fn func(active int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Create registers handle for owner. The registry owns the handle from here on.
func (r *Registry) Create(handle scrape.Browser, owner string) (Session, error) {
	id, err := r.idGen.NewID()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}
	now := r.clock.Now()
	s := Session{ID: id, Owner: owner, CreatedAt: now, LastUsedAt: now, TTL: r.ttl}

	r.mu.Lock()
	r.sessions[id] = &entry{session: s, handle: handle}
	r.changedLocked()
	r.mu.Unlock()

	r.logger.Info("session created", zap.String("session_id", id), zap.Time("expires_at", s.ExpiresAt()))
	return s, nil
}

// Lookup returns the session and refreshes LastUsedAt. An expired session is
// removed and closed before scrape.ErrSessionExpired is returned; later
// lookups report scrape.ErrSessionNotFound.
func (r *Registry) Lookup(id string) (Session, error) {
	now := r.clock.Now()
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, fmt.Errorf("lookup %s: %w", id, scrape.ErrSessionNotFound)
	}
	if e.expired(now) {
		doomed := r.removeLocked(id, e)
		r.mu.Unlock()
		r.closeHandle(id, doomed)
		return Session{}, fmt.Errorf("lookup %s: %w", id, scrape.ErrSessionExpired)
	}
	e.session.LastUsedAt = now
	s := e.session
	r.mu.Unlock()
	return s, nil
}

// Checkout leases the session's page to one caller. Release the lease when
// done; a second checkout before that fails with scrape.ErrSessionBusy.
func (r *Registry) Checkout(id string) (*Lease, error) {
	now := r.clock.Now()
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("checkout %s: %w", id, scrape.ErrSessionNotFound)
	}
	if e.leased {
		r.mu.Unlock()
		return nil, fmt.Errorf("checkout %s: %w", id, scrape.ErrSessionBusy)
	}
	if e.expired(now) {
		doomed := r.removeLocked(id, e)
		r.mu.Unlock()
		r.closeHandle(id, doomed)
		return nil, fmt.Errorf("checkout %s: %w", id, scrape.ErrSessionExpired)
	}
	e.leased = true
	e.session.LastUsedAt = now
	s := e.session
	r.mu.Unlock()
	return &Lease{registry: r, entry: e, Session: s}, nil
}

// Close removes the session and closes its browser. It returns false when the
// id is unknown. Closing twice is safe.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	doomed := r.removeLocked(id, e)
	r.mu.Unlock()
	r.closeHandle(id, doomed)
	r.logger.Info("session closed", zap.String("session_id", id))
	return true
}

// Sweep removes every expired session and returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.clock.Now()
	type victim struct {
		id     string
		handle scrape.Browser
	}
	var victims []victim
	removed := 0
	r.mu.Lock()
	for id, e := range r.sessions {
		if !e.expired(now) {
			continue
		}
		removed++
		if h := r.removeLocked(id, e); h != nil {
			victims = append(victims, victim{id: id, handle: h})
		}
	}
	r.mu.Unlock()

	for _, v := range victims {
		r.closeHandle(v.id, v.handle)
	}
	return removed
}

// CloseAll closes every session; used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Close(id)
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RunSweeper sweeps on every tick until ctx ends.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("swept expired sessions", zap.Int("removed", n))
			}
		}
	}
}

// removeLocked drops e from the map and returns the handle the caller must
// close outside the lock, or nil when a lease holder will close it.
func (r *Registry) removeLocked(id string, e *entry) scrape.Browser {
	delete(r.sessions, id)
	e.removed = true
	r.changedLocked()
	if e.leased {
		return nil
	}
	return e.handle
}

func (r *Registry) changedLocked() {
	if r.onChange != nil {
		r.onChange(len(r.sessions))
	}
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	e.leased = false
	var doomed scrape.Browser
	if e.removed {
		doomed = e.handle
	} else if e.expired(r.clock.Now()) {
		doomed = r.removeLocked(e.session.ID, e)
	}
	r.mu.Unlock()
	r.closeHandle(e.session.ID, doomed)
}

func (r *Registry) closeHandle(id string, h scrape.Browser) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		r.logger.Warn("session teardown failed", zap.String("session_id", id), zap.Error(err))
	}
}

// Lease grants exclusive use of a session's page.
type Lease struct {
	Session

	registry *Registry
	entry    *entry
	once     sync.Once
}

// Page returns the leased page.
func (l *Lease) Page() scrape.Page {
	return l.entry.handle.Page()
}

// Release returns the session to the registry. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.registry.release(l.entry)
	})
}
