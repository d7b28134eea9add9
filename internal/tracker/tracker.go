// Package tracker keeps per-address request history, temporary blocks and the
// count of authenticated sessions for a server.
package tracker

import (
	"sync"
	"time"
)

const (
	defaultMaxConnections = 1
	defaultWindow         = 60 * time.Second
	defaultMaxRequests    = 100
	defaultBlockDuration  = 2 * time.Second
	defaultIdleTimeout    = 5 * time.Minute
)

// Config sets the tracker policy. Zero fields take defaults.
type Config struct {
	// MaxConnections caps concurrently authenticated addresses.
	MaxConnections int
	// Window is the sliding interval requests are counted over.
	Window time.Duration
	// MaxRequests is the number of requests allowed per Window.
	MaxRequests int
	// BlockDuration is how long an address stays blocked after exceeding
	// MaxRequests.
	BlockDuration time.Duration
	// IdleTimeout purges records not seen for this long.
	IdleTimeout time.Duration
}

type record struct {
	lastSeen      time.Time
	authenticated bool
	requests      []time.Time
}

// Tracker is safe for concurrent use. Each method is atomic, so a
// check-then-act sequence inside one call never interleaves with another.
type Tracker struct {
	mu      sync.Mutex
	timeNow func() time.Time

	cfg     Config
	records map[string]*record
	blocked map[string]time.Time
	active  int
}

// New returns a Tracker with cfg's policy.
func New(cfg Config) *Tracker {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultMaxRequests
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = defaultBlockDuration
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Tracker{
		timeNow: time.Now,
		cfg:     cfg,
		records: make(map[string]*record),
		blocked: make(map[string]time.Time),
	}
}

// CanConnect reports whether another session may authenticate.
func (t *Tracker) CanConnect(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanupLocked(t.timeNow())
	return t.active < t.cfg.MaxConnections
}

// IsRateLimited records a request from addr and reports whether addr is over
// its budget. A blocked address is reported without recording. Crossing the
// limit starts a block of BlockDuration.
func (t *Tracker) IsRateLimited(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.timeNow()
	t.cleanupLocked(now)

	if until, ok := t.blocked[addr]; ok {
		if now.Before(until) {
			return true
		}
		delete(t.blocked, addr)
	}

	rec := t.recordLocked(addr, now)
	rec.requests = prune(rec.requests, now.Add(-t.cfg.Window))
	rec.requests = append(rec.requests, now)

	if len(rec.requests) > t.cfg.MaxRequests {
		t.blocked[addr] = now.Add(t.cfg.BlockDuration)
		return true
	}
	return false
}

// IsBlocked reports whether addr is inside a block period. It records nothing.
func (t *Tracker) IsBlocked(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	until, ok := t.blocked[addr]
	return ok && t.timeNow().Before(until)
}

// Authenticate marks addr authenticated. Only the first call for an address
// takes a connection slot.
func (t *Tracker) Authenticate(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.recordLocked(addr, t.timeNow())
	if !rec.authenticated {
		rec.authenticated = true
		t.active++
	}
}

// Acquire authenticates addr only if a connection slot is free, checking and
// taking the slot in one step. An address that already holds a slot keeps it.
func (t *Tracker) Acquire(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.timeNow()
	t.cleanupLocked(now)

	if rec, ok := t.records[addr]; ok && rec.authenticated {
		rec.lastSeen = now
		return true
	}
	if t.active >= t.cfg.MaxConnections {
		return false
	}
	t.recordLocked(addr, now).authenticated = true
	t.active++
	return true
}

// Disconnect releases the slot held by addr, if any.
func (t *Tracker) Disconnect(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[addr]
	if !ok || !rec.authenticated {
		return
	}
	rec.authenticated = false
	t.active--
}

// Touch refreshes the last-seen time of addr.
func (t *Tracker) Touch(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recordLocked(addr, t.timeNow())
}

// ActiveConnections returns the number of authenticated addresses.
func (t *Tracker) ActiveConnections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Tracked returns the number of addresses with a record.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

func (t *Tracker) recordLocked(addr string, now time.Time) *record {
	rec, ok := t.records[addr]
	if !ok {
		rec = &record{}
		t.records[addr] = rec
	}
	rec.lastSeen = now
	return rec
}

// cleanupLocked runs on every check so expired records never outlive it.
func (t *Tracker) cleanupLocked(now time.Time) {
	for addr, rec := range t.records {
		if now.Sub(rec.lastSeen) <= t.cfg.IdleTimeout {
			continue
		}
		if rec.authenticated {
			t.active--
		}
		delete(t.records, addr)
	}
	for addr, until := range t.blocked {
		if !now.Before(until) {
			delete(t.blocked, addr)
		}
	}
}

// prune drops timestamps at or before cutoff. Timestamps are appended in
// order, so the survivors are a suffix.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
