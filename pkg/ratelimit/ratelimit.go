// Package ratelimit implements the sliding-window message rate
// limiter. Three independent windows are enforced: per connected link,
// per originating device, and across the whole mesh. A message passes
// only when all applicable windows have room, and a rejected message
// consumes no budget anywhere.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Scope names the window that rejected a message.
type Scope string

const (
	ScopeLink   Scope = "link"
	ScopePeer   Scope = "peer"
	ScopeGlobal Scope = "global"
)

// Default window limits, all over a one minute window.
const (
	DefaultLinkLimit   = 10
	DefaultPeerLimit   = 30
	DefaultGlobalLimit = 100
	DefaultWindow      = time.Minute
)

// Violation reports which window rejected a message and when retrying
// could succeed.
type Violation struct {
	Scope      Scope
	Key        string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (v *Violation) Error() string {
	if v.Key != "" {
		return fmt.Sprintf("rate limit exceeded for %s %s: %d per %s, retry after %s",
			v.Scope, v.Key, v.Limit, v.Window, v.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("rate limit exceeded for %s scope: %d per %s, retry after %s",
		v.Scope, v.Limit, v.Window, v.RetryAfter.Round(time.Millisecond))
}

// Config holds the per-scope limits. All share one window length.
type Config struct {
	LinkLimit   int
	PeerLimit   int
	GlobalLimit int
	Window      time.Duration
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		LinkLimit:   DefaultLinkLimit,
		PeerLimit:   DefaultPeerLimit,
		GlobalLimit: DefaultGlobalLimit,
		Window:      DefaultWindow,
	}
}

// Stats is a point-in-time snapshot of limiter activity.
type Stats struct {
	Allowed         uint64
	RejectedByScope map[Scope]uint64
}

// Limiter tracks message timestamps per scope. All methods are safe
// for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	link   map[string][]time.Time
	peer   map[string][]time.Time
	global []time.Time

	allowed  uint64
	rejected map[Scope]uint64

	now func() time.Time
}

// NewLimiter creates a limiter. Non-positive config values fall back
// to the defaults.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.LinkLimit <= 0 {
		cfg.LinkLimit = def.LinkLimit
	}
	if cfg.PeerLimit <= 0 {
		cfg.PeerLimit = def.PeerLimit
	}
	if cfg.GlobalLimit <= 0 {
		cfg.GlobalLimit = def.GlobalLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Limiter{
		cfg:      cfg,
		link:     make(map[string][]time.Time),
		peer:     make(map[string][]time.Time),
		rejected: make(map[Scope]uint64),
		now:      time.Now,
	}
}

// Allow checks all applicable windows for one message and, when every
// window has room, records the message in each. linkAddr identifies
// the link the message arrived on (empty for locally originated
// messages, which skips the link window), peerID the originating
// device.
//
// On rejection a *Violation is returned and no window is mutated, so
// rejected traffic cannot crowd out compliant traffic.
func (l *Limiter) Allow(linkAddr, peerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	if linkAddr != "" {
		l.link[linkAddr] = purge(l.link[linkAddr], cutoff)
	}
	if peerID != "" {
		l.peer[peerID] = purge(l.peer[peerID], cutoff)
	}
	l.global = purge(l.global, cutoff)

	if linkAddr != "" && len(l.link[linkAddr]) >= l.cfg.LinkLimit {
		l.rejected[ScopeLink]++
		return &Violation{
			Scope:      ScopeLink,
			Key:        linkAddr,
			Limit:      l.cfg.LinkLimit,
			Window:     l.cfg.Window,
			RetryAfter: retryAfter(l.link[linkAddr], now, l.cfg.Window),
		}
	}
	if peerID != "" && len(l.peer[peerID]) >= l.cfg.PeerLimit {
		l.rejected[ScopePeer]++
		return &Violation{
			Scope:      ScopePeer,
			Key:        peerID,
			Limit:      l.cfg.PeerLimit,
			Window:     l.cfg.Window,
			RetryAfter: retryAfter(l.peer[peerID], now, l.cfg.Window),
		}
	}
	if len(l.global) >= l.cfg.GlobalLimit {
		l.rejected[ScopeGlobal]++
		return &Violation{
			Scope:      ScopeGlobal,
			Limit:      l.cfg.GlobalLimit,
			Window:     l.cfg.Window,
			RetryAfter: retryAfter(l.global, now, l.cfg.Window),
		}
	}

	if linkAddr != "" {
		l.link[linkAddr] = append(l.link[linkAddr], now)
	}
	if peerID != "" {
		l.peer[peerID] = append(l.peer[peerID], now)
	}
	l.global = append(l.global, now)
	l.allowed++
	return nil
}

// Forget drops the per-link window for a disconnected link so a stale
// address cannot block a future connection.
func (l *Limiter) Forget(linkAddr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.link, linkAddr)
}

// Stats returns a snapshot of limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	rejected := make(map[Scope]uint64, len(l.rejected))
	for scope, n := range l.rejected {
		rejected[scope] = n
	}
	return Stats{Allowed: l.allowed, RejectedByScope: rejected}
}

// purge drops timestamps at or before the cutoff. Timestamps are
// appended in order, so the first live one ends the scan.
func purge(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(events); i++ {
		if events[i].After(cutoff) {
			break
		}
	}
	return events[i:]
}

// retryAfter computes how long until the oldest in-window event falls
// out and frees a slot.
func retryAfter(events []time.Time, now time.Time, window time.Duration) time.Duration {
	if len(events) == 0 {
		return 0
	}
	wait := events[0].Add(window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
