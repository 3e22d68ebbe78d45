// Package pool manages the bounded set of active peer links. It
// enforces the admission ceiling, blacklists addresses that fail to
// connect, and tracks per-link traffic counters for the rest of the
// engine.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/log"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/transport"
)

// Pool defaults.
const (
	// DefaultMaxLinks is the admission ceiling. Small radios degrade
	// badly past a handful of simultaneous links.
	DefaultMaxLinks = 4

	// DefaultBlacklistCooldown is how long a failed address is barred.
	DefaultBlacklistCooldown = 60 * time.Second

	// DefaultConnectTimeout bounds a single connect attempt.
	DefaultConnectTimeout = 30 * time.Second
)

// Admission errors.
var (
	// ErrAtCapacity indicates the pool holds the maximum number of
	// links.
	ErrAtCapacity = errors.New("connection pool at capacity")

	// ErrBlacklisted indicates the address is in its failure cooldown.
	ErrBlacklisted = errors.New("address blacklisted")

	// ErrAlreadyLinked indicates a link to the address exists or is
	// being established.
	ErrAlreadyLinked = errors.New("address already linked")

	// ErrPoolClosed indicates the pool has been shut down.
	ErrPoolClosed = errors.New("connection pool closed")
)

// LinkState is the lifecycle state of one pooled link.
type LinkState int

const (
	// LinkConnecting means the slot is reserved and the transport
	// connect is in flight.
	LinkConnecting LinkState = iota
	// LinkConnected means the link is open and usable.
	LinkConnected
)

// String returns the state name.
func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "CONNECTING"
	case LinkConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// LinkInfo is a read-only snapshot of one link.
type LinkInfo struct {
	Address      string
	Name         string
	State        LinkState
	ConnectedAt  time.Time
	LastActivity time.Time
	Sent         uint64
	Received     uint64
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	ActiveLinks       int
	BlacklistedAddrs  int
	Admitted          uint64
	RejectedCapacity  uint64
	RejectedBlacklist uint64
	ConnectFailures   uint64
	Released          uint64
}

// Config holds pool tunables.
type Config struct {
	MaxLinks          int
	BlacklistCooldown time.Duration
	ConnectTimeout    time.Duration
}

// DefaultConfig returns the stock pool settings.
func DefaultConfig() Config {
	return Config{
		MaxLinks:          DefaultMaxLinks,
		BlacklistCooldown: DefaultBlacklistCooldown,
		ConnectTimeout:    DefaultConnectTimeout,
	}
}

type link struct {
	address      string
	name         string
	state        LinkState
	connectedAt  time.Time
	lastActivity time.Time
	sent         uint64
	received     uint64
}

// Pool is the connection admission controller. All methods are safe
// for concurrent use; the transport connect itself runs outside the
// pool lock so a slow peer cannot stall the rest of the mesh.
type Pool struct {
	tr     transport.Transport
	cfg    Config
	logger log.Logger

	mu        sync.Mutex
	closed    bool
	links     map[string]*link
	blacklist map[string]time.Time // address -> cooldown expiry

	admitted          uint64
	rejectedCapacity  uint64
	rejectedBlacklist uint64
	connectFailures   uint64
	released          uint64

	now func() time.Time
}

// New creates a pool on top of the transport. Non-positive config
// values fall back to the defaults. logger may be nil.
func New(tr transport.Transport, cfg Config, logger log.Logger) *Pool {
	def := DefaultConfig()
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = def.MaxLinks
	}
	if cfg.BlacklistCooldown <= 0 {
		cfg.BlacklistCooldown = def.BlacklistCooldown
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if logger == nil {
		logger = &log.NoopLogger{}
	}
	return &Pool{
		tr:        tr,
		cfg:       cfg,
		logger:    logger,
		links:     make(map[string]*link),
		blacklist: make(map[string]time.Time),
		now:       time.Now,
	}
}

// TryAdmit attempts to open a link to the address. The slot is
// reserved under the lock, then the transport connect runs outside it.
// A failed connect blacklists the address for the cooldown period.
func (p *Pool) TryAdmit(ctx context.Context, addr, name string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}

	now := p.now()
	if expiry, ok := p.blacklist[addr]; ok {
		// Readmission is allowed exactly at expiry.
		if now.Before(expiry) {
			p.rejectedBlacklist++
			remaining := expiry.Sub(now)
			p.mu.Unlock()
			return fmt.Errorf("%w: %s for another %s", ErrBlacklisted, addr, remaining.Round(time.Second))
		}
		delete(p.blacklist, addr)
	}

	if _, ok := p.links[addr]; ok {
		p.mu.Unlock()
		return ErrAlreadyLinked
	}
	if len(p.links) >= p.cfg.MaxLinks {
		p.rejectedCapacity++
		p.mu.Unlock()
		return fmt.Errorf("%w: %d links", ErrAtCapacity, p.cfg.MaxLinks)
	}

	// Reserve the slot so concurrent admits cannot overshoot the
	// ceiling while we connect.
	p.links[addr] = &link{address: addr, name: name, state: LinkConnecting}
	p.mu.Unlock()

	err := p.tr.Connect(ctx, addr, p.cfg.ConnectTimeout)
	if errors.Is(err, transport.ErrAlreadyConnected) {
		// The peer dialed first and the link already exists at the
		// transport level; adopt it instead of failing.
		err = nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		delete(p.links, addr)
		p.connectFailures++
		p.blacklist[addr] = p.now().Add(p.cfg.BlacklistCooldown)
		p.logStateChange(addr, LinkConnecting.String(), "FAILED", err.Error())
		return fmt.Errorf("connect to %s failed: %w", addr, err)
	}
	if p.closed {
		// Closed while connecting; undo.
		delete(p.links, addr)
		p.tr.Disconnect(addr)
		return ErrPoolClosed
	}

	l := p.links[addr]
	if l == nil {
		// Released while connecting; undo.
		p.tr.Disconnect(addr)
		return ErrPoolClosed
	}
	now = p.now()
	l.state = LinkConnected
	l.connectedAt = now
	l.lastActivity = now
	p.admitted++
	p.logStateChange(addr, LinkConnecting.String(), LinkConnected.String(), "")
	return nil
}

// Adopt registers a link the peer opened to us, subject to the
// ceiling. No transport connect happens; the link is already up.
func (p *Pool) Adopt(addr, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if _, ok := p.links[addr]; ok {
		return ErrAlreadyLinked
	}
	if len(p.links) >= p.cfg.MaxLinks {
		p.rejectedCapacity++
		return fmt.Errorf("%w: %d links", ErrAtCapacity, p.cfg.MaxLinks)
	}

	now := p.now()
	p.links[addr] = &link{
		address:      addr,
		name:         name,
		state:        LinkConnected,
		connectedAt:  now,
		lastActivity: now,
	}
	p.admitted++
	p.logStateChange(addr, "", LinkConnected.String(), "adopted inbound link")
	return nil
}

// Release closes the link and removes it from the pool. reason is
// recorded in the state-change log.
func (p *Pool) Release(addr, reason string) error {
	p.mu.Lock()
	l, ok := p.links[addr]
	if ok {
		delete(p.links, addr)
		p.released++
	}
	p.mu.Unlock()

	if !ok {
		return transport.ErrNotConnected
	}
	p.logStateChange(addr, l.state.String(), "RELEASED", reason)
	return p.tr.Disconnect(addr)
}

// HandleDrop records a transport-initiated link loss. Unlike Release
// it does not call back into the transport.
func (p *Pool) HandleDrop(addr string, cause error) {
	p.mu.Lock()
	l, ok := p.links[addr]
	if ok {
		delete(p.links, addr)
		p.released++
	}
	p.mu.Unlock()

	if ok {
		reason := "remote closed"
		if cause != nil {
			reason = cause.Error()
		}
		p.logStateChange(addr, l.state.String(), "DROPPED", reason)
	}
}

// RecordSent bumps the outbound counter and activity clock for addr.
func (p *Pool) RecordSent(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.links[addr]; ok {
		l.sent++
		l.lastActivity = p.now()
	}
}

// RecordReceived bumps the inbound counter and activity clock for
// addr.
func (p *Pool) RecordReceived(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.links[addr]; ok {
		l.received++
		l.lastActivity = p.now()
	}
}

// Has reports whether an active or connecting link to addr exists.
func (p *Pool) Has(addr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.links[addr]
	return ok
}

// BroadcastTargets returns the addresses of all connected links,
// excluding the given one (use "" to exclude none).
func (p *Pool) BroadcastTargets(exclude string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	targets := make([]string, 0, len(p.links))
	for addr, l := range p.links {
		if addr == exclude || l.state != LinkConnected {
			continue
		}
		targets = append(targets, addr)
	}
	return targets
}

// IdleLinks returns connected links with no traffic for at least the
// threshold. The heartbeat monitor reaps these.
func (p *Pool) IdleLinks(threshold time.Duration) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-threshold)
	var idle []string
	for addr, l := range p.links {
		if l.state == LinkConnected && l.lastActivity.Before(cutoff) {
			idle = append(idle, addr)
		}
	}
	return idle
}

// Snapshot returns read-only copies of all current links.
func (p *Pool) Snapshot() []LinkInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]LinkInfo, 0, len(p.links))
	for _, l := range p.links {
		infos = append(infos, LinkInfo{
			Address:      l.address,
			Name:         l.name,
			State:        l.state,
			ConnectedAt:  l.connectedAt,
			LastActivity: l.lastActivity,
			Sent:         l.sent,
			Received:     l.received,
		})
	}
	return infos
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Count only live blacklist entries.
	now := p.now()
	live := 0
	for _, expiry := range p.blacklist {
		if now.Before(expiry) {
			live++
		}
	}
	return Stats{
		ActiveLinks:       len(p.links),
		BlacklistedAddrs:  live,
		Admitted:          p.admitted,
		RejectedCapacity:  p.rejectedCapacity,
		RejectedBlacklist: p.rejectedBlacklist,
		ConnectFailures:   p.connectFailures,
		Released:          p.released,
	}
}

// Close releases every link and rejects further admissions.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	addrs := make([]string, 0, len(p.links))
	for addr := range p.links {
		addrs = append(addrs, addr)
	}
	p.links = make(map[string]*link)
	p.mu.Unlock()

	for _, addr := range addrs {
		p.tr.Disconnect(addr)
	}
	return nil
}

func (p *Pool) logStateChange(addr, oldState, newState, reason string) {
	p.logger.Log(log.Event{
		Timestamp: time.Now(),
		PeerAddr:  addr,
		Direction: log.DirectionLocal,
		Layer:     log.LayerMesh,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityLink,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
