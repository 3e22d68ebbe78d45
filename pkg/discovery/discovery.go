package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/backoff"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/log"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/transport"
)

// DefaultLostThreshold is the number of consecutive scan cycles a
// known peer must be missing before it is reported lost.
const DefaultLostThreshold = 5

// DefaultStableCycles is the number of unchanged cycles after which
// the neighborhood counts as stable.
const DefaultStableCycles = 3

// ScanState is the state of the current scan cycle.
type ScanState uint8

const (
	// ScanIdle means no scan is running.
	ScanIdle ScanState = iota
	// ScanScanning means the transport scan is in flight.
	ScanScanning
	// ScanProcessing means results are being folded into peer state.
	ScanProcessing
)

// String returns the scan state name.
func (s ScanState) String() string {
	switch s {
	case ScanIdle:
		return "IDLE"
	case ScanScanning:
		return "SCANNING"
	case ScanProcessing:
		return "PROCESSING"
	default:
		return "UNKNOWN"
	}
}

// NetworkState is the engine's view of neighborhood activity.
type NetworkState uint8

const (
	// NetworkUnknown means no scan has completed yet.
	NetworkUnknown NetworkState = iota
	// NetworkDiscovering means the neighborhood is changing.
	NetworkDiscovering
	// NetworkStable means peers are present and unchanged.
	NetworkStable
	// NetworkEmpty means no peers are around.
	NetworkEmpty
)

// String returns the network state name.
func (s NetworkState) String() string {
	switch s {
	case NetworkUnknown:
		return "UNKNOWN"
	case NetworkDiscovering:
		return "DISCOVERING"
	case NetworkStable:
		return "STABLE"
	case NetworkEmpty:
		return "EMPTY"
	default:
		return "INVALID"
	}
}

// Peer is a device currently known to discovery.
type Peer struct {
	Address          string
	Name             string
	RSSI             int
	ServiceConfirmed bool
	FirstSeen        time.Time
	LastSeen         time.Time
	MissedCycles     int
}

// Stats is a point-in-time snapshot of discovery activity.
type Stats struct {
	Cycles     uint64
	PeersFound uint64
	PeersLost  uint64
	ScanErrors uint64
	KnownPeers int
	Interval   time.Duration
}

// Config holds discovery tunables. Zero values fall back to the
// defaults.
type Config struct {
	ScanTimeout      time.Duration
	InitialInterval  time.Duration
	ModerateInterval time.Duration
	StableInterval   time.Duration
	EmptyInterval    time.Duration
	MinInterval      time.Duration
	MaxInterval      time.Duration
	LostThreshold    int
	StableCycles     int
}

// DefaultConfig returns the stock discovery settings.
func DefaultConfig() Config {
	return Config{
		ScanTimeout:      DefaultScanTimeout,
		InitialInterval:  DefaultInitialInterval,
		ModerateInterval: DefaultModerateInterval,
		StableInterval:   DefaultStableInterval,
		EmptyInterval:    DefaultEmptyInterval,
		MinInterval:      DefaultMinInterval,
		MaxInterval:      DefaultMaxInterval,
		LostThreshold:    DefaultLostThreshold,
		StableCycles:     DefaultStableCycles,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = def.ScanTimeout
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.ModerateInterval <= 0 {
		c.ModerateInterval = def.ModerateInterval
	}
	if c.StableInterval <= 0 {
		c.StableInterval = def.StableInterval
	}
	if c.EmptyInterval <= 0 {
		c.EmptyInterval = def.EmptyInterval
	}
	if c.MinInterval <= 0 {
		c.MinInterval = def.MinInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.LostThreshold <= 0 {
		c.LostThreshold = def.LostThreshold
	}
	if c.StableCycles <= 0 {
		c.StableCycles = def.StableCycles
	}
	return c
}

// PeerFoundHandler is called once when a new peer appears.
type PeerFoundHandler func(transport.Sighting)

// PeerLostHandler is called once when a known peer has been missing
// for the lost threshold.
type PeerLostHandler func(addr string)

// Discovery drives the adaptive scan loop. Configure handlers before
// calling Run.
type Discovery struct {
	tr     transport.Transport
	cfg    Config
	logger log.Logger
	retry  *backoff.Backoff

	mu           sync.Mutex
	scanState    ScanState
	networkState NetworkState
	interval     time.Duration
	peers        map[string]*Peer
	unchanged    int

	onFound PeerFoundHandler
	onLost  PeerLostHandler

	cycles     uint64
	peersFound uint64
	peersLost  uint64
	scanErrors uint64

	now func() time.Time
}

// New creates a discovery manager. logger may be nil.
func New(tr transport.Transport, cfg Config, logger log.Logger) *Discovery {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = &log.NoopLogger{}
	}
	return &Discovery{
		tr:           tr,
		cfg:          cfg,
		logger:       logger,
		retry:        backoff.New(),
		scanState:    ScanIdle,
		networkState: NetworkUnknown,
		interval:     cfg.InitialInterval,
		peers:        make(map[string]*Peer),
		now:          time.Now,
	}
}

// OnPeerFound registers the new-peer handler.
func (d *Discovery) OnPeerFound(h PeerFoundHandler) {
	d.mu.Lock()
	d.onFound = h
	d.mu.Unlock()
}

// OnPeerLost registers the lost-peer handler.
func (d *Discovery) OnPeerLost(h PeerLostHandler) {
	d.mu.Lock()
	d.onLost = h
	d.mu.Unlock()
}

// Run scans until the context is canceled. Scan errors back off
// exponentially instead of using the adaptive interval; a transport
// reported as unavailable ends the loop with that error.
func (d *Discovery) Run(ctx context.Context) error {
	timer := time.NewTimer(0) // first scan immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		wait, err := d.RunCycle(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrUnavailable) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		timer.Reset(wait)
	}
}

// RunCycle performs one scan cycle and returns how long to wait before
// the next one. It is exported so a manual "scan now" can share the
// loop's logic.
func (d *Discovery) RunCycle(ctx context.Context) (time.Duration, error) {
	d.setScanState(ScanScanning)

	sightings, err := d.tr.Scan(ctx, d.cfg.ScanTimeout)
	if err != nil {
		d.setScanState(ScanIdle)

		d.mu.Lock()
		d.scanErrors++
		d.mu.Unlock()

		d.logger.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionLocal,
			Layer:     log.LayerMesh,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerMesh,
				Message: err.Error(),
				Context: "discovery scan",
			},
		})
		return d.retry.Next(), err
	}
	d.retry.Reset()

	d.setScanState(ScanProcessing)
	found, lost := d.fold(sightings)
	wait := d.adapt(len(found) > 0 || len(lost) > 0)
	d.setScanState(ScanIdle)

	// Handlers run outside the lock and after state settles.
	d.mu.Lock()
	onFound, onLost := d.onFound, d.onLost
	d.mu.Unlock()
	for _, s := range found {
		if onFound != nil {
			onFound(s)
		}
		d.logPeer(s, false)
	}
	for _, addr := range lost {
		if onLost != nil {
			onLost(addr)
		}
		d.logPeer(transport.Sighting{Address: addr}, true)
	}

	return wait, nil
}

// fold merges one scan's sightings into the peer table and returns the
// newly found sightings and newly lost addresses.
func (d *Discovery) fold(sightings []transport.Sighting) ([]transport.Sighting, []string) {
	// Per-scan dedup: the same address can be sighted several times in
	// one window; keep the strongest signal.
	unique := make(map[string]transport.Sighting, len(sightings))
	for _, s := range sightings {
		if s.Address == "" {
			continue
		}
		if prev, ok := unique[s.Address]; !ok || s.RSSI > prev.RSSI {
			unique[s.Address] = s
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.cycles++

	var found []transport.Sighting
	for addr, s := range unique {
		p, ok := d.peers[addr]
		if !ok {
			d.peers[addr] = &Peer{
				Address:          addr,
				Name:             s.Name,
				RSSI:             s.RSSI,
				ServiceConfirmed: s.ServiceConfirmed,
				FirstSeen:        now,
				LastSeen:         now,
			}
			d.peersFound++
			found = append(found, s)
			continue
		}
		p.Name = s.Name
		p.RSSI = s.RSSI
		p.ServiceConfirmed = s.ServiceConfirmed
		p.LastSeen = now
		p.MissedCycles = 0
	}

	var lost []string
	for addr, p := range d.peers {
		if _, ok := unique[addr]; ok {
			continue
		}
		p.MissedCycles++
		if p.MissedCycles >= d.cfg.LostThreshold {
			delete(d.peers, addr)
			d.peersLost++
			lost = append(lost, addr)
		}
	}

	return found, lost
}

// adapt updates the network state and smoothed interval after a cycle
// and returns the wait until the next one.
func (d *Discovery) adapt(changed bool) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldState := d.networkState
	switch {
	case changed:
		d.networkState = NetworkDiscovering
		d.unchanged = 0
	case len(d.peers) == 0:
		d.networkState = NetworkEmpty
		d.unchanged++
	default:
		d.unchanged++
		if d.unchanged >= d.cfg.StableCycles {
			d.networkState = NetworkStable
		} else {
			d.networkState = NetworkDiscovering
		}
	}

	var target time.Duration
	switch d.networkState {
	case NetworkDiscovering:
		if changed {
			target = d.cfg.InitialInterval
		} else {
			target = d.cfg.ModerateInterval
		}
	case NetworkStable:
		target = d.cfg.StableInterval
	case NetworkEmpty:
		target = d.cfg.EmptyInterval
	default:
		target = d.cfg.InitialInterval
	}
	d.interval = nextInterval(d.interval, target, d.cfg.MinInterval, d.cfg.MaxInterval)

	if oldState != d.networkState {
		d.logger.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionLocal,
			Layer:     log.LayerMesh,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityNetwork,
				OldState: oldState.String(),
				NewState: d.networkState.String(),
			},
		})
	}
	return d.interval
}

// ScanState returns the state of the current cycle.
func (d *Discovery) ScanState() ScanState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanState
}

// NetworkState returns the current neighborhood assessment.
func (d *Discovery) NetworkState() NetworkState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.networkState
}

// Interval returns the current adaptive scan interval.
func (d *Discovery) Interval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

// KnownPeers returns copies of all currently known peers.
func (d *Discovery) KnownPeers() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	peers := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		peers = append(peers, *p)
	}
	return peers
}

// Stats returns a snapshot of discovery counters.
func (d *Discovery) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Cycles:     d.cycles,
		PeersFound: d.peersFound,
		PeersLost:  d.peersLost,
		ScanErrors: d.scanErrors,
		KnownPeers: len(d.peers),
		Interval:   d.interval,
	}
}

func (d *Discovery) logPeer(s transport.Sighting, lost bool) {
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		PeerAddr:  s.Address,
		Direction: log.DirectionLocal,
		Layer:     log.LayerMesh,
		Category:  log.CategoryPeer,
		Peer: &log.PeerEvent{
			Address:   s.Address,
			Name:      s.Name,
			RSSI:      s.RSSI,
			Lost:      lost,
			Confirmed: s.ServiceConfirmed,
		},
	})
}

func (d *Discovery) setScanState(s ScanState) {
	d.mu.Lock()
	old := d.scanState
	d.scanState = s
	d.mu.Unlock()

	if old != s {
		d.logger.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionLocal,
			Layer:     log.LayerMesh,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityScan,
				OldState: old.String(),
				NewState: s.String(),
			},
		})
	}
}
