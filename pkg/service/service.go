package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/dedup"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/discovery"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/log"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/pool"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/ratelimit"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/router"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/transport"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/wire"
)

// Heartbeat defaults.
const (
	// DefaultHeartbeatInterval is how often a liveness beacon goes to
	// every connected link.
	DefaultHeartbeatInterval = 15 * time.Second

	// DefaultHeartbeatTimeout is how long a link may stay silent
	// before it is reaped.
	DefaultHeartbeatTimeout = 45 * time.Second

	// DefaultMaxMessageAge is the freshness bound on inbound
	// timestamps.
	DefaultMaxMessageAge = 5 * time.Minute
)

// Config holds the engine's tunables. Zero values fall back to the
// defaults.
type Config struct {
	// DisplayName is advertised to peers and stamped on originated
	// messages.
	DisplayName string

	// AutoConnect admits discovered peers automatically.
	AutoConnect bool

	// RequireConfirmedPeers, when set, only auto-connects peers whose
	// mesh service the transport has verified. Off by default: a
	// sighting is enough, and a bad guess costs one blacklist entry.
	RequireConfirmedPeers bool

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxMessageAge     time.Duration
	RecentBufferSize  int

	DedupCapacity int
	DedupTTL      time.Duration

	Pool      pool.Config
	Discovery discovery.Config
	RateLimit ratelimit.Config
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		AutoConnect:       true,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		MaxMessageAge:     DefaultMaxMessageAge,
		RecentBufferSize:  DefaultRecentBufferSize,
		DedupCapacity:     dedup.DefaultCapacity,
		DedupTTL:          dedup.DefaultTTL,
		Pool:              pool.DefaultConfig(),
		Discovery:         discovery.DefaultConfig(),
		RateLimit:         ratelimit.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.MaxMessageAge <= 0 {
		c.MaxMessageAge = DefaultMaxMessageAge
	}
	if c.RecentBufferSize <= 0 {
		c.RecentBufferSize = DefaultRecentBufferSize
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = dedup.DefaultCapacity
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = dedup.DefaultTTL
	}
	return c
}

// MessageHandler receives every message delivered locally. from is the
// arrival link address.
type MessageHandler func(m *wire.Message, from string)

// Stats aggregates the counters of every engine component.
type Stats struct {
	Uptime    time.Duration
	Router    router.Stats
	Pool      pool.Stats
	RateLimit ratelimit.Stats
	Discovery discovery.Stats
	Recent    int
}

// Service is the mesh engine. Create it with New, register handlers,
// then Start it.
type Service struct {
	cfg    Config
	tr     transport.Transport
	logger log.Logger

	pool      *pool.Pool
	discovery *discovery.Discovery
	router    *router.Router
	limiter   *ratelimit.Limiter
	recent    *recentBuffer

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	onMessage MessageHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
	fatal  chan error
}

// New assembles an engine on top of the transport. logger may be nil.
func New(tr transport.Transport, cfg Config, logger log.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = &log.NoopLogger{}
	}

	cache := dedup.NewCache(cfg.DedupCapacity, cfg.DedupTTL)
	s := &Service{
		cfg:       cfg,
		tr:        tr,
		logger:    logger,
		pool:      pool.New(tr, cfg.Pool, logger),
		discovery: discovery.New(tr, cfg.Discovery, logger),
		router:    router.New(tr.LocalAddr(), cache),
		limiter:   ratelimit.NewLimiter(cfg.RateLimit),
		recent:    newRecentBuffer(cfg.RecentBufferSize),
		fatal:     make(chan error, 1),
	}

	tr.SetReceiveHandler(s.handleFrame)
	tr.SetDisconnectHandler(s.handleDrop)
	tr.SetConnectHandler(s.handleAccept)
	s.discovery.OnPeerFound(s.handlePeerFound)
	s.discovery.OnPeerLost(s.handlePeerLost)
	return s
}

// OnMessage registers the local delivery handler. Must be called
// before Start.
func (s *Service) OnMessage(h MessageHandler) {
	s.mu.Lock()
	s.onMessage = h
	s.mu.Unlock()
}

// Start launches the discovery loop and heartbeat monitor.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("service already running")
	}
	s.running = true
	s.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.logEngineState("STOPPED", "RUNNING", "")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		err := s.discovery.Run(runCtx)
		if errors.Is(err, transport.ErrUnavailable) {
			s.reportFatal(ErrTransportUnavailable)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop(runCtx)
	}()
	return nil
}

// Stop shuts the engine down: loops stop, links release, transport
// closes.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.pool.Close()
	err := s.tr.Close()
	s.logEngineState("RUNNING", "STOPPED", "")
	return err
}

// Fatal reports unrecoverable engine failures, such as the transport
// disappearing. At most one error is ever delivered.
func (s *Service) Fatal() <-chan error {
	return s.fatal
}

// Send sanitizes, validates, rate limits, and floods one text message.
// It returns the originated message so the caller can display it.
// Partial fan-out failures are joined into the returned error; the
// message still reached the remaining links.
func (s *Service) Send(content string) (*wire.Message, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	content = wire.SanitizeContent(content)
	if err := wire.ValidateContent(content); err != nil {
		return nil, validationError(err)
	}

	localID := s.tr.LocalAddr()
	m := wire.New(content, localID, s.cfg.DisplayName)
	data, err := wire.Encode(m)
	if err != nil {
		return nil, validationError(err)
	}

	// Rate limiting comes last so invalid messages never consume
	// window budget.
	if err := s.limiter.Allow("", localID); err != nil {
		return nil, rateLimitError(err)
	}

	decision := s.router.Originate(m, s.pool.BroadcastTargets(""))
	sendErr := s.fanOut(data, decision.Targets)

	s.recent.add(RecentMessage{Message: m, ReceivedAt: time.Now()})
	s.logMessage(m, log.DirectionOut, "", len(data), false, decision.Targets, "")
	return m, sendErr
}

// handleFrame is the inbound pipeline: decode, freshness, rate limit,
// route, deliver, forward.
func (s *Service) handleFrame(from string, data []byte) {
	m, err := wire.Decode(data)
	if err != nil {
		// Malformed input is logged and dropped, never answered.
		s.logError(malformedError(err), "decode frame from "+from)
		return
	}

	if !s.pool.Has(from) {
		// The peer dialed us first; adopt the inbound link so replies
		// and forwards can use it. Past the ceiling the message is
		// still processed, the link just stays unpooled.
		s.pool.Adopt(from, "")
	}
	s.pool.RecordReceived(from)

	if err := m.CheckFreshness(time.Now(), s.cfg.MaxMessageAge); err != nil {
		s.logMessage(m, log.DirectionIn, from, len(data), false, nil, err.Error())
		return
	}

	// Heartbeats are liveness only: they refresh the link's activity
	// clock and are never rate limited, delivered, or forwarded far
	// (their hop budget is already minimal).
	if m.Kind == wire.KindHeartbeat {
		s.router.Ingest(m, from, nil)
		return
	}

	if err := s.limiter.Allow(from, m.SenderID); err != nil {
		s.logMessage(m, log.DirectionIn, from, len(data), false, nil, err.Error())
		return
	}

	decision := s.router.Ingest(m, from, s.pool.BroadcastTargets(from))
	if decision.Drop != router.DropNone {
		s.logMessage(m, log.DirectionIn, from, len(data), false, nil, string(decision.Drop))
		return
	}

	if decision.DeliverLocal {
		s.recent.add(RecentMessage{Message: m, ReceivedAt: time.Now(), From: from})
		s.mu.Lock()
		handler := s.onMessage
		s.mu.Unlock()
		if handler != nil {
			handler(m, from)
		}
	}

	var forwarded []string
	if decision.Forward != nil {
		if fwdData, err := wire.Encode(decision.Forward); err == nil {
			forwarded = decision.Targets
			if err := s.fanOut(fwdData, decision.Targets); err != nil {
				s.logError(err, "forward "+m.ID)
			}
		}
	}

	s.logMessage(m, log.DirectionIn, from, len(data), decision.DeliverLocal, forwarded, "")
}

// fanOut sends one encoded frame to every target, collecting partial
// failures.
func (s *Service) fanOut(data []byte, targets []string) error {
	var errs []error
	for _, addr := range targets {
		if err := s.tr.Send(addr, data); err != nil {
			errs = append(errs, connectionError(errors.New(addr+": "+err.Error())))
			continue
		}
		s.pool.RecordSent(addr)
	}
	return errors.Join(errs...)
}

// heartbeatLoop beacons every connected link and reaps silent ones.
func (s *Service) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Reap first so beacons do not go to dead links.
		for _, addr := range s.pool.IdleLinks(s.cfg.HeartbeatTimeout) {
			s.pool.Release(addr, "heartbeat timeout")
			s.limiter.Forget(addr)
		}

		targets := s.pool.BroadcastTargets("")
		if len(targets) == 0 {
			continue
		}

		hb := wire.NewHeartbeat(s.tr.LocalAddr())
		data, err := wire.Encode(hb)
		if err != nil {
			continue
		}
		s.router.Originate(hb, nil)
		if err := s.fanOut(data, targets); err != nil {
			s.logError(err, "heartbeat")
		}
	}
}

// handlePeerFound auto-connects newly discovered peers.
func (s *Service) handlePeerFound(sighting transport.Sighting) {
	if !s.cfg.AutoConnect {
		return
	}
	if s.cfg.RequireConfirmedPeers && !sighting.ServiceConfirmed {
		return
	}
	if s.pool.Has(sighting.Address) {
		return
	}

	name := wire.SanitizeDisplayName(sighting.Name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.pool.TryAdmit(context.Background(), sighting.Address, name); err != nil {
			// Capacity and blacklist rejections are routine here.
			if !errors.Is(err, pool.ErrAtCapacity) && !errors.Is(err, pool.ErrBlacklisted) &&
				!errors.Is(err, pool.ErrAlreadyLinked) {
				s.logError(connectionError(err), "admit "+sighting.Address)
			}
		}
	}()
}

// handlePeerLost releases the link for a peer discovery gave up on.
func (s *Service) handlePeerLost(addr string) {
	if s.pool.Has(addr) {
		s.pool.Release(addr, "peer lost")
		s.limiter.Forget(addr)
	}
}

// handleAccept pools a link a peer dialed to us, so our own sends and
// forwards can use it before the peer's first frame arrives.
func (s *Service) handleAccept(addr, name string) {
	if s.pool.Has(addr) {
		return
	}
	if name != "" {
		name = wire.SanitizeDisplayName(name)
	}
	s.pool.Adopt(addr, name)
}

// handleDrop records transport-initiated link loss.
func (s *Service) handleDrop(addr string, cause error) {
	s.pool.HandleDrop(addr, cause)
	s.limiter.Forget(addr)
}

// Links returns a snapshot of the connection pool.
func (s *Service) Links() []pool.LinkInfo {
	return s.pool.Snapshot()
}

// Peers returns the peers discovery currently knows about.
func (s *Service) Peers() []discovery.Peer {
	return s.discovery.KnownPeers()
}

// Recent returns the recent-message buffer, oldest first.
func (s *Service) Recent() []RecentMessage {
	return s.recent.list()
}

// Connect admits a peer manually, bypassing AutoConnect but not the
// ceiling or blacklist.
func (s *Service) Connect(ctx context.Context, addr string) error {
	if err := s.pool.TryAdmit(ctx, wire.SanitizeAddress(addr), ""); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return timeoutError(err)
		}
		return connectionError(err)
	}
	return nil
}

// Disconnect releases a link manually.
func (s *Service) Disconnect(addr string) error {
	addr = wire.SanitizeAddress(addr)
	err := s.pool.Release(addr, "user request")
	s.limiter.Forget(addr)
	if err != nil {
		return connectionError(err)
	}
	return nil
}

// ScanNow runs one discovery cycle immediately.
func (s *Service) ScanNow(ctx context.Context) error {
	_, err := s.discovery.RunCycle(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(err)
	}
	return err
}

// Stats aggregates all component counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	startedAt := s.startedAt
	running := s.running
	s.mu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(startedAt)
	}
	return Stats{
		Uptime:    uptime,
		Router:    s.router.Stats(),
		Pool:      s.pool.Stats(),
		RateLimit: s.limiter.Stats(),
		Discovery: s.discovery.Stats(),
		Recent:    s.recent.len(),
	}
}

func (s *Service) reportFatal(err error) {
	select {
	case s.fatal <- err:
	default:
	}
	s.logError(err, "engine fatal")
}

func (s *Service) logMessage(m *wire.Message, dir log.Direction, from string, size int, delivered bool, forwarded []string, dropReason string) {
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		LocalID:   s.tr.LocalAddr(),
		PeerAddr:  from,
		Direction: dir,
		Layer:     log.LayerMesh,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			MessageID:   m.ID,
			SenderID:    m.SenderID,
			Kind:        string(m.Kind),
			TTL:         m.TTL,
			Size:        size,
			Delivered:   delivered,
			ForwardedTo: forwarded,
			DropReason:  dropReason,
		},
	})
}

func (s *Service) logError(err error, context string) {
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		LocalID:   s.tr.LocalAddr(),
		Direction: log.DirectionLocal,
		Layer:     log.LayerMesh,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerMesh,
			Message: err.Error(),
			Context: context,
		},
	})
}

func (s *Service) logEngineState(oldState, newState, reason string) {
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		LocalID:   s.tr.LocalAddr(),
		Direction: log.DirectionLocal,
		Layer:     log.LayerMesh,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityEngine,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
