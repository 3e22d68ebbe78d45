package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/log"
)

// mDNS service identity for the LAN backend.
const (
	ServiceType = "_bluemesh._tcp"
	Domain      = "local."
)

// LANConfig configures the LAN transport.
type LANConfig struct {
	// Name is the display name to advertise.
	Name string

	// Port is the TCP listen port. 0 picks an ephemeral port.
	Port int

	// Interface restricts mDNS to one network interface. Empty means
	// all interfaces.
	Interface string

	// Logger receives frame-level events. Optional.
	Logger log.Logger
}

// hello is the first frame on every link, announcing the dialer's
// advertised address so both sides key the link identically.
type hello struct {
	Addr string `json:"addr"`
	Name string `json:"name"`
}

type lanLink struct {
	conn   net.Conn
	framer *Framer
}

// LAN is a Transport that discovers peers via mDNS and carries frames
// over TCP.
type LAN struct {
	cfg       LANConfig
	localAddr string
	listener  net.Listener
	server    *zeroconf.Server

	mu     sync.Mutex
	links  map[string]*lanLink
	recv   ReceiveHandler
	disc   DisconnectHandler
	conn   ConnectHandler
	closed bool

	wg sync.WaitGroup
}

// NewLAN starts listening and advertising. The returned transport is
// ready to Scan and Connect.
func NewLAN(cfg LANConfig) (*LAN, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	ip, err := outboundIP()
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	localAddr := net.JoinHostPort(ip.String(), fmt.Sprintf("%d", port))

	instance := fmt.Sprintf("%s-%d", cfg.Name, port)
	txt := []string{"addr=" + localAddr, "name=" + cfg.Name}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, lanInterfaces(cfg.Interface))
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	t := &LAN{
		cfg:       cfg,
		localAddr: localAddr,
		listener:  listener,
		server:    server,
		links:     make(map[string]*lanLink),
	}

	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

// LocalAddr returns the advertised host:port of this node.
func (t *LAN) LocalAddr() string { return t.localAddr }

// Scan browses mDNS for the given timeout and returns every sighted
// peer.
func (t *LAN) Scan(ctx context.Context, timeout time.Duration) ([]Sighting, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.mu.Unlock()

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := lanInterfaces(t.cfg.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	done := make(chan error, 1)
	go func() {
		done <- zeroconf.Browse(browseCtx, ServiceType, Domain, entries, removed, opts...)
	}()

	seen := make(map[string]Sighting)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if s, ok := sightingFromEntry(entry.Instance, entry.Text, entry.AddrIPv4, entry.Port); ok {
				if s.Address != t.localAddr {
					seen[s.Address] = s
				}
			}
		case <-removed:
			// Within one scan window a removal just means the peer
			// re-announced; keep the sighting.
		case <-browseCtx.Done():
			err := <-done
			if err != nil && ctx.Err() == nil && browseCtx.Err() == nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			sightings := make([]Sighting, 0, len(seen))
			for _, s := range seen {
				sightings = append(sightings, s)
			}
			return sightings, nil
		}
	}
}

// Connect dials the peer, sends the hello frame, and starts the read
// loop for the link.
func (t *LAN) Connect(ctx context.Context, addr string, timeout time.Duration) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, ok := t.links[addr]; ok {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	framer := NewFramer(conn)
	framer.SetLogger(t.cfg.Logger, addr)

	h := hello{Addr: t.localAddr, Name: t.cfg.Name}
	data, err := json.Marshal(h)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	if err := framer.WriteFrame(data); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	if err := t.addLink(addr, conn, framer); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// Disconnect closes the link to addr without firing the disconnect
// handler locally.
func (t *LAN) Disconnect(addr string) error {
	t.mu.Lock()
	link, ok := t.links[addr]
	if ok {
		delete(t.links, addr)
	}
	t.mu.Unlock()

	if !ok {
		return ErrNotConnected
	}
	return link.conn.Close()
}

// Send writes one frame to the link.
func (t *LAN) Send(addr string, data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	link, ok := t.links[addr]
	t.mu.Unlock()

	if !ok {
		return ErrNotConnected
	}
	return link.framer.WriteFrame(data)
}

// SetReceiveHandler registers the inbound frame handler.
func (t *LAN) SetReceiveHandler(h ReceiveHandler) {
	t.mu.Lock()
	t.recv = h
	t.mu.Unlock()
}

// SetDisconnectHandler registers the link-drop handler.
func (t *LAN) SetDisconnectHandler(h DisconnectHandler) {
	t.mu.Lock()
	t.disc = h
	t.mu.Unlock()
}

// SetConnectHandler registers the handler for links opened by remote
// dialers.
func (t *LAN) SetConnectHandler(h ConnectHandler) {
	t.mu.Lock()
	t.conn = h
	t.mu.Unlock()
}

// Close stops advertising, stops listening, and drops all links.
func (t *LAN) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	links := t.links
	t.links = make(map[string]*lanLink)
	t.mu.Unlock()

	t.server.Shutdown()
	err := t.listener.Close()
	for _, link := range links {
		link.conn.Close()
	}
	t.wg.Wait()
	return err
}

// acceptLoop handles inbound connections until the listener closes.
func (t *LAN) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.handleInbound(conn)
	}
}

// handleInbound reads the hello frame and registers the link under
// the peer's advertised address.
func (t *LAN) handleInbound(conn net.Conn) {
	defer t.wg.Done()

	framer := NewFramer(conn)

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	data, err := framer.ReadFrame()
	if err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	var h hello
	if err := json.Unmarshal(data, &h); err != nil || h.Addr == "" {
		conn.Close()
		return
	}

	framer.SetLogger(t.cfg.Logger, h.Addr)
	if err := t.addLink(h.Addr, conn, framer); err != nil {
		conn.Close()
		return
	}

	t.mu.Lock()
	handler := t.conn
	t.mu.Unlock()
	if handler != nil {
		handler(h.Addr, h.Name)
	}
}

// addLink registers the link and starts its read loop.
func (t *LAN) addLink(addr string, conn net.Conn, framer *Framer) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, ok := t.links[addr]; ok {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.links[addr] = &lanLink{conn: conn, framer: framer}
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readLoop(addr, framer)
	return nil
}

// readLoop delivers inbound frames until the link dies.
func (t *LAN) readLoop(addr string, framer *Framer) {
	defer t.wg.Done()

	for {
		data, err := framer.ReadFrame()
		if err != nil {
			t.mu.Lock()
			link, ok := t.links[addr]
			if ok {
				delete(t.links, addr)
			}
			handler := t.disc
			closed := t.closed
			t.mu.Unlock()

			if ok {
				link.conn.Close()
				if handler != nil && !closed {
					if err == io.EOF {
						err = nil
					}
					handler(addr, err)
				}
			}
			return
		}

		t.mu.Lock()
		handler := t.recv
		t.mu.Unlock()
		if handler != nil {
			handler(addr, data)
		}
	}
}

// sightingFromEntry converts one mDNS entry into a sighting. The
// advertised addr TXT record wins; entry addresses are the fallback.
func sightingFromEntry(instance string, txt []string, addrs []net.IP, port int) (Sighting, bool) {
	s := Sighting{Name: instance, ServiceConfirmed: true}

	for _, record := range txt {
		switch {
		case len(record) > 5 && record[:5] == "addr=":
			s.Address = record[5:]
		case len(record) > 5 && record[:5] == "name=":
			s.Name = record[5:]
		}
	}

	if s.Address == "" {
		if len(addrs) == 0 {
			return Sighting{}, false
		}
		s.Address = net.JoinHostPort(addrs[0].String(), fmt.Sprintf("%d", port))
	}
	return s, true
}

// outboundIP finds the local IP other hosts can reach us on.
func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "255.255.255.255:1")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// lanInterfaces resolves the configured interface name. Nil means all
// interfaces.
func lanInterfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
