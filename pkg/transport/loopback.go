package transport

import (
	"context"
	"sync"
	"time"
)

// Hub wires Loopback transports together into an in-memory mesh. Every
// node attached to the same hub can sight and connect to every other,
// subject to per-node fault injection.
type Hub struct {
	mu    sync.Mutex
	nodes map[string]*Loopback
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*Loopback)}
}

// NewNode attaches a new loopback transport with the given link
// address and display name.
func (h *Hub) NewNode(addr, name string) *Loopback {
	n := &Loopback{
		hub:        h,
		addr:       addr,
		name:       name,
		visible:    true,
		links:      make(map[string]*inboundQueue),
		connectErr: make(map[string]error),
	}

	h.mu.Lock()
	h.nodes[addr] = n
	h.mu.Unlock()
	return n
}

func (h *Hub) lookup(addr string) *Loopback {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nodes[addr]
}

// queueDepth bounds the per-link delivery queue. A full queue drops
// frames, like a saturated radio.
const queueDepth = 256

// inboundQueue carries frames from one sender to this node. A single
// goroutine drains it, so frames from any one link arrive in the order
// they were sent.
type inboundQueue struct {
	mu     sync.Mutex
	closed bool
	frames chan []byte
}

func newInboundQueue() *inboundQueue {
	return &inboundQueue{frames: make(chan []byte, queueDepth)}
}

func (q *inboundQueue) push(data []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.frames <- data:
		return true
	default:
		return false
	}
}

func (q *inboundQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.frames)
	}
	q.mu.Unlock()
}

// Loopback is an in-memory Transport used by tests and simulations.
// Frames are delivered asynchronously, like a real radio would, but
// in order per link.
type Loopback struct {
	hub  *Hub
	addr string
	name string

	mu         sync.Mutex
	visible    bool
	closed     bool
	links      map[string]*inboundQueue
	recv       ReceiveHandler
	disc       DisconnectHandler
	conn       ConnectHandler
	scanErr    error
	connectErr map[string]error
}

// LocalAddr returns the node's link address.
func (t *Loopback) LocalAddr() string { return t.addr }

// SetVisible controls whether scans on other nodes sight this one.
func (t *Loopback) SetVisible(v bool) {
	t.mu.Lock()
	t.visible = v
	t.mu.Unlock()
}

// FailScan makes subsequent scans return err. Pass nil to heal.
func (t *Loopback) FailScan(err error) {
	t.mu.Lock()
	t.scanErr = err
	t.mu.Unlock()
}

// FailConnect makes connects to addr return err. Pass nil to heal.
func (t *Loopback) FailConnect(addr string, err error) {
	t.mu.Lock()
	if err == nil {
		delete(t.connectErr, addr)
	} else {
		t.connectErr[addr] = err
	}
	t.mu.Unlock()
}

// Scan returns a sighting for every visible node on the hub.
func (t *Loopback) Scan(ctx context.Context, timeout time.Duration) ([]Sighting, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if t.scanErr != nil {
		err := t.scanErr
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()

	var sightings []Sighting
	for addr, n := range t.hub.nodes {
		if addr == t.addr {
			continue
		}
		n.mu.Lock()
		ok := n.visible && !n.closed
		name := n.name
		n.mu.Unlock()
		if ok {
			sightings = append(sightings, Sighting{
				Address:          addr,
				Name:             name,
				ServiceConfirmed: true,
			})
		}
	}
	return sightings, nil
}

// Connect opens a symmetric link to the node at addr. The peer's
// connect handler fires before Connect returns, so the peer can send
// on the link immediately.
func (t *Loopback) Connect(ctx context.Context, addr string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if err := t.connectErr[addr]; err != nil {
		t.mu.Unlock()
		return err
	}
	if t.links[addr] != nil {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.mu.Unlock()

	peer := t.hub.lookup(addr)
	if peer == nil {
		return ErrConnectFailed
	}

	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return ErrConnectFailed
	}
	peerQueue := newInboundQueue()
	peer.links[t.addr] = peerQueue
	accepted := peer.conn
	peer.mu.Unlock()
	go peer.pump(t.addr, peerQueue)

	ownQueue := newInboundQueue()
	t.mu.Lock()
	t.links[addr] = ownQueue
	t.mu.Unlock()
	go t.pump(addr, ownQueue)

	if accepted != nil {
		accepted(t.addr, t.name)
	}
	return nil
}

// Disconnect drops the link to addr. The peer's disconnect handler
// fires with a nil error.
func (t *Loopback) Disconnect(addr string) error {
	t.mu.Lock()
	q := t.links[addr]
	if q == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	delete(t.links, addr)
	t.mu.Unlock()
	q.close()

	if peer := t.hub.lookup(addr); peer != nil {
		peer.dropLink(t.addr, nil)
	}
	return nil
}

// Send queues one frame for the peer. Delivery is asynchronous but
// preserves per-link send order.
func (t *Loopback) Send(addr string, data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.links[addr] == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	peer := t.hub.lookup(addr)
	if peer == nil {
		return ErrNotConnected
	}

	peer.mu.Lock()
	q := peer.links[t.addr]
	closed := peer.closed
	peer.mu.Unlock()
	if q == nil || closed {
		return ErrNotConnected
	}

	q.push(append([]byte(nil), data...))
	return nil
}

// pump drains one link's queue into the receive handler.
func (t *Loopback) pump(from string, q *inboundQueue) {
	for data := range q.frames {
		t.mu.Lock()
		handler := t.recv
		t.mu.Unlock()
		if handler != nil {
			handler(from, data)
		}
	}
}

// SetReceiveHandler registers the inbound frame handler.
func (t *Loopback) SetReceiveHandler(h ReceiveHandler) {
	t.mu.Lock()
	t.recv = h
	t.mu.Unlock()
}

// SetDisconnectHandler registers the link-drop handler.
func (t *Loopback) SetDisconnectHandler(h DisconnectHandler) {
	t.mu.Lock()
	t.disc = h
	t.mu.Unlock()
}

// SetConnectHandler registers the handler for links peers open to this
// node.
func (t *Loopback) SetConnectHandler(h ConnectHandler) {
	t.mu.Lock()
	t.conn = h
	t.mu.Unlock()
}

// Close drops all links and detaches the node.
func (t *Loopback) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	links := t.links
	t.links = make(map[string]*inboundQueue)
	t.mu.Unlock()

	for addr, q := range links {
		q.close()
		if peer := t.hub.lookup(addr); peer != nil {
			peer.dropLink(t.addr, ErrClosed)
		}
	}
	return nil
}

// dropLink removes the link initiated from the far side and fires the
// disconnect handler.
func (t *Loopback) dropLink(addr string, err error) {
	t.mu.Lock()
	q := t.links[addr]
	if q == nil {
		t.mu.Unlock()
		return
	}
	delete(t.links, addr)
	handler := t.disc
	t.mu.Unlock()
	q.close()

	if handler != nil {
		go handler(addr, err)
	}
}
