// Package router implements TTL-bounded flood routing. Every accepted
// message is delivered locally at most once and re-broadcast to all
// connected links except the one it arrived on, with its hop budget
// decremented. The dedup cache is consulted and updated before
// delivery so a copy racing in on a second link can never deliver
// twice.
package router

import (
	"sync"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/dedup"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/wire"
)

// DropReason explains why an ingested message produced no delivery.
type DropReason string

const (
	DropNone      DropReason = ""
	DropDuplicate DropReason = "duplicate"
	DropOwn       DropReason = "own message"
)

// Decision is the outcome of routing one message. Forward is the
// TTL-decremented copy to send to Targets; it is nil when the hop
// budget is spent or the message was dropped.
type Decision struct {
	DeliverLocal bool
	Drop         DropReason
	Forward      *wire.Message
	Targets      []string
}

// Stats is a point-in-time snapshot of routing activity.
type Stats struct {
	Ingested          uint64
	Delivered         uint64
	ForwardCopies     uint64
	DroppedDuplicate  uint64
	DroppedOwn        uint64
	TTLExhausted      uint64
	Originated        uint64
	DedupEntries      int
	DedupEvictedTotal uint64
}

// Router routes messages for one local device. All methods are safe
// for concurrent use.
type Router struct {
	localID string
	cache   *dedup.Cache

	mu            sync.Mutex
	ingested      uint64
	delivered     uint64
	forwardCopies uint64
	dupDropped    uint64
	ownDropped    uint64
	ttlExhausted  uint64
	originated    uint64
}

// New creates a router for the device identified by localID.
func New(localID string, cache *dedup.Cache) *Router {
	if cache == nil {
		cache = dedup.NewCache(dedup.DefaultCapacity, dedup.DefaultTTL)
	}
	return &Router{localID: localID, cache: cache}
}

// Ingest routes a message received on the link from. neighbors lists
// all currently connected link addresses; the arrival link is excluded
// from the forward targets automatically.
//
// The dedup entry is recorded before the delivery decision is
// returned, so concurrent copies of the same message agree on a single
// winner.
func (r *Router) Ingest(m *wire.Message, from string, neighbors []string) Decision {
	r.mu.Lock()
	r.ingested++
	r.mu.Unlock()

	if !r.cache.Insert(m) {
		r.mu.Lock()
		r.dupDropped++
		r.mu.Unlock()
		return Decision{Drop: DropDuplicate}
	}

	// Our own message flooded back to us. It is now remembered, so
	// further echoes drop as duplicates.
	if m.SenderID == r.localID {
		r.mu.Lock()
		r.ownDropped++
		r.mu.Unlock()
		return Decision{Drop: DropOwn}
	}

	d := Decision{DeliverLocal: true}
	if fwd := m.ForwardCopy(); fwd != nil {
		targets := excludeTarget(neighbors, from)
		if len(targets) > 0 {
			d.Forward = fwd
			d.Targets = targets
		}
	} else {
		r.mu.Lock()
		r.ttlExhausted++
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.delivered++
	r.forwardCopies += uint64(len(d.Targets))
	r.mu.Unlock()
	return d
}

// Originate registers a locally created message and returns the links
// to broadcast it on. The message enters the dedup cache immediately
// so echoes from neighbors are dropped.
func (r *Router) Originate(m *wire.Message, neighbors []string) Decision {
	r.cache.Insert(m)

	r.mu.Lock()
	r.originated++
	r.forwardCopies += uint64(len(neighbors))
	r.mu.Unlock()

	return Decision{Forward: m, Targets: append([]string(nil), neighbors...)}
}

// Stats returns a snapshot of routing counters.
func (r *Router) Stats() Stats {
	cs := r.cache.Stats()

	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Ingested:          r.ingested,
		Delivered:         r.delivered,
		ForwardCopies:     r.forwardCopies,
		DroppedDuplicate:  r.dupDropped,
		DroppedOwn:        r.ownDropped,
		TTLExhausted:      r.ttlExhausted,
		Originated:        r.originated,
		DedupEntries:      cs.Entries,
		DedupEvictedTotal: cs.EvictedCapacity + cs.EvictedExpired,
	}
}

func excludeTarget(neighbors []string, exclude string) []string {
	targets := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if n != exclude {
			targets = append(targets, n)
		}
	}
	return targets
}
