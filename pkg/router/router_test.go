package router

import (
	"testing"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/dedup"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/wire"
)

func newTestRouter(localID string) *Router {
	return New(localID, dedup.NewCache(100, 5*time.Minute))
}

func TestIngestDeliversAndForwards(t *testing.T) {
	r := newTestRouter("dev-local")
	m := wire.New("hello", "dev-remote", "")
	m.TTL = 3

	d := r.Ingest(m, "LINK:A", []string{"LINK:A", "LINK:B", "LINK:C"})

	if !d.DeliverLocal {
		t.Error("DeliverLocal = false, want true")
	}
	if d.Forward == nil {
		t.Fatal("Forward = nil, want decremented copy")
	}
	if d.Forward.TTL != 2 {
		t.Errorf("forward TTL = %d, want 2", d.Forward.TTL)
	}
	if m.TTL != 3 {
		t.Errorf("original TTL mutated to %d", m.TTL)
	}
	if len(d.Targets) != 2 {
		t.Fatalf("Targets = %v, want arrival link excluded", d.Targets)
	}
	for _, target := range d.Targets {
		if target == "LINK:A" {
			t.Error("forward targets include the arrival link")
		}
	}
}

func TestIngestSpentTTLDeliversWithoutForward(t *testing.T) {
	r := newTestRouter("dev-local")
	m := wire.New("last hop", "dev-remote", "")
	m.TTL = 0

	d := r.Ingest(m, "LINK:A", []string{"LINK:A", "LINK:B"})

	if !d.DeliverLocal {
		t.Error("message with spent hop budget not delivered")
	}
	if d.Forward != nil || len(d.Targets) != 0 {
		t.Error("message with spent hop budget was forwarded")
	}
	if got := r.Stats().TTLExhausted; got != 1 {
		t.Errorf("TTLExhausted = %d, want 1", got)
	}
}

func TestIngestDuplicateDropped(t *testing.T) {
	r := newTestRouter("dev-local")
	m := wire.New("hello", "dev-remote", "")

	first := r.Ingest(m, "LINK:A", []string{"LINK:A", "LINK:B"})
	if !first.DeliverLocal {
		t.Fatal("first copy not delivered")
	}

	// Same message arriving over another link.
	second := r.Ingest(m, "LINK:B", []string{"LINK:A", "LINK:B"})
	if second.DeliverLocal || second.Forward != nil {
		t.Error("duplicate copy delivered or forwarded")
	}
	if second.Drop != DropDuplicate {
		t.Errorf("Drop = %q, want %q", second.Drop, DropDuplicate)
	}

	stats := r.Stats()
	if stats.Delivered != 1 {
		t.Errorf("Delivered = %d, want exactly 1", stats.Delivered)
	}
	if stats.DroppedDuplicate != 1 {
		t.Errorf("DroppedDuplicate = %d, want 1", stats.DroppedDuplicate)
	}
}

func TestOwnEchoDropped(t *testing.T) {
	r := newTestRouter("dev-local")

	m := wire.New("mine", "dev-local", "")
	d := r.Ingest(m, "LINK:A", []string{"LINK:A"})

	if d.DeliverLocal {
		t.Error("own echo delivered locally")
	}
	if d.Drop != DropOwn {
		t.Errorf("Drop = %q, want %q", d.Drop, DropOwn)
	}
}

func TestOriginateSuppressesEcho(t *testing.T) {
	r := newTestRouter("dev-local")

	m := wire.New("mine", "dev-local", "")
	d := r.Originate(m, []string{"LINK:A", "LINK:B"})
	if len(d.Targets) != 2 {
		t.Fatalf("Targets = %v, want both links", d.Targets)
	}

	// The echo comes back; dedup kills it before the own-sender check.
	echo := r.Ingest(m, "LINK:A", []string{"LINK:A", "LINK:B"})
	if echo.Drop != DropDuplicate {
		t.Errorf("echo Drop = %q, want %q", echo.Drop, DropDuplicate)
	}
}

// Four devices in a line: A - B - C - D. A message originated at A
// with the default hop budget must reach D exactly once.
func TestLineTopologyPropagation(t *testing.T) {
	type node struct {
		id     string
		router *Router
		links  []string
	}
	nodes := map[string]*node{
		"A": {id: "dev-A", links: []string{"B"}},
		"B": {id: "dev-B", links: []string{"A", "C"}},
		"C": {id: "dev-C", links: []string{"B", "D"}},
		"D": {id: "dev-D", links: []string{"C"}},
	}
	for _, n := range nodes {
		n.router = newTestRouter(n.id)
	}

	delivered := make(map[string]int)

	type hop struct {
		to, from string
		msg      *wire.Message
	}
	var queue []hop

	origin := wire.New("end to end", "dev-A", "")
	d := nodes["A"].router.Originate(origin, nodes["A"].links)
	for _, target := range d.Targets {
		queue = append(queue, hop{to: target, from: "A", msg: d.Forward})
	}

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]

		n := nodes[h.to]
		dec := n.router.Ingest(h.msg, h.from, n.links)
		if dec.DeliverLocal {
			delivered[h.to]++
		}
		for _, target := range dec.Targets {
			queue = append(queue, hop{to: target, from: h.to, msg: dec.Forward})
		}
	}

	for _, name := range []string{"B", "C", "D"} {
		if delivered[name] != 1 {
			t.Errorf("node %s delivered %d times, want exactly 1", name, delivered[name])
		}
	}
	if delivered["A"] != 0 {
		t.Errorf("origin delivered its own message %d times", delivered["A"])
	}
}
