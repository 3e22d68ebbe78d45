package bluemesh_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/pool"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/service"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/transport"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/wire"
)

// meshNode bundles one engine with its loopback transport and an
// inbox of locally delivered messages.
type meshNode struct {
	svc   *service.Service
	tr    *transport.Loopback
	inbox chan *wire.Message
}

func startNode(t *testing.T, hub *transport.Hub, addr, name string, autoConnect bool) *meshNode {
	t.Helper()

	cfg := service.DefaultConfig()
	cfg.DisplayName = name
	cfg.AutoConnect = autoConnect

	n := &meshNode{
		tr:    hub.NewNode(addr, name),
		inbox: make(chan *wire.Message, 32),
	}
	n.svc = service.New(n.tr, cfg, nil)
	n.svc.OnMessage(func(m *wire.Message, from string) {
		n.inbox <- m
	})

	if err := n.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s) failed: %v", addr, err)
	}
	t.Cleanup(func() { n.svc.Stop() })
	return n
}

func (n *meshNode) waitFor(t *testing.T, id string) *wire.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m := <-n.inbox:
			if m.ID == id {
				return m
			}
		case <-deadline:
			t.Fatalf("node %s never delivered %s", n.tr.LocalAddr(), id)
			return nil
		}
	}
}

func (n *meshNode) expectNothing(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case m := <-n.inbox:
		t.Fatalf("node %s unexpectedly delivered %q", n.tr.LocalAddr(), m.Content)
	case <-time.After(d):
	}
}

// TestE2E_StarFlood checks that a message floods a hub-and-spoke
// network and every node delivers it exactly once.
func TestE2E_StarFlood(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	hub := transport.NewHub()
	center := startNode(t, hub, "AA:00", "center", false)

	leaves := make([]*meshNode, 4)
	for i := range leaves {
		leaves[i] = startNode(t, hub, fmt.Sprintf("AA:%02d", i+1), fmt.Sprintf("leaf-%d", i+1), false)
	}

	for _, leaf := range leaves {
		if err := center.svc.Connect(context.Background(), leaf.tr.LocalAddr()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	}

	sent, err := leaves[0].svc.Send("hello everyone")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	center.waitFor(t, sent.ID)
	for _, leaf := range leaves[1:] {
		leaf.waitFor(t, sent.ID)
	}

	// No second copies anywhere.
	center.expectNothing(t, 150*time.Millisecond)
	leaves[0].expectNothing(t, 150*time.Millisecond)
	for _, leaf := range leaves[1:] {
		leaf.expectNothing(t, 150*time.Millisecond)
	}
}

// TestE2E_TTLBoundsLineTopology checks that the hop budget stops the
// flood at the expected depth of a chain.
func TestE2E_TTLBoundsLineTopology(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	hub := transport.NewHub()
	nodes := make([]*meshNode, 6)
	for i := range nodes {
		nodes[i] = startNode(t, hub, fmt.Sprintf("BB:%02d", i), fmt.Sprintf("node-%d", i), false)
	}
	for i := 0; i < len(nodes)-1; i++ {
		if err := nodes[i].svc.Connect(context.Background(), nodes[i+1].tr.LocalAddr()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	}

	sent, err := nodes[0].svc.Send("how far do I travel")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// The origin sends at full budget; each relay decrements once. A
	// copy arriving with no budget left still delivers locally but is
	// not relayed, so the chain ends one link past the last relay.
	for i, wantTTL := range []int{3, 2, 1, 0} {
		got := nodes[i+1].waitFor(t, sent.ID)
		if got.TTL != wantTTL {
			t.Errorf("node %d saw TTL %d, want %d", i+1, got.TTL, wantTTL)
		}
	}
	nodes[5].expectNothing(t, 300*time.Millisecond)
}

// TestE2E_AutoConnectViaDiscovery checks that a scan cycle feeds the
// pool and a link comes up without manual connect calls.
func TestE2E_AutoConnectViaDiscovery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	hub := transport.NewHub()
	a := startNode(t, hub, "CC:01", "first", true)
	startNode(t, hub, "CC:02", "second", false)

	if err := a.svc.ScanNow(context.Background()); err != nil {
		t.Fatalf("ScanNow failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		links := a.svc.Links()
		if len(links) == 1 && links[0].Address == "CC:02" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("auto-connect never linked, links = %+v", links)
		}
		time.Sleep(20 * time.Millisecond)
	}

	peers := a.svc.Peers()
	if len(peers) != 1 || peers[0].Address != "CC:02" {
		t.Errorf("Peers() = %+v, want the sighted node", peers)
	}
}

// TestE2E_PoolCeiling checks that a node refuses a fifth link.
func TestE2E_PoolCeiling(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	hub := transport.NewHub()
	center := startNode(t, hub, "DD:00", "center", false)
	for i := 1; i <= 5; i++ {
		startNode(t, hub, fmt.Sprintf("DD:%02d", i), fmt.Sprintf("peer-%d", i), false)
	}

	for i := 1; i <= 4; i++ {
		if err := center.svc.Connect(context.Background(), fmt.Sprintf("DD:%02d", i)); err != nil {
			t.Fatalf("Connect %d failed: %v", i, err)
		}
	}

	err := center.svc.Connect(context.Background(), "DD:05")
	if !errors.Is(err, pool.ErrAtCapacity) {
		t.Fatalf("fifth Connect error = %v, want %v", err, pool.ErrAtCapacity)
	}
	if got := len(center.svc.Links()); got != 4 {
		t.Errorf("links = %d, want 4", got)
	}
}

// TestE2E_DisconnectStopsDelivery checks that traffic stops once the
// only link is released.
func TestE2E_DisconnectStopsDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	hub := transport.NewHub()
	a := startNode(t, hub, "EE:01", "talker", false)
	b := startNode(t, hub, "EE:02", "listener", false)

	if err := a.svc.Connect(context.Background(), "EE:02"); err != nil {
		t.Fatal(err)
	}
	sent, err := a.svc.Send("before")
	if err != nil {
		t.Fatal(err)
	}
	b.waitFor(t, sent.ID)

	if err := a.svc.Disconnect("EE:02"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	// Fan-out now has no targets; Send succeeds locally and nothing
	// arrives on the far side.
	if _, err := a.svc.Send("after"); err != nil {
		t.Fatalf("Send after disconnect failed: %v", err)
	}
	b.expectNothing(t, 300*time.Millisecond)
}
