package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/log"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/transport"
)

// scriptedTransport returns one scripted scan result per cycle.
type scriptedTransport struct {
	results [][]transport.Sighting
	errs    []error
	cycle   int
}

func (s *scriptedTransport) LocalAddr() string { return "LOCAL" }

func (s *scriptedTransport) Scan(ctx context.Context, timeout time.Duration) ([]transport.Sighting, error) {
	i := s.cycle
	s.cycle++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	if len(s.results) > 0 {
		return s.results[len(s.results)-1], nil
	}
	return nil, nil
}

func (s *scriptedTransport) Connect(ctx context.Context, addr string, timeout time.Duration) error {
	return nil
}
func (s *scriptedTransport) Disconnect(addr string) error                       { return nil }
func (s *scriptedTransport) Send(addr string, data []byte) error                { return nil }
func (s *scriptedTransport) SetReceiveHandler(h transport.ReceiveHandler)       {}
func (s *scriptedTransport) SetDisconnectHandler(h transport.DisconnectHandler) {}
func (s *scriptedTransport) SetConnectHandler(h transport.ConnectHandler)       {}
func (s *scriptedTransport) Close() error                                       { return nil }

func sighting(addr, name string) transport.Sighting {
	return transport.Sighting{Address: addr, Name: name, ServiceConfirmed: true}
}

func TestPeerFoundFiresOnce(t *testing.T) {
	tr := &scriptedTransport{results: [][]transport.Sighting{
		{sighting("AA:01", "alpha")},
		{sighting("AA:01", "alpha")},
		{sighting("AA:01", "alpha")},
	}}
	d := New(tr, Config{}, nil)

	var found []string
	d.OnPeerFound(func(s transport.Sighting) { found = append(found, s.Address) })

	for i := 0; i < 3; i++ {
		if _, err := d.RunCycle(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if len(found) != 1 || found[0] != "AA:01" {
		t.Errorf("found events = %v, want exactly one for AA:01", found)
	}
	if got := d.Stats().KnownPeers; got != 1 {
		t.Errorf("KnownPeers = %d, want 1", got)
	}
}

func TestPerScanDedup(t *testing.T) {
	// One scan window sighting the same address twice with different
	// signal strengths.
	tr := &scriptedTransport{results: [][]transport.Sighting{
		{
			{Address: "AA:01", Name: "alpha", RSSI: -80},
			{Address: "AA:01", Name: "alpha", RSSI: -42},
		},
	}}
	d := New(tr, Config{}, nil)

	count := 0
	d.OnPeerFound(func(s transport.Sighting) { count++ })

	if _, err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if count != 1 {
		t.Errorf("found events = %d, want 1", count)
	}
	peers := d.KnownPeers()
	if len(peers) != 1 || peers[0].RSSI != -42 {
		t.Errorf("peers = %+v, want the strongest sighting kept", peers)
	}
}

func TestPeerLostFiresExactlyAtThreshold(t *testing.T) {
	results := [][]transport.Sighting{{sighting("AA:01", "alpha")}}
	// Five empty cycles after the sighting.
	for i := 0; i < 6; i++ {
		results = append(results, nil)
	}
	tr := &scriptedTransport{results: results}
	d := New(tr, Config{LostThreshold: 5}, nil)

	var lost []string
	d.OnPeerLost(func(addr string) { lost = append(lost, addr) })

	for i := 0; i < 7; i++ {
		if _, err := d.RunCycle(context.Background()); err != nil {
			t.Fatal(err)
		}
		// The peer survives the first four missed cycles.
		if i >= 1 && i <= 4 && len(lost) != 0 {
			t.Fatalf("lost fired after %d missed cycles", i)
		}
	}

	if len(lost) != 1 || lost[0] != "AA:01" {
		t.Errorf("lost events = %v, want exactly one for AA:01", lost)
	}
	if got := d.Stats().KnownPeers; got != 0 {
		t.Errorf("KnownPeers = %d, want 0", got)
	}
}

// recordingLogger captures every event for inspection.
type recordingLogger struct {
	events []log.Event
}

func (l *recordingLogger) Log(e log.Event) { l.events = append(l.events, e) }
func (l *recordingLogger) Close() error    { return nil }

func (l *recordingLogger) peerEvents() []log.Event {
	var out []log.Event
	for _, e := range l.events {
		if e.Category == log.CategoryPeer {
			out = append(out, e)
		}
	}
	return out
}

func TestPeerEventsLogged(t *testing.T) {
	results := [][]transport.Sighting{
		{sighting("AA:01", "alpha")},
		nil,
		nil,
	}
	tr := &scriptedTransport{results: results}
	logger := &recordingLogger{}
	d := New(tr, Config{LostThreshold: 2}, logger)

	for i := 0; i < 3; i++ {
		if _, err := d.RunCycle(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	events := logger.peerEvents()
	if len(events) != 2 {
		t.Fatalf("peer events = %d, want one found and one lost", len(events))
	}

	found := events[0].Peer
	if found == nil || found.Address != "AA:01" || found.Lost {
		t.Fatalf("found event = %+v", found)
	}
	if found.Name != "alpha" || !found.Confirmed {
		t.Errorf("found event details = %+v", found)
	}

	lost := events[1].Peer
	if lost == nil || lost.Address != "AA:01" || !lost.Lost {
		t.Fatalf("lost event = %+v", lost)
	}
}

func TestNetworkStateTransitions(t *testing.T) {
	results := [][]transport.Sighting{
		{sighting("AA:01", "alpha")}, // change: discovering
		{sighting("AA:01", "alpha")}, // unchanged 1
		{sighting("AA:01", "alpha")}, // unchanged 2
		{sighting("AA:01", "alpha")}, // unchanged 3: stable
	}
	tr := &scriptedTransport{results: results}
	d := New(tr, Config{StableCycles: 3}, nil)

	if d.NetworkState() != NetworkUnknown {
		t.Fatalf("initial state = %v, want unknown", d.NetworkState())
	}

	d.RunCycle(context.Background())
	if d.NetworkState() != NetworkDiscovering {
		t.Errorf("after change state = %v, want discovering", d.NetworkState())
	}

	for i := 0; i < 3; i++ {
		d.RunCycle(context.Background())
	}
	if d.NetworkState() != NetworkStable {
		t.Errorf("after quiet cycles state = %v, want stable", d.NetworkState())
	}
}

func TestEmptyNetworkState(t *testing.T) {
	tr := &scriptedTransport{}
	d := New(tr, Config{}, nil)

	d.RunCycle(context.Background())
	if d.NetworkState() != NetworkEmpty {
		t.Errorf("state = %v, want empty", d.NetworkState())
	}
}

func TestIntervalSmoothingAndClamp(t *testing.T) {
	tests := []struct {
		name            string
		current, target time.Duration
		want            time.Duration
	}{
		{"Halfway", 10 * time.Second, 30 * time.Second, 20 * time.Second},
		{"ClampLow", 3 * time.Second, 1 * time.Second, 3 * time.Second},
		{"ClampHigh", 60 * time.Second, 80 * time.Second, 60 * time.Second},
		{"AtTarget", 30 * time.Second, 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextInterval(tt.current, tt.target, DefaultMinInterval, DefaultMaxInterval)
			if got != tt.want {
				t.Errorf("nextInterval(%v, %v) = %v, want %v", tt.current, tt.target, got, tt.want)
			}
		})
	}
}

func TestIntervalGrowsTowardStable(t *testing.T) {
	results := [][]transport.Sighting{{sighting("AA:01", "alpha")}}
	tr := &scriptedTransport{results: results}
	d := New(tr, Config{}, nil)

	d.RunCycle(context.Background())
	first := d.Interval()

	// Many unchanged cycles: the interval must climb toward the
	// stable target without overshooting it.
	for i := 0; i < 10; i++ {
		d.RunCycle(context.Background())
	}
	final := d.Interval()

	if final <= first {
		t.Errorf("interval did not grow: first %v, final %v", first, final)
	}
	if final > DefaultStableInterval {
		t.Errorf("interval %v overshot stable target %v", final, DefaultStableInterval)
	}
}

func TestScanErrorBacksOff(t *testing.T) {
	scanErr := errors.New("radio busy")
	tr := &scriptedTransport{errs: []error{scanErr, scanErr}}
	d := New(tr, Config{}, nil)

	wait1, err := d.RunCycle(context.Background())
	if !errors.Is(err, scanErr) {
		t.Fatalf("RunCycle() error = %v, want scan error", err)
	}
	wait2, err := d.RunCycle(context.Background())
	if !errors.Is(err, scanErr) {
		t.Fatal(err)
	}

	// Exponential growth: even with jitter the second wait exceeds
	// the first.
	if wait2 <= wait1 {
		t.Errorf("waits %v then %v, want exponential growth", wait1, wait2)
	}
	if got := d.Stats().ScanErrors; got != 2 {
		t.Errorf("ScanErrors = %d, want 2", got)
	}

	// A successful cycle resets the retry schedule.
	if _, err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
}
