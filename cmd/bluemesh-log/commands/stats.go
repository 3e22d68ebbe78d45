package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Peers             map[string]*PeerStats
	Delivered         int
	Dropped           map[string]int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// PeerStats holds statistics for a single peer link.
type PeerStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	In        int
	Out       int
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Peers:             make(map[string]*PeerStats),
		Dropped:           make(map[string]int),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.observe(event)
	}

	stats.print(w)
	return nil
}

func (s *Stats) observe(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	// Track time range
	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.PeerAddr != "" {
		peer, ok := s.Peers[event.PeerAddr]
		if !ok {
			peer = &PeerStats{FirstSeen: event.Timestamp}
			s.Peers[event.PeerAddr] = peer
		}
		peer.Events++
		peer.LastSeen = event.Timestamp
		switch event.Direction {
		case log.DirectionIn:
			peer.In++
		case log.DirectionOut:
			peer.Out++
		}
	}

	if event.Message != nil {
		if event.Message.Delivered {
			s.Delivered++
		}
		if event.Message.DropReason != "" {
			s.Dropped[event.Message.DropReason]++
		}
	}
	if event.Error != nil {
		s.Errors++
	}
}

func (s *Stats) print(w io.Writer) {
	fmt.Fprintf(w, "Total events: %d\n", s.TotalEvents)
	if !s.TimeRange.Start.IsZero() {
		fmt.Fprintf(w, "Time range:   %s to %s (%s)\n",
			s.TimeRange.Start.UTC().Format(time.RFC3339),
			s.TimeRange.End.UTC().Format(time.RFC3339),
			s.TimeRange.End.Sub(s.TimeRange.Start).Round(time.Second))
	}

	fmt.Fprintln(w, "\nBy layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerMesh} {
		if n := s.EventsByLayer[layer]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", layer, n)
		}
	}

	fmt.Fprintln(w, "\nBy category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryPeer, log.CategoryError} {
		if n := s.EventsByCategory[cat]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", cat, n)
		}
	}

	fmt.Fprintf(w, "\nDelivered: %d\n", s.Delivered)
	if len(s.Dropped) > 0 {
		fmt.Fprintln(w, "Dropped:")
		reasons := make([]string, 0, len(s.Dropped))
		for r := range s.Dropped {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %-12s %d\n", r, s.Dropped[r])
		}
	}
	fmt.Fprintf(w, "Errors: %d\n", s.Errors)

	if len(s.Peers) > 0 {
		fmt.Fprintln(w, "\nPeers:")
		addrs := make([]string, 0, len(s.Peers))
		for addr := range s.Peers {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)
		for _, addr := range addrs {
			p := s.Peers[addr]
			fmt.Fprintf(w, "  %-20s %5d events (in %d, out %d) over %s\n",
				addr, p.Events, p.In, p.Out, p.LastSeen.Sub(p.FirstSeen).Round(time.Second))
		}
	}
}
