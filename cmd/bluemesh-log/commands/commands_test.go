package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/log"
)

// createTestLogFile writes events to a temp log file and returns its path.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.blog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func sampleEvents() []log.Event {
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return []log.Event{
		{
			Timestamp: ts,
			LocalID:   "AA:01",
			PeerAddr:  "BB:02",
			Direction: log.DirectionIn,
			Layer:     log.LayerMesh,
			Category:  log.CategoryMessage,
			Message: &log.MessageEvent{
				MessageID: "11111111-2222-3333-4444-555555555555",
				SenderID:  "BB:02",
				Kind:      "message",
				TTL:       2,
				Size:      120,
				Delivered: true,
			},
		},
		{
			Timestamp: ts.Add(time.Second),
			LocalID:   "AA:01",
			PeerAddr:  "BB:02",
			Direction: log.DirectionIn,
			Layer:     log.LayerMesh,
			Category:  log.CategoryMessage,
			Message: &log.MessageEvent{
				MessageID:  "11111111-2222-3333-4444-555555555555",
				SenderID:   "BB:02",
				Kind:       "message",
				TTL:        1,
				DropReason: "duplicate",
			},
		},
		{
			Timestamp: ts.Add(2 * time.Second),
			LocalID:   "AA:01",
			Direction: log.DirectionLocal,
			Layer:     log.LayerMesh,
			Category:  log.CategoryError,
			Error:     &log.ErrorEventData{Layer: log.LayerMesh, Message: "boom", Context: "test"},
		},
		{
			Timestamp: ts.Add(3 * time.Second),
			LocalID:   "AA:01",
			PeerAddr:  "CC:03",
			Direction: log.DirectionOut,
			Layer:     log.LayerTransport,
			Category:  log.CategoryMessage,
			Frame:     &log.FrameEvent{Size: 64, Data: []byte{0x01, 0x02}},
		},
	}
}

func TestViewRendersEvents(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "11111111-2222-3333-4444-555555555555") {
		t.Error("expected message ID in output")
	}
	if !strings.Contains(output, "Dropped: duplicate") {
		t.Error("expected drop reason in output")
	}
	if !strings.Contains(output, "Error: boom") {
		t.Error("expected error detail in output")
	}
	if !strings.Contains(output, "4 events") {
		t.Errorf("expected event count in output, got:\n%s", output)
	}
}

func TestViewFiltersByLayer(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	layer := log.LayerTransport
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &layer}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "1 events") {
		t.Errorf("expected a single transport event, got:\n%s", output)
	}
	if strings.Contains(output, "MESH") {
		t.Error("mesh events leaked through the layer filter")
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data := readFile(t, out)
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) != 4 {
		t.Errorf("exported %d lines, want 4", len(lines))
	}
	if !strings.Contains(lines[0], "11111111-2222-3333-4444-555555555555") {
		t.Error("expected message ID in first JSONL line")
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data := readFile(t, out)
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) != 5 { // header + 4 events
		t.Errorf("exported %d lines, want 5", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp,") {
		t.Errorf("missing CSV header, got %q", lines[0])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFilterWritesMatchingEvents(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.blog")

	opts := FilterOptions{Output: out, PeerAddr: "BB:02"}
	if err := RunFilter(path, opts); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	// The filtered file is a valid log readable by the same reader.
	var buf bytes.Buffer
	if err := RunStats(out, &buf); err != nil {
		t.Fatalf("RunStats on filtered file failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total events: 2") {
		t.Errorf("filtered stats:\n%s", buf.String())
	}
}

func TestStatsAggregates(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Total events: 4") {
		t.Error("expected total event count")
	}
	if !strings.Contains(output, "Delivered: 1") {
		t.Error("expected delivered count")
	}
	if !strings.Contains(output, "duplicate") {
		t.Error("expected drop reason breakdown")
	}
	if !strings.Contains(output, "Errors: 1") {
		t.Error("expected error count")
	}
	if !strings.Contains(output, "BB:02") || !strings.Contains(output, "CC:03") {
		t.Error("expected per-peer breakdown")
	}
}

func TestParseFlagHelpers(t *testing.T) {
	if _, err := ParseLayerFlag("bogus"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if l, err := ParseLayerFlag("MESH"); err != nil || l != log.LayerMesh {
		t.Errorf("ParseLayerFlag(MESH) = %v, %v", l, err)
	}
	if d, err := ParseDirectionFlag("out"); err != nil || d != log.DirectionOut {
		t.Errorf("ParseDirectionFlag(out) = %v, %v", d, err)
	}
	if c, err := ParseCategoryFlag("peer"); err != nil || c != log.CategoryPeer {
		t.Errorf("ParseCategoryFlag(peer) = %v, %v", c, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
