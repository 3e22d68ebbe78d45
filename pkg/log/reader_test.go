package log_test

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/log"
)

func writeEvents(t *testing.T, events []log.Event) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "filter.blog")
	logger, err := log.NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())
	return path
}

func drain(t *testing.T, r *log.Reader) []log.Event {
	t.Helper()

	var out []log.Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, event)
	}
}

func TestFilteredReaderByPeer(t *testing.T) {
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	path := writeEvents(t, []log.Event{
		{Timestamp: base, PeerAddr: "AA:01", Direction: log.DirectionIn, Layer: log.LayerMesh},
		{Timestamp: base.Add(time.Second), PeerAddr: "BB:02", Direction: log.DirectionOut, Layer: log.LayerMesh},
		{Timestamp: base.Add(2 * time.Second), PeerAddr: "AA:01", Direction: log.DirectionOut, Layer: log.LayerTransport},
	})

	reader, err := log.NewFilteredReader(path, log.Filter{PeerAddr: "AA:01"})
	require.NoError(t, err)
	defer reader.Close()

	events := drain(t, reader)
	require.Len(t, events, 2)
	assert.Equal(t, "AA:01", events[0].PeerAddr)
	assert.Equal(t, "AA:01", events[1].PeerAddr)
}

func TestFilteredReaderByLayerAndDirection(t *testing.T) {
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	path := writeEvents(t, []log.Event{
		{Timestamp: base, Direction: log.DirectionIn, Layer: log.LayerTransport},
		{Timestamp: base, Direction: log.DirectionOut, Layer: log.LayerTransport},
		{Timestamp: base, Direction: log.DirectionOut, Layer: log.LayerMesh},
	})

	layer := log.LayerTransport
	dir := log.DirectionOut
	reader, err := log.NewFilteredReader(path, log.Filter{Layer: &layer, Direction: &dir})
	require.NoError(t, err)
	defer reader.Close()

	events := drain(t, reader)
	require.Len(t, events, 1)
	assert.Equal(t, log.LayerTransport, events[0].Layer)
	assert.Equal(t, log.DirectionOut, events[0].Direction)
}

func TestFilteredReaderByTimeRange(t *testing.T) {
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	path := writeEvents(t, []log.Event{
		{Timestamp: base},
		{Timestamp: base.Add(time.Minute)},
		{Timestamp: base.Add(2 * time.Minute)},
	})

	start := base.Add(30 * time.Second)
	end := base.Add(90 * time.Second)
	reader, err := log.NewFilteredReader(path, log.Filter{TimeStart: &start, TimeEnd: &end})
	require.NoError(t, err)
	defer reader.Close()

	events := drain(t, reader)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(base.Add(time.Minute)))
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	path := writeEvents(t, []log.Event{
		{Timestamp: base, Category: log.CategoryMessage},
		{Timestamp: base, Category: log.CategoryError, Error: &log.ErrorEventData{Message: "x"}},
	})

	reader, err := log.NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	assert.Len(t, drain(t, reader), 2)
}
