// Package commands implements the bluemesh-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	PeerAddr  string
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
}

// RunView reads the log file and writes a human-readable rendering of
// every matching event to w.
func RunView(path string, filter ViewFilter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, log.Filter{
		PeerAddr:  filter.PeerAddr,
		Layer:     filter.Layer,
		Direction: filter.Direction,
		Category:  filter.Category,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
		count++
	}

	fmt.Fprintf(w, "%d events\n", count)
	return nil
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [peer] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	peer := event.PeerAddr
	if peer == "" {
		peer = "-"
	}

	var typeLabel string
	switch {
	case event.Frame != nil:
		typeLabel = "Frame"
	case event.Message != nil:
		typeLabel = event.Message.Kind
		if typeLabel == "" {
			typeLabel = "Message"
		}
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Peer != nil:
		typeLabel = "Peer"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [%s] %-5s %s %s\n", ts, peer, event.Direction, event.Layer, typeLabel)

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Peer != nil:
		formatPeerDetails(w, event.Peer)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// formatFrameDetails writes frame-specific details.
func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

// formatMessageDetails writes message-specific details.
func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  MessageID: %s\n", msg.MessageID)
	if msg.SenderID != "" {
		fmt.Fprintf(w, "  Sender: %s\n", msg.SenderID)
	}
	fmt.Fprintf(w, "  TTL: %d  Size: %d bytes\n", msg.TTL, msg.Size)
	if msg.Delivered {
		fmt.Fprintln(w, "  Delivered: yes")
	}
	if len(msg.ForwardedTo) > 0 {
		fmt.Fprintf(w, "  Forwarded: %s\n", strings.Join(msg.ForwardedTo, ", "))
	}
	if msg.DropReason != "" {
		fmt.Fprintf(w, "  Dropped: %s\n", msg.DropReason)
	}
}

// formatStateChangeDetails writes state-change details.
func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s: %s -> %s\n", sc.Entity, sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", sc.Entity, sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

// formatPeerDetails writes peer sighting/loss details.
func formatPeerDetails(w io.Writer, p *log.PeerEvent) {
	what := "sighted"
	if p.Lost {
		what = "lost"
	}
	fmt.Fprintf(w, "  Peer %s: %s", what, p.Address)
	if p.Name != "" {
		fmt.Fprintf(w, " (%s)", p.Name)
	}
	if p.RSSI != 0 {
		fmt.Fprintf(w, " rssi=%d", p.RSSI)
	}
	fmt.Fprintln(w)
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, e *log.ErrorEventData) {
	fmt.Fprintf(w, "  Error: %s\n", e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}

// ParseLayerFlag converts a layer flag value to a log.Layer.
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "mesh":
		return log.LayerMesh, nil
	default:
		return 0, fmt.Errorf("unknown layer %q (transport, wire, mesh)", s)
	}
}

// ParseDirectionFlag converts a direction flag value to a log.Direction.
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	case "local":
		return log.DirectionLocal, nil
	default:
		return 0, fmt.Errorf("unknown direction %q (in, out, local)", s)
	}
}

// ParseCategoryFlag converts a category flag value to a log.Category.
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "peer":
		return log.CategoryPeer, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("unknown category %q (message, state, peer, error)", s)
	}
}
