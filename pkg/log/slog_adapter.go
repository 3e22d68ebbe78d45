package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes mesh events to an slog.Logger.
// Useful for development when you want to see engine events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.PeerAddr != "" {
		attrs = append(attrs, slog.String("peer", event.PeerAddr))
	}
	if event.LocalID != "" {
		attrs = append(attrs, slog.String("local_id", event.LocalID))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("msg_id", event.Message.MessageID),
			slog.Int("ttl", event.Message.TTL),
		)
		if event.Message.SenderID != "" {
			attrs = append(attrs, slog.String("sender", event.Message.SenderID))
		}
		if event.Message.Kind != "" {
			attrs = append(attrs, slog.String("kind", event.Message.Kind))
		}
		if event.Message.Delivered {
			attrs = append(attrs, slog.Bool("delivered", true))
		}
		if len(event.Message.ForwardedTo) > 0 {
			attrs = append(attrs, slog.Int("fanout", len(event.Message.ForwardedTo)))
		}
		if event.Message.DropReason != "" {
			attrs = append(attrs, slog.String("drop_reason", event.Message.DropReason))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Peer != nil:
		attrs = append(attrs, slog.String("address", event.Peer.Address))
		if event.Peer.Name != "" {
			attrs = append(attrs, slog.String("name", event.Peer.Name))
		}
		if event.Peer.RSSI != 0 {
			attrs = append(attrs, slog.Int("rssi", event.Peer.RSSI))
		}
		attrs = append(attrs, slog.Bool("lost", event.Peer.Lost))
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "mesh", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
