package log

import (
	"time"
)

// Event represents a mesh engine log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// LocalID is the identifier of the local node.
	LocalID string `cbor:"2,keyasint,omitempty"`

	// PeerAddr is the address of the peer link involved, if any.
	PeerAddr string `cbor:"3,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"4,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"5,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"6,keyasint"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"7,keyasint,omitempty"`  // Transport layer
	Message     *MessageEvent     `cbor:"8,keyasint,omitempty"`  // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"9,keyasint,omitempty"`  // Link/discovery state
	Peer        *PeerEvent        `cbor:"10,keyasint,omitempty"` // Peer sighting/loss
	Error       *ErrorEventData   `cbor:"11,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
	// DirectionLocal indicates an event with no wire traffic.
	DirectionLocal Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which engine layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes per link).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded JSON).
	LayerWire Layer = 1
	// LayerMesh is the routing/orchestration layer.
	LayerMesh Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerMesh:
		return "MESH"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates mesh message traffic.
	CategoryMessage Category = 0
	// CategoryState indicates a link or discovery state change.
	CategoryState Category = 1
	// CategoryPeer indicates a peer sighting or loss.
	CategoryPeer Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryPeer:
		return "PEER"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded mesh message at the wire layer,
// together with the routing outcome when known.
type MessageEvent struct {
	// MessageID is the message's unique identifier.
	MessageID string `cbor:"1,keyasint"`

	// SenderID is the originating node's identifier.
	SenderID string `cbor:"2,keyasint,omitempty"`

	// Kind is the message kind name (MESSAGE, HEARTBEAT, SYSTEM).
	Kind string `cbor:"3,keyasint,omitempty"`

	// TTL is the remaining hop budget observed on the message.
	TTL int `cbor:"4,keyasint"`

	// Size is the serialized size in bytes.
	Size int `cbor:"5,keyasint,omitempty"`

	// Delivered reports whether the message was surfaced locally.
	Delivered bool `cbor:"6,keyasint,omitempty"`

	// ForwardedTo lists the link addresses the message was relayed to.
	ForwardedTo []string `cbor:"7,keyasint,omitempty"`

	// DropReason names why the message was dropped, if it was
	// (duplicate, ttl, malformed).
	DropReason string `cbor:"8,keyasint,omitempty"`
}

// StateChangeEvent captures link and discovery lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityLink indicates a peer link state change.
	StateEntityLink StateEntity = 0
	// StateEntityScan indicates a scan-cycle state change.
	StateEntityScan StateEntity = 1
	// StateEntityNetwork indicates a network-activity state change.
	StateEntityNetwork StateEntity = 2
	// StateEntityEngine indicates an engine lifecycle change.
	StateEntityEngine StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityLink:
		return "LINK"
	case StateEntityScan:
		return "SCAN"
	case StateEntityNetwork:
		return "NETWORK"
	case StateEntityEngine:
		return "ENGINE"
	default:
		return "UNKNOWN"
	}
}

// PeerEvent captures a discovery sighting or loss.
type PeerEvent struct {
	// Address is the peer's link address.
	Address string `cbor:"1,keyasint"`

	// Name is the peer's display name, if advertised.
	Name string `cbor:"2,keyasint,omitempty"`

	// RSSI is the signal strength of the sighting (0 when unknown).
	RSSI int `cbor:"3,keyasint,omitempty"`

	// Lost is true for a peer-lost event, false for a sighting.
	Lost bool `cbor:"4,keyasint,omitempty"`

	// Confirmed reports whether the peer has passed service verification.
	Confirmed bool `cbor:"5,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
