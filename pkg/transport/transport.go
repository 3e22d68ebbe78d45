package transport

import (
	"context"
	"errors"
	"time"
)

// Transport errors.
var (
	// ErrUnavailable indicates the underlying radio or socket stack
	// is gone. This is fatal for the engine; it cannot be retried.
	ErrUnavailable = errors.New("transport unavailable")

	// ErrNotConnected indicates no open link to the address.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates a link to the address is open.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrConnectFailed indicates a connect attempt did not complete.
	ErrConnectFailed = errors.New("connect failed")

	// ErrClosed indicates the transport has been shut down.
	ErrClosed = errors.New("transport closed")
)

// Sighting is one device seen during a scan.
type Sighting struct {
	// Address is the link address the device can be connected on.
	Address string

	// Name is the advertised display name, if any.
	Name string

	// RSSI is the received signal strength (0 when the backend does
	// not report one).
	RSSI int

	// ServiceConfirmed reports whether the backend verified the mesh
	// service on the device, rather than just seeing an advertisement.
	ServiceConfirmed bool
}

// ReceiveHandler is called for every frame arriving on an open link.
// Handlers must not block; slow consumers should hand off to their own
// goroutine or channel.
type ReceiveHandler func(from string, data []byte)

// DisconnectHandler is called when an open link drops, with the error
// that ended it (nil for a clean local disconnect).
type DisconnectHandler func(addr string, err error)

// ConnectHandler is called when a remote peer opens a link to this
// node. name is the peer's advertised display name, if known.
type ConnectHandler func(addr, name string)

// Transport is a short-range link backend. Implementations must be
// safe for concurrent use.
type Transport interface {
	// LocalAddr returns the local device's own link address.
	LocalAddr() string

	// Scan looks for nearby devices for at most the given timeout and
	// returns everything sighted. Returns ErrUnavailable when the
	// backend is gone.
	Scan(ctx context.Context, timeout time.Duration) ([]Sighting, error)

	// Connect opens a link to the address, waiting at most timeout.
	Connect(ctx context.Context, addr string, timeout time.Duration) error

	// Disconnect closes the link to the address.
	Disconnect(addr string) error

	// Send writes one frame to the link.
	Send(addr string, data []byte) error

	// SetReceiveHandler registers the inbound frame handler. Must be
	// called before the first Connect.
	SetReceiveHandler(h ReceiveHandler)

	// SetDisconnectHandler registers the link-drop handler.
	SetDisconnectHandler(h DisconnectHandler)

	// SetConnectHandler registers the handler for links opened by the
	// remote side. Locally initiated connects do not fire it.
	SetConnectHandler(h ConnectHandler)

	// Close shuts the transport down, dropping all links.
	Close() error
}

// Compile-time interface satisfaction checks.
var (
	_ Transport = (*Loopback)(nil)
	_ Transport = (*LAN)(nil)
)
