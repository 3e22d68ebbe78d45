// Package transport abstracts the short-range link layer beneath the
// mesh engine. A Transport can scan for nearby devices, open and close
// point-to-point links, and move opaque byte frames across them.
//
// Two implementations are provided: Loopback, an in-memory mesh used
// by tests and simulations, and LAN, which advertises and discovers
// peers over mDNS and carries frames over TCP.
package transport
