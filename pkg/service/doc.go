// Package service orchestrates the mesh engine: it owns the transport,
// connection pool, discovery loop, router, rate limiter, and heartbeat
// monitor, and exposes the two operations everything else is built
// from, sending a message into the mesh and receiving messages out of
// it.
package service
