// Package wire defines the bluemesh over-the-air message format.
//
// Messages are UTF-8 JSON objects, capped at MaxWireSize bytes so a
// message always fits a single transport write on constrained links.
// A Message is immutable once created; forwarding produces a derived
// copy with the TTL decremented (see ForwardCopy), never an in-place
// mutation, so concurrent forward paths can never observe a message
// with a torn hop budget.
//
// The package also provides content sanitization: control characters
// are stripped and Unicode is normalized before a message is accepted
// for origination, and display names and link addresses are cleaned
// before they reach any user-facing surface.
package wire
