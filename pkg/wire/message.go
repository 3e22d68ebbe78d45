package wire

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Wire format limits.
const (
	// MaxContentLength is the maximum message content length in characters.
	MaxContentLength = 450

	// MaxWireSize is the maximum serialized message size in bytes.
	MaxWireSize = 500

	// DefaultTTL is the default hop budget for new messages.
	DefaultTTL = 3

	// MaxTTL is the largest hop budget accepted from the wire.
	// Inbound messages claiming more are rejected to prevent TTL inflation.
	MaxTTL = 7

	// HeartbeatTTL is the hop budget for heartbeats; they never propagate
	// past the first hop.
	HeartbeatTTL = 1

	// MaxClockSkew is the tolerated future offset on inbound timestamps.
	MaxClockSkew = time.Minute
)

// Wire format errors.
var (
	ErrMessageTooLarge  = errors.New("serialized message exceeds wire size limit")
	ErrContentTooLong   = errors.New("content exceeds maximum length")
	ErrEmptyContent     = errors.New("message content is empty")
	ErrInvalidMessageID = errors.New("message id is not a valid UUID")
	ErrMissingSender    = errors.New("sender id is required")
	ErrNegativeTTL      = errors.New("ttl cannot be negative")
	ErrTTLTooLarge      = errors.New("ttl exceeds maximum")
	ErrFutureTimestamp  = errors.New("message timestamp is in the future")
	ErrStaleMessage     = errors.New("message is older than the freshness bound")
)

// Kind identifies the type of a mesh message.
type Kind string

const (
	// KindMessage is a regular user broadcast.
	KindMessage Kind = "MESSAGE"

	// KindHeartbeat is a keep-alive ping between directly connected peers.
	KindHeartbeat Kind = "HEARTBEAT"

	// KindSystem is an engine-generated announcement.
	KindSystem Kind = "SYSTEM"
)

// IsValid reports whether the kind is one of the known wire values.
func (k Kind) IsValid() bool {
	switch k {
	case KindMessage, KindHeartbeat, KindSystem:
		return true
	}
	return false
}

// Message is a single mesh message. Treat values as immutable after
// creation: the only sanctioned derivation is ForwardCopy.
//
// JSON encoding:
//
//	{
//	  "message_id":  "<uuid-v4>",
//	  "sender_id":   "<link address of originator>",
//	  "sender_name": "<optional display label>",
//	  "content":     "<text, ≤450 chars>",
//	  "timestamp":   <float seconds since epoch>,
//	  "ttl":         <remaining hops>,
//	  "type":        "MESSAGE" | "HEARTBEAT" | "SYSTEM"
//	}
type Message struct {
	ID         string  `json:"message_id"`
	SenderID   string  `json:"sender_id"`
	SenderName string  `json:"sender_name,omitempty"`
	Content    string  `json:"content"`
	Timestamp  float64 `json:"timestamp"`
	TTL        int     `json:"ttl"`
	Kind       Kind    `json:"type"`
}

// New creates a broadcast message with a fresh random identity and the
// default hop budget. Content must already be sanitized.
func New(content, senderID, senderName string) *Message {
	return &Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Timestamp:  nowUnix(),
		TTL:        DefaultTTL,
		Kind:       KindMessage,
	}
}

// NewWithTTL creates a broadcast message with an explicit hop budget.
func NewWithTTL(content, senderID, senderName string, ttl int) *Message {
	m := New(content, senderID, senderName)
	m.TTL = ttl
	return m
}

// NewHeartbeat creates a single-hop keep-alive message.
func NewHeartbeat(senderID string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Timestamp: nowUnix(),
		TTL:       HeartbeatTTL,
		Kind:      KindHeartbeat,
	}
}

// NewSystem creates an engine-generated announcement message.
func NewSystem(content, senderID string) *Message {
	m := New(content, senderID, "")
	m.Kind = KindSystem
	return m
}

// Validate checks the structural validity of a message. It does not
// check freshness; see CheckFreshness.
func (m *Message) Validate() error {
	if _, err := uuid.Parse(m.ID); err != nil {
		return ErrInvalidMessageID
	}
	if m.SenderID == "" {
		return ErrMissingSender
	}
	if m.TTL < 0 {
		return ErrNegativeTTL
	}
	if m.TTL > MaxTTL {
		return ErrTTLTooLarge
	}
	if len([]rune(m.Content)) > MaxContentLength {
		return ErrContentTooLong
	}
	if m.Kind == KindMessage && m.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// CheckFreshness rejects messages whose timestamp is implausibly far in
// the future or older than maxAge. A zero maxAge disables the age check.
func (m *Message) CheckFreshness(now time.Time, maxAge time.Duration) error {
	created := time.Unix(0, int64(m.Timestamp*float64(time.Second)))
	if created.After(now.Add(MaxClockSkew)) {
		return ErrFutureTimestamp
	}
	if maxAge > 0 && now.Sub(created) > maxAge {
		return ErrStaleMessage
	}
	return nil
}

// CanForward reports whether the message has hop budget remaining.
func (m *Message) CanForward() bool {
	return m.TTL > 0
}

// ForwardCopy returns a derived copy with the TTL decremented by one.
// The receiver is not modified. Returns nil if the hop budget is spent.
func (m *Message) ForwardCopy() *Message {
	if !m.CanForward() {
		return nil
	}
	copied := *m
	copied.TTL--
	return &copied
}

// CreatedAt returns the message creation time.
func (m *Message) CreatedAt() time.Time {
	return time.Unix(0, int64(m.Timestamp*float64(time.Second)))
}

// DisplayName returns the sender's display label, falling back to the
// sender id when no name was advertised.
func (m *Message) DisplayName() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
