package service

import (
	"sync"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/wire"
)

// DefaultRecentBufferSize bounds the recent-message buffer.
const DefaultRecentBufferSize = 50

// RecentMessage is one entry in the recent-message buffer.
type RecentMessage struct {
	Message    *wire.Message
	ReceivedAt time.Time

	// From is the link the message arrived on. Empty for messages
	// originated locally.
	From string
}

// recentBuffer keeps the last N delivered and originated messages for
// the UI. Oldest entries fall off the end.
type recentBuffer struct {
	mu      sync.Mutex
	entries []RecentMessage
	cap     int
}

func newRecentBuffer(capacity int) *recentBuffer {
	if capacity <= 0 {
		capacity = DefaultRecentBufferSize
	}
	return &recentBuffer{cap: capacity}
}

func (b *recentBuffer) add(m RecentMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, m)
	if len(b.entries) > b.cap {
		b.entries = b.entries[len(b.entries)-b.cap:]
	}
}

// list returns entries oldest first.
func (b *recentBuffer) list() []RecentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RecentMessage(nil), b.entries...)
}

func (b *recentBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
