package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/wire"
)

func TestRecentBufferCapacity(t *testing.T) {
	b := newRecentBuffer(3)

	for i := 0; i < 5; i++ {
		m := wire.New(fmt.Sprintf("msg %d", i), "AA:01", "")
		b.add(RecentMessage{Message: m, ReceivedAt: time.Now()})
	}

	entries := b.list()
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	// Oldest entries fell off; the survivors keep arrival order.
	for i, want := range []string{"msg 2", "msg 3", "msg 4"} {
		if entries[i].Message.Content != want {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Message.Content, want)
		}
	}
}

func TestRecentBufferDefaultCapacity(t *testing.T) {
	b := newRecentBuffer(0)

	for i := 0; i < DefaultRecentBufferSize+10; i++ {
		m := wire.New("x", "AA:01", "")
		b.add(RecentMessage{Message: m, ReceivedAt: time.Now()})
	}
	if got := b.len(); got != DefaultRecentBufferSize {
		t.Errorf("len = %d, want %d", got, DefaultRecentBufferSize)
	}
}
