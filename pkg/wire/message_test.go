package wire

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewMessageDefaults(t *testing.T) {
	m := New("hello mesh", "AA:BB:CC:DD:EE:01", "alice")

	if _, err := uuid.Parse(m.ID); err != nil {
		t.Errorf("ID %q is not a valid UUID: %v", m.ID, err)
	}
	if m.TTL != DefaultTTL {
		t.Errorf("TTL = %d, want %d", m.TTL, DefaultTTL)
	}
	if m.Kind != KindMessage {
		t.Errorf("Kind = %q, want %q", m.Kind, KindMessage)
	}
	if m.Timestamp <= 0 {
		t.Errorf("Timestamp = %v, want > 0", m.Timestamp)
	}

	age := time.Since(m.CreatedAt())
	if age < 0 || age > 5*time.Second {
		t.Errorf("CreatedAt() implausible: age %v", age)
	}
}

func TestNewHeartbeat(t *testing.T) {
	m := NewHeartbeat("AA:BB:CC:DD:EE:01")
	if m.TTL != HeartbeatTTL {
		t.Errorf("TTL = %d, want %d", m.TTL, HeartbeatTTL)
	}
	if m.Kind != KindHeartbeat {
		t.Errorf("Kind = %q, want %q", m.Kind, KindHeartbeat)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestMessageValidate(t *testing.T) {
	valid := func() *Message { return New("hi", "AA:BB", "alice") }

	tests := []struct {
		name    string
		mutate  func(*Message)
		wantErr error
	}{
		{"Valid", func(m *Message) {}, nil},
		{"BadID", func(m *Message) { m.ID = "not-a-uuid" }, ErrInvalidMessageID},
		{"NoSender", func(m *Message) { m.SenderID = "" }, ErrMissingSender},
		{"NegativeTTL", func(m *Message) { m.TTL = -1 }, ErrNegativeTTL},
		{"TTLTooLarge", func(m *Message) { m.TTL = MaxTTL + 1 }, ErrTTLTooLarge},
		{"ContentTooLong", func(m *Message) { m.Content = strings.Repeat("x", MaxContentLength+1) }, ErrContentTooLong},
		{"EmptyBroadcast", func(m *Message) { m.Content = "" }, ErrEmptyContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEmptyContentAllowedForHeartbeat(t *testing.T) {
	m := NewHeartbeat("AA:BB")
	m.Content = ""
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() error = %v for empty heartbeat", err)
	}
}

func TestForwardCopy(t *testing.T) {
	m := New("relay me", "AA:BB", "")
	m.TTL = 2

	copied := m.ForwardCopy()
	if copied == nil {
		t.Fatal("ForwardCopy() = nil for forwardable message")
	}
	if copied.TTL != 1 {
		t.Errorf("copy TTL = %d, want 1", copied.TTL)
	}
	if m.TTL != 2 {
		t.Errorf("original TTL mutated to %d", m.TTL)
	}
	if copied.ID != m.ID || copied.SenderID != m.SenderID || copied.Content != m.Content {
		t.Error("copy lost identity fields")
	}

	m.TTL = 0
	if m.ForwardCopy() != nil {
		t.Error("ForwardCopy() != nil for spent hop budget")
	}
}

func TestCheckFreshness(t *testing.T) {
	now := time.Now()

	m := New("hi", "AA:BB", "")
	if err := m.CheckFreshness(now, 5*time.Minute); err != nil {
		t.Errorf("fresh message rejected: %v", err)
	}

	future := New("hi", "AA:BB", "")
	future.Timestamp = float64(now.Add(2*time.Minute).UnixNano()) / float64(time.Second)
	if err := future.CheckFreshness(now, 5*time.Minute); !errors.Is(err, ErrFutureTimestamp) {
		t.Errorf("CheckFreshness() error = %v, want %v", err, ErrFutureTimestamp)
	}

	stale := New("hi", "AA:BB", "")
	stale.Timestamp = float64(now.Add(-10*time.Minute).UnixNano()) / float64(time.Second)
	if err := stale.CheckFreshness(now, 5*time.Minute); !errors.Is(err, ErrStaleMessage) {
		t.Errorf("CheckFreshness() error = %v, want %v", err, ErrStaleMessage)
	}

	// Zero maxAge disables the age bound.
	if err := stale.CheckFreshness(now, 0); err != nil {
		t.Errorf("CheckFreshness(maxAge=0) error = %v, want nil", err)
	}
}

func TestDisplayName(t *testing.T) {
	m := New("hi", "AA:BB", "alice")
	if got := m.DisplayName(); got != "alice" {
		t.Errorf("DisplayName() = %q, want alice", got)
	}
	m.SenderName = ""
	if got := m.DisplayName(); got != "AA:BB" {
		t.Errorf("DisplayName() = %q, want AA:BB", got)
	}
}
