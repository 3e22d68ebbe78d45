package backoff

import (
	"testing"
	"time"
)

func TestDefaultSequence(t *testing.T) {
	b := New()

	// Expected base sequence (without jitter): 1s, 2s, 4s, ..., capped
	// at 60s.
	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second, // stays at max
	}

	for i, exp := range expected {
		base := b.Current()
		_ = b.Next()

		if base < exp-time.Millisecond || base > exp+time.Millisecond {
			t.Errorf("attempt %d: base = %v, want %v", i, base, exp)
		}
	}
}

func TestJitterVaries(t *testing.T) {
	b := New()

	samples := make([]time.Duration, 10)
	for i := range samples {
		samples[i] = b.Peek()
	}

	for i, s := range samples {
		if s < 1*time.Second || s > time.Duration(float64(time.Second)*1.25)+time.Millisecond {
			t.Errorf("sample %d: %v out of range [1s, 1.25s]", i, s)
		}
	}

	allSame := true
	for i := 1; i < len(samples); i++ {
		if samples[i] != samples[0] {
			allSame = false
			break
		}
	}
	if allSame {
		t.Error("all jittered samples identical")
	}
}

func TestZeroConfigGetsDefaultJitter(t *testing.T) {
	b := NewWithConfig(Config{})
	if b.jitter != DefaultJitter {
		t.Errorf("jitter = %v, want %v", b.jitter, DefaultJitter)
	}

	b = NewWithConfig(Config{Jitter: -1})
	if b.jitter != 0 {
		t.Errorf("jitter = %v, want disabled", b.jitter)
	}
}

func TestReset(t *testing.T) {
	b := New()

	for i := 0; i < 5; i++ {
		b.Next()
	}
	if b.Current() <= DefaultInitial {
		t.Error("backoff did not grow")
	}

	b.Reset()
	if b.Current() != DefaultInitial {
		t.Errorf("Current() = %v after reset, want %v", b.Current(), DefaultInitial)
	}
	if b.Attempts() != 0 {
		t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
	}
}

func TestAttempts(t *testing.T) {
	b := New()

	if b.Attempts() != 0 {
		t.Errorf("initial Attempts() = %d, want 0", b.Attempts())
	}
	for i := 1; i <= 5; i++ {
		b.Next()
		if b.Attempts() != i {
			t.Errorf("after %d calls, Attempts() = %d", i, b.Attempts())
		}
	}
}

func TestCustomConfig(t *testing.T) {
	b := NewWithConfig(Config{
		Initial:    100 * time.Millisecond,
		Max:        500 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     -1, // disable jitter for a deterministic sequence
	})

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond, // max
		500 * time.Millisecond,
	}

	for i, exp := range expected {
		if got := b.Next(); got != exp {
			t.Errorf("attempt %d: Next() = %v, want %v", i, got, exp)
		}
	}
}
