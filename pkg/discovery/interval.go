package discovery

import "time"

// Scan interval defaults.
const (
	// DefaultScanTimeout bounds one scan.
	DefaultScanTimeout = 10 * time.Second

	// DefaultInitialInterval is used while the neighborhood is
	// changing.
	DefaultInitialInterval = 5 * time.Second

	// DefaultModerateInterval is used while peers are present but the
	// neighborhood has not yet settled.
	DefaultModerateInterval = 15 * time.Second

	// DefaultStableInterval is used once the neighborhood has been
	// unchanged for several cycles.
	DefaultStableInterval = 30 * time.Second

	// DefaultEmptyInterval is used when no peers are around. Empty is
	// scanned more eagerly than stable so newcomers are caught early.
	DefaultEmptyInterval = 10 * time.Second

	// DefaultMinInterval and DefaultMaxInterval clamp the adaptive
	// interval.
	DefaultMinInterval = 3 * time.Second
	DefaultMaxInterval = 60 * time.Second
)

// nextInterval moves the current interval halfway toward the target
// and clamps it. Smoothing avoids oscillation when the neighborhood
// flips between activity levels.
func nextInterval(current, target, min, max time.Duration) time.Duration {
	next := (current + target) / 2
	if next < min {
		next = min
	}
	if next > max {
		next = max
	}
	return next
}
