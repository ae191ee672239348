package domain

import "errors"

// Behavioral error kinds for whole-run failures. Per-symbol failures are
// never errors; they are dropped symbols with a recorded reason.
var (
	// ErrUpstreamUnavailable - the bulk snapshot was empty or the provider
	// returned an HTTP error.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInsufficientHistory - too few historical bars to compute an average.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrStaleData - the freshness gate tripped (fail-closed).
	ErrStaleData = errors.New("stale data")

	// ErrCacheEmpty - the volume average store returned nothing.
	ErrCacheEmpty = errors.New("volume cache empty")

	// ErrLockHeld - another holder owns the discovery job lock.
	ErrLockHeld = errors.New("job lock held")

	// ErrTimeout - a per-call or global run deadline was exceeded.
	ErrTimeout = errors.New("deadline exceeded")
)
