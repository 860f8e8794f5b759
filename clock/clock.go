// Package clock provides the monotonic/wall-clock abstraction shared by
// every tier and subsystem that needs deterministic time in tests: the
// circuit breaker's retry_interval, the analytics flusher's event
// timestamps, and cacheservice (which also bridges it to internal/tier's
// TTL clock).
package clock

import "time"

// Clock provides both a monotonic instant and a wall-clock timestamp.
// Production code uses System; tests use Fake to avoid timing flakiness.
type Clock interface {
	// Now returns the current instant. Safe to use for duration math
	// (time.Since, deadlines) since time.Time carries a monotonic reading.
	Now() time.Time

	// UnixSeconds returns the wall-clock time as seconds since epoch, the
	// unit persisted alongside click events and TTL bookkeeping that is
	// visible outside the process (spec.md §6 "clicks:{code}" entries).
	UnixSeconds() int64
}

// System is the production Clock backed by the real time source.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// UnixSeconds returns time.Now().Unix().
func (System) UnixSeconds() int64 { return time.Now().Unix() }

// compile-time assertion
var _ Clock = System{}
