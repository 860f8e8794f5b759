// Package breaker implements the circuit breaker from spec.md §4.2: a
// fail-fast wrapper over M remote endpoints with per-endpoint health
// tracking and bounded, atomic state transitions.
//
// The state machine (Closed/Open/HalfOpen, failure threshold, cool-down,
// single-probe recovery) is grounded on the transition table of
// other_examples' wudi-gateway internal/circuitbreaker/redis.go, but
// reimplemented as pure in-process atomics instead of Redis+Lua: spec.md
// §4.2/§5 asks for "one atomic state word per endpoint" with the probe
// permit "taken by compare-and-swap of the state word", i.e. a local
// breaker, not a distributed one.
package breaker

import (
	"sync/atomic"
	"time"

	"github.com/shortenly/core/clock"
)

// State is one of the three circuit breaker states.
type State uint32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Endpoint is one breaker-guarded remote target. Callers obtain Endpoints
// from a Breaker and never construct them directly.
type Endpoint struct {
	name string

	state             atomic.Uint32 // State
	consecutiveFails  atomic.Int64
	openedAtUnixNano  atomic.Int64
	halfOpenInFlight  atomic.Bool // guards the single probe permit

	maxFailures   int64
	retryInterval time.Duration
	clock         clock.Clock
}

// Name returns the endpoint's identifier (e.g. a database_urls entry).
func (e *Endpoint) Name() string { return e.name }

// State returns the endpoint's current state. HalfOpen is reported
// honestly even while a probe is in flight; Allow is what actually gates
// entry.
func (e *Endpoint) State() State { return State(e.state.Load()) }

// Breaker holds M independently-tracked endpoints sharing the same
// tripping policy (spec.md §4.2 "Multi-endpoint").
type Breaker struct {
	endpoints     []*Endpoint
	maxFailures   int64
	retryInterval time.Duration
	clock         clock.Clock
}

// Config configures a Breaker.
type Config struct {
	// MaxFailures is the number of consecutive failures that trips an
	// endpoint from Closed to Open.
	MaxFailures int
	// RetryInterval is the cool-down before a single probe is permitted.
	RetryInterval time.Duration
	// Clock allows overriding the time source in tests; nil => clock.System{}.
	Clock clock.Clock
}

// New constructs a Breaker guarding the given endpoint names.
func New(names []string, cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	b := &Breaker{
		maxFailures:   int64(cfg.MaxFailures),
		retryInterval: cfg.RetryInterval,
		clock:         cfg.Clock,
	}
	for _, n := range names {
		b.endpoints = append(b.endpoints, &Endpoint{
			name:          n,
			maxFailures:   b.maxFailures,
			retryInterval: b.retryInterval,
			clock:         b.clock,
		})
	}
	return b
}

// Endpoints returns all configured endpoints, in declaration order.
func (b *Breaker) Endpoints() []*Endpoint { return b.endpoints }

// HealthyEndpoints returns the subset of endpoints not currently Open,
// per spec.md §4.2's "healthy-endpoint iterator that skips Open entries".
func (b *Breaker) HealthyEndpoints() []*Endpoint {
	out := make([]*Endpoint, 0, len(b.endpoints))
	for _, e := range b.endpoints {
		if e.State() != Open {
			out = append(out, e)
		}
	}
	return out
}

// Outcome is the result of a breaker-guarded call.
type Outcome int

const (
	// OutcomeOK: the call was attempted and succeeded.
	OutcomeOK Outcome = iota
	// OutcomeRejected: the breaker denied the attempt (endpoint unhealthy).
	// Does not count toward tripping further (spec.md §7).
	OutcomeRejected
	// OutcomeFailed: the call was attempted and failed. Counts toward
	// tripping.
	OutcomeFailed
)

// Call invokes op against endpoint e, respecting the breaker's state.
// Returns (zero value, OutcomeRejected, nil) if the breaker denies the
// attempt; otherwise it runs op and records the outcome.
func Call[T any](e *Endpoint, op func() (T, error)) (T, Outcome, error) {
	var zero T

	if !e.allow() {
		return zero, OutcomeRejected, nil
	}

	v, err := op()
	e.report(err == nil)
	if err != nil {
		return zero, OutcomeFailed, err
	}
	return v, OutcomeOK, nil
}

// allow decides whether a call may proceed, performing the Open->HalfOpen
// transition and claiming the single probe permit via CAS when applicable.
func (e *Endpoint) allow() bool {
	switch State(e.state.Load()) {
	case Closed:
		return true
	case HalfOpen:
		// Exactly one in-flight probe permitted; additional concurrent
		// callers observing HalfOpen are rejected until the probe
		// resolves (the permit is released in report()).
		return e.halfOpenInFlight.CompareAndSwap(false, true)
	case Open:
		openedAt := e.openedAtUnixNano.Load()
		if e.clock.Now().UnixNano()-openedAt < int64(e.retryInterval) {
			return false
		}
		// retry_interval elapsed: attempt Open -> HalfOpen. The winner of
		// this CAS must also claim the probe permit via CAS, not an
		// unconditional store -- a second caller can observe the state as
		// HalfOpen in the window between the two and would otherwise win
		// halfOpenInFlight's own CAS, admitting a second concurrent probe.
		if e.state.CompareAndSwap(uint32(Open), uint32(HalfOpen)) {
			return e.halfOpenInFlight.CompareAndSwap(false, true)
		}
		// Someone else already flipped it; fall through to the (now)
		// HalfOpen rules on the next call. Treat this call as rejected
		// rather than retrying in a loop, matching "fail fast".
		return false
	default:
		return false
	}
}

// report records the outcome of a permitted call and performs the
// resulting state transition.
func (e *Endpoint) report(success bool) {
	switch State(e.state.Load()) {
	case HalfOpen:
		defer e.halfOpenInFlight.Store(false)
		if success {
			e.state.Store(uint32(Closed))
			e.consecutiveFails.Store(0)
		} else {
			e.state.Store(uint32(Open))
			e.openedAtUnixNano.Store(e.clock.Now().UnixNano())
			e.consecutiveFails.Store(0)
		}
	case Closed:
		if success {
			e.consecutiveFails.Store(0)
			return
		}
		if e.consecutiveFails.Add(1) >= e.maxFailures {
			if e.state.CompareAndSwap(uint32(Closed), uint32(Open)) {
				e.openedAtUnixNano.Store(e.clock.Now().UnixNano())
			}
		}
	default:
		// Open: a call shouldn't reach report() while Open (allow()
		// returns false), but guard against it defensively.
	}
}
