package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shortenly/core/clock"
)

func TestBreaker_TripsAfterMaxFailures(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	b := New([]string{"db0"}, Config{MaxFailures: 3, RetryInterval: time.Second, Clock: fc})
	e := b.Endpoints()[0]

	fail := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, outcome, err := Call(e, func() (int, error) { return 0, fail })
		if outcome != OutcomeFailed || err != fail {
			t.Fatalf("call %d: got outcome=%v err=%v", i, outcome, err)
		}
	}

	if e.State() != Open {
		t.Fatalf("expected Open after %d consecutive failures, got %v", 3, e.State())
	}

	_, outcome, _ := Call(e, func() (int, error) { return 0, nil })
	if outcome != OutcomeRejected {
		t.Fatalf("expected rejection while Open, got %v", outcome)
	}
}

func TestBreaker_HalfOpenAfterRetryInterval(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	b := New([]string{"db0"}, Config{MaxFailures: 1, RetryInterval: 10 * time.Second, Clock: fc})
	e := b.Endpoints()[0]

	fail := errors.New("boom")
	Call(e, func() (int, error) { return 0, fail })
	if e.State() != Open {
		t.Fatalf("expected Open, got %v", e.State())
	}

	fc.Advance(11 * time.Second)

	v, outcome, err := Call(e, func() (int, error) { return 42, nil })
	if outcome != OutcomeOK || err != nil || v != 42 {
		t.Fatalf("expected probe to succeed, got v=%v outcome=%v err=%v", v, outcome, err)
	}
	if e.State() != Closed {
		t.Fatalf("expected Closed after successful probe, got %v", e.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	b := New([]string{"db0"}, Config{MaxFailures: 1, RetryInterval: time.Second, Clock: fc})
	e := b.Endpoints()[0]

	fail := errors.New("boom")
	Call(e, func() (int, error) { return 0, fail })
	fc.Advance(2 * time.Second)

	_, outcome, err := Call(e, func() (int, error) { return 0, fail })
	if outcome != OutcomeFailed || err != fail {
		t.Fatalf("expected failed probe, got outcome=%v err=%v", outcome, err)
	}
	if e.State() != Open {
		t.Fatalf("expected Open after failed probe, got %v", e.State())
	}
}

// Exactly one concurrent caller observes the HalfOpen->Closed transition;
// all others are rejected while the probe is in flight (spec.md §8).
func TestBreaker_SingleProbePermit(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	b := New([]string{"db0"}, Config{MaxFailures: 1, RetryInterval: time.Second, Clock: fc})
	e := b.Endpoints()[0]

	Call(e, func() (int, error) { return 0, errors.New("boom") })
	fc.Advance(2 * time.Second)

	const workers = 50
	var wg sync.WaitGroup
	var admitted, rejected int64
	var mu sync.Mutex
	release := make(chan struct{})

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, outcome, _ := Call(e, func() (int, error) {
				<-release
				return 1, nil
			})
			mu.Lock()
			if outcome == OutcomeOK {
				admitted++
			} else if outcome == OutcomeRejected {
				rejected++
			}
			mu.Unlock()
		}()
	}

	// give goroutines a moment to all attempt allow(); release the one
	// probe to complete and unblock the rest.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("expected exactly 1 admitted probe, got %d (rejected=%d)", admitted, rejected)
	}
	if admitted+rejected != workers {
		t.Fatalf("expected all calls accounted for, got admitted=%d rejected=%d", admitted, rejected)
	}
}

func TestBreaker_HealthyEndpoints(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	b := New([]string{"db0", "db1", "db2"}, Config{MaxFailures: 1, RetryInterval: time.Minute, Clock: fc})

	Call(b.Endpoints()[1], func() (int, error) { return 0, errors.New("boom") })

	healthy := b.HealthyEndpoints()
	if len(healthy) != 2 {
		t.Fatalf("expected 2 healthy endpoints, got %d", len(healthy))
	}
	for _, e := range healthy {
		if e.Name() == "db1" {
			t.Fatalf("db1 should have been excluded as Open")
		}
	}
}

func TestBreaker_RejectionDoesNotCountTowardTrip(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Time{})
	b := New([]string{"db0"}, Config{MaxFailures: 2, RetryInterval: time.Hour, Clock: fc})
	e := b.Endpoints()[0]

	Call(e, func() (int, error) { return 0, errors.New("boom") })
	Call(e, func() (int, error) { return 0, errors.New("boom") })
	if e.State() != Open {
		t.Fatalf("expected Open, got %v", e.State())
	}

	for i := 0; i < 5; i++ {
		_, outcome, _ := Call(e, func() (int, error) { return 0, nil })
		if outcome != OutcomeRejected {
			t.Fatalf("expected rejection, got %v", outcome)
		}
	}
	if e.State() != Open {
		t.Fatalf("rejections must not change state, got %v", e.State())
	}
}
