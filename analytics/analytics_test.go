package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shortenly/core/clock"
)

type fakeSink struct {
	mu      sync.Mutex
	batches map[string][][]int64
}

func newFakeSink() *fakeSink {
	return &fakeSink{batches: make(map[string][][]int64)}
}

func (f *fakeSink) LPushBatch(ctx context.Context, code string, entries []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]int64, len(entries))
	copy(cp, entries)
	f.batches[code] = append(f.batches[code], cp)
	return nil
}

func (f *fakeSink) count(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches[code] {
		n += len(b)
	}
	return n
}

func (f *fakeSink) calls(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches[code])
}

func TestPipeline_BatchesEventsByCode(t *testing.T) {
	sink := newFakeSink()
	fc := clock.NewFake(time.Time{})
	p := New(sink, Config{Capacity: 64, FlushInterval: time.Hour, Clock: fc})
	defer p.Close()

	for i := 0; i < 10; i++ {
		p.Record("abc123")
	}
	for i := 0; i < 5; i++ {
		p.Record("xyz789")
	}

	p.Close()

	if got := sink.count("abc123"); got != 10 {
		t.Fatalf("expected 10 events for abc123, got %d", got)
	}
	if got := sink.count("xyz789"); got != 5 {
		t.Fatalf("expected 5 events for xyz789, got %d", got)
	}
}

func TestPipeline_FlushesOnTicker(t *testing.T) {
	sink := newFakeSink()
	p := New(sink, Config{Capacity: 64, FlushInterval: 20 * time.Millisecond})
	defer p.Close()

	// Push straight into the ring: Record would also wake the flusher
	// through its signal channel, so only the ticker can deliver this.
	p.ring.push(Event{Code: "tick-code"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.count("tick-code") == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected ticker-driven flush to deliver the event")
}

// Newest-dropped backpressure policy (DESIGN.md Open Question 2): once the
// ring is full, further Record calls are dropped and counted, not blocked.
func TestRing_DropsUnderBackpressure(t *testing.T) {
	t.Parallel()

	r := newRing(4)
	for i := 0; i < 4; i++ {
		if !r.push(Event{Code: "c"}) {
			t.Fatalf("expected push %d to succeed", i)
		}
	}
	if r.push(Event{Code: "c"}) {
		t.Fatalf("expected push to a full ring to be dropped")
	}
	if r.Dropped() != 1 {
		t.Fatalf("expected Dropped()==1, got %d", r.Dropped())
	}

	drained := r.drain(0)
	if len(drained) != 4 {
		t.Fatalf("expected to drain 4 events, got %d", len(drained))
	}

	if !r.push(Event{Code: "d"}) {
		t.Fatalf("expected push after drain to succeed")
	}
}

func TestPipeline_CloseFlushesRemaining(t *testing.T) {
	sink := newFakeSink()
	p := New(sink, Config{Capacity: 64, FlushInterval: time.Hour})

	p.Record("final")
	p.Close()

	if got := sink.count("final"); got != 1 {
		t.Fatalf("expected Close to flush the final event, got count=%d", got)
	}
}

// Each drain removes at most max events, leaving the rest for the next
// call — the cap spec.md §4.7 "drains at most max_batch_size events"
// requires.
func TestRing_DrainCapsAtMax(t *testing.T) {
	t.Parallel()

	r := newRing(8)
	for i := 0; i < 8; i++ {
		if !r.push(Event{Code: "c"}) {
			t.Fatalf("expected push %d to succeed", i)
		}
	}

	first := r.drain(3)
	if len(first) != 3 {
		t.Fatalf("expected drain(3) to return 3 events, got %d", len(first))
	}
	rest := r.drain(0)
	if len(rest) != 5 {
		t.Fatalf("expected 5 events left after a capped drain, got %d", len(rest))
	}
}

// Scenario 5 (spec.md §8): a burst larger than MaxBatchSize yields exactly
// ceil(n/MaxBatchSize) remote calls, not one unbounded call.
func TestPipeline_CapsBatchesAtMaxBatchSize(t *testing.T) {
	sink := newFakeSink()
	p := New(sink, Config{
		Capacity:       4096,
		FlushInterval:  time.Hour,
		MaxBatchSizeMs: time.Hour,
		MaxBatchSize:   10,
	})
	defer p.Close()

	const n = 25
	for i := 0; i < n; i++ {
		p.Record("burst")
	}
	p.Close()

	wantCalls := 3 // ceil(25/10)
	if got := sink.calls("burst"); got != wantCalls {
		t.Fatalf("expected %d LPushBatch calls, got %d", wantCalls, got)
	}
	if got := sink.count("burst"); got != n {
		t.Fatalf("expected %d total entries appended, got %d", n, got)
	}
}

// The max_batch_size_ms-since-first-queued trigger flushes independently
// of FlushInterval, bounding how long an event can sit queued.
func TestPipeline_FlushesOnMaxBatchSizeMs(t *testing.T) {
	sink := newFakeSink()
	p := New(sink, Config{
		Capacity:       64,
		FlushInterval:  time.Hour,
		MaxBatchSizeMs: 20 * time.Millisecond,
	})
	defer p.Close()

	// Push straight into the ring so the wake signal Record sends cannot
	// be what delivers this event.
	p.ring.push(Event{Code: "max-wait-code"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.count("max-wait-code") == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected max_batch_size_ms-driven flush to deliver the event")
}

func TestRing_ConcurrentProducersNoDataLoss(t *testing.T) {
	t.Parallel()

	r := newRing(1024)
	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				r.push(Event{Code: "concurrent"})
			}
		}(w)
	}
	wg.Wait()

	drained := r.drain(0)
	if len(drained) != workers*perWorker {
		t.Fatalf("expected %d events with no drops in an unfull ring, got %d (dropped=%d)",
			workers*perWorker, len(drained), r.Dropped())
	}
}
