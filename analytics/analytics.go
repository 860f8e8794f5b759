// Package analytics implements the click-ingest pipeline from spec.md
// §4.6: a lock-free MPSC ring buffer accepting click events off the hot
// resolve path, drained by a single background flusher that batches
// events by code and ships each batch with one remote call.
//
// The ticker/signal-channel/ctx.Done() select loop is grounded on
// other_examples' dcache aggregateSend/listenKeyInvalidate pair: "wait
// for N seconds or until signalled, then drain and flush" is exactly
// spec.md §4.6's batching contract, generalized from invalidation-key
// sets to click events grouped by code.
package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shortenly/core/clock"
	"github.com/shortenly/core/internal/util"
)

// Event is a single click observation.
type Event struct {
	Code      string
	Timestamp int64 // unix seconds, from clock.Clock.UnixSeconds()
}

// Sink is the destination for flushed batches — satisfied by
// remote.Pool's LPushBatch in production, a recording fake in tests.
type Sink interface {
	LPushBatch(ctx context.Context, code string, entries []int64) error
}

// ring is a bounded MPSC (multi-producer, single-consumer) queue. Producers
// CAS-claim a slot by advancing a write cursor; if the queue is full the
// producer gives up immediately rather than blocking the hot resolve path
// or overwriting an unconsumed slot — "newest dropped" (see DESIGN.md Open
// Question 2).
type ring struct {
	buf  []Event
	mask uint64

	writeCursor util.PaddedAtomicUint64
	readCursor  util.PaddedAtomicUint64
	// slotReady[i] is set once the producer that claimed slot i has
	// finished writing Event data into buf[i], so the consumer never reads
	// a half-written slot.
	slotReady []atomic.Bool

	dropped util.PaddedAtomicUint64
}

func newRing(capacity int) *ring {
	n := int(util.NextPow2(uint64(capacity)))
	return &ring{
		buf:       make([]Event, n),
		mask:      uint64(n - 1),
		slotReady: make([]atomic.Bool, n),
	}
}

// push attempts to enqueue ev. Returns false if the buffer is full
// (oldest unconsumed slot not yet drained), in which case the event is
// dropped and Dropped() increments.
func (r *ring) push(ev Event) bool {
	for {
		w := r.writeCursor.Load()
		read := r.readCursor.Load()
		if w-read >= uint64(len(r.buf)) {
			r.dropped.Add(1)
			return false
		}
		if r.writeCursor.CompareAndSwap(w, w+1) {
			idx := w & r.mask
			r.buf[idx] = ev
			r.slotReady[idx].Store(true)
			return true
		}
	}
}

// drain removes and returns up to max currently-ready, contiguous events
// starting from the read cursor (max <= 0 means no cap). Single-consumer:
// only the flusher goroutine calls drain.
func (r *ring) drain(max int) []Event {
	var out []Event
	for max <= 0 || len(out) < max {
		read := r.readCursor.Load()
		w := r.writeCursor.Load()
		if read >= w {
			return out
		}
		idx := read & r.mask
		if !r.slotReady[idx].Load() {
			// producer claimed the slot but hasn't finished writing yet;
			// stop here, pick it up on the next drain.
			return out
		}
		out = append(out, r.buf[idx])
		r.slotReady[idx].Store(false)
		r.readCursor.Store(read + 1)
	}
	return out
}

// Dropped returns the cumulative number of events dropped due to a full
// buffer (spec.md §6 analytics drop counter).
func (r *ring) Dropped() uint64 { return r.dropped.Load() }

// Pipeline owns the ring buffer and the background flusher goroutine.
type Pipeline struct {
	ring           *ring
	sink           Sink
	clock          clock.Clock
	flushInterval  time.Duration
	maxBatchSize   int
	maxBatchSizeMs time.Duration

	signal chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc

	batchesFlushed util.PaddedAtomicUint64
}

// Config configures a Pipeline.
type Config struct {
	// Capacity is the ring buffer size, rounded up to a power of two —
	// spec.md §6 analytics.batch_size, the FIFO's length (the flusher also
	// wakes whenever the queue reaches this length, since every Record
	// signals it regardless of backlog).
	Capacity int
	// FlushInterval bounds how long an event can sit unflushed.
	FlushInterval time.Duration
	// MaxBatchSize bounds how many events a single drain removes from the
	// ring; a flush keeps draining MaxBatchSize-sized chunks (one
	// LPushBatch per code per chunk) until fewer than MaxBatchSize events
	// come back, so a burst larger than MaxBatchSize still produces
	// ceil(n/MaxBatchSize) remote calls instead of one unbounded call.
	MaxBatchSize int
	// MaxBatchSizeMs bounds how long an event can sit queued before the
	// flusher is woken independently of FlushInterval.
	MaxBatchSizeMs time.Duration
	Clock          clock.Clock
}

// New constructs and starts a Pipeline. Call Close to stop the flusher.
func New(sink Sink, cfg Config) *Pipeline {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 4096
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 4096
	}
	if cfg.MaxBatchSizeMs <= 0 {
		cfg.MaxBatchSizeMs = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		ring:           newRing(cfg.Capacity),
		sink:           sink,
		clock:          cfg.Clock,
		flushInterval:  cfg.FlushInterval,
		maxBatchSize:   cfg.MaxBatchSize,
		maxBatchSizeMs: cfg.MaxBatchSizeMs,
		signal:         make(chan struct{}, 1),
		cancel:         cancel,
	}
	p.wg.Add(1)
	go p.run(ctx)
	return p
}

// Record enqueues a click for code. Non-blocking; drops under backpressure
// rather than slow the caller's resolve path (spec.md §4.6 "never blocks
// the read path").
func (p *Pipeline) Record(code string) {
	p.ring.push(Event{Code: code, Timestamp: p.clock.UnixSeconds()})
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Dropped returns the cumulative number of events dropped due to
// backpressure.
func (p *Pipeline) Dropped() uint64 { return p.ring.Dropped() }

// BatchesFlushed returns the cumulative number of per-code LPushBatch
// calls issued, regardless of whether the sink accepted them.
func (p *Pipeline) BatchesFlushed() uint64 { return p.batchesFlushed.Load() }

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	// maxWait wakes the flusher at the max_batch_size_ms cadence
	// independently of flushInterval, bounding how long an event can sit
	// queued even when FlushInterval is configured much longer.
	maxWait := time.NewTicker(p.maxBatchSizeMs)
	defer maxWait.Stop()
	for {
		select {
		case <-ticker.C:
		case <-maxWait.C:
		case <-p.signal:
		case <-ctx.Done():
			p.flush(context.Background())
			return
		}
		p.flush(ctx)
	}
}

// flush drains the ring in MaxBatchSize-sized chunks, groups each chunk's
// events by code, and issues one LPushBatch call per code per chunk —
// repeating until fewer than MaxBatchSize events come back, so a backlog
// larger than MaxBatchSize still yields ceil(n/MaxBatchSize) remote calls
// in one flush instead of a single unbounded call (spec.md §4.7).
func (p *Pipeline) flush(ctx context.Context) {
	for {
		events := p.ring.drain(p.maxBatchSize)
		if len(events) == 0 {
			return
		}

		byCode := make(map[string][]int64, len(events))
		for _, ev := range events {
			byCode[ev.Code] = append(byCode[ev.Code], ev.Timestamp)
		}
		for code, timestamps := range byCode {
			// best-effort: a failed flush drops that code's batch for this
			// round. spec.md §4.6 treats analytics as advisory, not durable.
			_ = p.sink.LPushBatch(ctx, code, timestamps)
			p.batchesFlushed.Add(1)
		}

		if len(events) < p.maxBatchSize {
			return
		}
	}
}

// Close stops the flusher after a final drain.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}
