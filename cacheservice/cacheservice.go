// Package cacheservice is the composer tying the tiered cache, the
// membership filter, the breaker-guarded remote store, the optional cold
// tier, code generation and click analytics into the single surface
// spec.md §4.5 describes: Get/Insert/ContainsKey over an L1/L2 + remote +
// cold chain.
//
// Grounded on other_examples' dcache tiered Client (mem -> Redis -> DB
// fallback chain, each miss promoting into the faster tier above it) and
// blueberrycongee-llmux/caches/dual/dual.go's dual-tier composition.
package cacheservice

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shortenly/core/analytics"
	"github.com/shortenly/core/bloom"
	"github.com/shortenly/core/clock"
	"github.com/shortenly/core/codegen"
	"github.com/shortenly/core/coldstore"
	"github.com/shortenly/core/corelog"
	"github.com/shortenly/core/errs"
	"github.com/shortenly/core/internal/singleflight"
	"github.com/shortenly/core/internal/tier"
	"github.com/shortenly/core/policy"
	"github.com/shortenly/core/remote"
)

// Record is the stored mapping for a short code.
type Record struct {
	Code        string
	TargetURL   string
	CreatedUnix int64
}

// Service composes every tier behind a single Get/Insert/ContainsKey
// surface.
type Service struct {
	l1, l2 tier.Cache[string, Record]
	filter *bloom.Filter
	remote *remote.Pool
	cold   *coldstore.Store // nil when no cold tier is configured
	clock  clock.Clock
	gen    *codegen.Generator
	events *analytics.Pipeline
	log    *corelog.Logger

	group singleflight.Group[string, Record]

	l1TTL, l2TTL, remoteTTL time.Duration
}

// Config configures a Service.
type Config struct {
	L1Capacity, L2Capacity int
	L1TTL, L2TTL, RemoteTTL time.Duration

	FilterTotalBits, FilterExpectedItems, FilterShards int

	Remote *remote.Pool
	Cold   *coldstore.Store // optional
	Clock  clock.Clock
	Gen    *codegen.Generator
	Events *analytics.Pipeline

	// Logger receives cold-store and in-memory fan-out failures, which
	// spec.md §7 requires be logged, not propagated. Nil defaults to
	// corelog.Nop().
	Logger *corelog.Logger

	// L1Policy/L2Policy select the eviction policy per tier (lru/twoq/
	// tinylfu), matching spec.md §6's per-tier "policy" field. Nil picks
	// internal/tier.New's own LRU default.
	L1Policy, L2Policy policy.Policy[string, Record]

	// L1Metrics/L2Metrics observe each tier's hit/miss/evict/size
	// counters (see metrics/prom.Adapter). Nil picks internal/tier.New's
	// own NoopMetrics default.
	L1Metrics, L2Metrics tier.Metrics
}

// New constructs a Service. L1/L2 default to LRU when no policy override
// is supplied, matching internal/tier.New's own defaulting.
func New(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.FilterTotalBits <= 0 {
		cfg.FilterTotalBits = 1 << 22
	}
	if cfg.FilterExpectedItems <= 0 {
		cfg.FilterExpectedItems = 1_000_000
	}
	if cfg.Logger == nil {
		cfg.Logger = corelog.Nop()
	}

	s := &Service{
		filter:    bloom.New(cfg.FilterTotalBits, cfg.FilterExpectedItems, cfg.FilterShards, 64),
		remote:    cfg.Remote,
		cold:      cfg.Cold,
		clock:     cfg.Clock,
		gen:       cfg.Gen,
		events:    cfg.Events,
		log:       cfg.Logger,
		l1TTL:     cfg.L1TTL,
		l2TTL:     cfg.L2TTL,
		remoteTTL: cfg.RemoteTTL,
	}

	l1opt := tier.Options[string, Record]{Capacity: cfg.L1Capacity, DefaultTTL: cfg.L1TTL, Policy: cfg.L1Policy, Metrics: cfg.L1Metrics, Clock: clockAdapter{cfg.Clock}}
	l2opt := tier.Options[string, Record]{Capacity: cfg.L2Capacity, DefaultTTL: cfg.L2TTL, Policy: cfg.L2Policy, Metrics: cfg.L2Metrics, Clock: clockAdapter{cfg.Clock}}
	s.l1 = tier.New[string, Record](l1opt)
	s.l2 = tier.New[string, Record](l2opt)
	return s
}

// Filter exposes the service's membership filter for metrics collection
// (see metrics/prom.BloomCollector).
func (s *Service) Filter() *bloom.Filter { return s.filter }

// clockAdapter bridges clock.Clock to internal/tier.Clock (NowUnixNano).
type clockAdapter struct{ c clock.Clock }

func (a clockAdapter) NowUnixNano() int64 { return a.c.Now().UnixNano() }

// Get resolves a short code through L1 -> L2 -> remote -> cold, promoting
// a hit from a colder tier back into the faster ones above it, exactly as
// spec.md §4.5 describes the read path. A negative lookup (bloom filter
// says "definitely absent") short-circuits before touching any tier.
func (s *Service) Get(ctx context.Context, code string) (Record, error) {
	if s.filter != nil && !s.filter.ContainsString(code) {
		return Record{}, errs.NotFound
	}

	if v, ok := s.l1.Get(code); ok {
		s.recordClick(code)
		return v, nil
	}
	if v, ok := s.l2.Get(code); ok {
		s.l1.Set(code, v)
		s.recordClick(code)
		return v, nil
	}

	rec, err := s.group.Do(ctx, code, func() (Record, error) {
		return s.rehydrate(ctx, code)
	})
	if err != nil {
		return Record{}, err
	}
	s.recordClick(code)
	return rec, nil
}

// rehydrate is the singleflight-coalesced slow path: remote, then cold.
// A hit from either is promoted into L1 and L2 before returning.
func (s *Service) rehydrate(ctx context.Context, code string) (Record, error) {
	if s.remote != nil {
		if raw, hit, err := s.remote.Get(ctx, code); err == nil && hit {
			rec, decErr := decodeRecord(code, raw)
			if decErr == nil {
				s.promote(code, rec)
				return rec, nil
			}
		}
	}

	if s.cold != nil {
		if raw, err := s.cold.Get(code); err == nil {
			rec, decErr := decodeRecord(code, raw)
			if decErr == nil {
				s.promote(code, rec)
				if s.remote != nil {
					_ = s.remote.SetEx(ctx, code, raw, s.remoteTTL)
				}
				return rec, nil
			}
		}
	}

	return Record{}, errs.NotFound
}

// promote writes rec into both L1 and L2, as an already-proven hit from
// a colder tier per spec.md §4.5's promotion rule.
func (s *Service) promote(code string, rec Record) {
	s.l2.Set(code, rec)
	s.l1.Set(code, rec)
}

// ContainsKey reports whether code is known to any tier without
// performing a full Get (and therefore without promoting/recording a
// click), consulting the bloom filter first to avoid a remote round trip
// for codes that were never issued.
func (s *Service) ContainsKey(ctx context.Context, code string) (bool, error) {
	if s.filter != nil && !s.filter.ContainsString(code) {
		return false, nil
	}
	if _, ok := s.l1.Get(code); ok {
		return true, nil
	}
	if _, ok := s.l2.Get(code); ok {
		return true, nil
	}
	if s.remote != nil {
		if _, hit, err := s.remote.Get(ctx, code); err == nil && hit {
			return true, nil
		}
	}
	if s.cold != nil {
		if _, err := s.cold.Get(code); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// Insert writes a generator-issued mapping. Fans the write out to L1, L2,
// the remote store and the cold tier concurrently (spec.md §4.5
// "fan-out write"). A remote write failure is returned as the call's
// error; by then L1, L2 and the filter have already been written.
func (s *Service) Insert(ctx context.Context, targetURL string) (Record, error) {
	code, err := s.gen.Next()
	if err != nil {
		return Record{}, err
	}
	rec := Record{Code: code, TargetURL: targetURL, CreatedUnix: s.clock.UnixSeconds()}
	return rec, s.fanOutWrite(ctx, rec, false)
}

// InsertCustom writes a caller-supplied alias, rejecting the write if the
// alias already exists anywhere reachable (DESIGN.md Open Question 3:
// conditional write via remote.Pool.SetNX rather than last-writer-wins).
func (s *Service) InsertCustom(ctx context.Context, code, targetURL string) (Record, error) {
	rec := Record{Code: code, TargetURL: targetURL, CreatedUnix: s.clock.UnixSeconds()}
	return rec, s.fanOutWrite(ctx, rec, true)
}

// fanOutWrite writes rec to every configured tier concurrently. Only the
// remote store's error is fatal and returned to the caller: spec.md §7
// is explicit that "failure of cold store is logged, not propagated" and
// "errors from in-memory tiers never abort the operation". The cold-store
// write therefore runs outside the remote write's errgroup, so a cold
// failure can neither be mistaken for the insert's error nor cancel an
// in-flight remote SetEx via a shared context.
func (s *Service) fanOutWrite(ctx context.Context, rec Record, conditional bool) error {
	raw := encodeRecord(rec)

	if conditional && s.remote != nil {
		created, err := s.remote.SetNX(ctx, rec.Code, raw, s.remoteTTL)
		if err != nil {
			return err
		}
		if !created {
			return errs.AlreadyExists
		}
	}

	var coldWg sync.WaitGroup
	if s.cold != nil {
		coldWg.Add(1)
		go func() {
			defer coldWg.Done()
			if err := s.cold.Insert(rec.Code, raw); err != nil {
				s.log.Error("cold store insert failed", "code", rec.Code, "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.l1.Set(rec.Code, rec)
		return nil
	})
	g.Go(func() error {
		s.l2.Set(rec.Code, rec)
		return nil
	})
	if !conditional && s.remote != nil {
		g.Go(func() error {
			return s.remote.SetEx(gctx, rec.Code, raw, s.remoteTTL)
		})
	}
	err := g.Wait()
	coldWg.Wait()

	if s.filter != nil {
		s.filter.InsertString(rec.Code)
	}
	return err
}

// recordClick forwards a resolved hit to the analytics pipeline, if one
// is configured. Never blocks the read path (spec.md §4.6).
func (s *Service) recordClick(code string) {
	if s.events != nil {
		s.events.Record(code)
	}
}

// Close releases every owned resource.
func (s *Service) Close() error {
	s.l1.Close()
	s.l2.Close()
	if s.events != nil {
		s.events.Close()
	}
	if s.cold != nil {
		return s.cold.Close()
	}
	return nil
}
