// Command bench runs a synthetic Zipfian workload against the composed
// cacheservice.Service (resolve-heavy, as a URL shortener actually sees
// traffic) and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shortenly/core/analytics"
	"github.com/shortenly/core/cacheservice"
	"github.com/shortenly/core/clock"
	"github.com/shortenly/core/codegen"
	pmet "github.com/shortenly/core/metrics/prom"
	"github.com/shortenly/core/policy"
	"github.com/shortenly/core/policy/lru"
	"github.com/shortenly/core/policy/tinylfu"
	"github.com/shortenly/core/policy/twoq"
)

type discardSink struct{}

func (discardSink) LPushBatch(ctx context.Context, code string, entries []int64) error { return nil }

func main() {
	var (
		l1cap  = flag.Int("l1-cap", 10_000, "L1 cache capacity (entries)")
		l2cap  = flag.Int("l2-cap", 100_000, "L2 cache capacity (entries)")
		polFl  = flag.String("policy", "lru", "eviction policy: lru | 2q | tinylfu")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 95, "read percentage [0..100]; the rest are Insert calls")

		codes   = flag.Int("codes", 1_000_000, "keyspace size (distinct codes resolved)")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 0, "codes to preload before the run (0 = l1-cap/2)")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	l1metrics := pmet.New(nil, "shortenly", "bench_l1", nil)
	l2metrics := pmet.New(nil, "shortenly", "bench_l2", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	var l1Policy, l2Policy policy.Policy[string, cacheservice.Record]
	switch *polFl {
	case "lru":
		// nil defaults to internal/tier.New's own LRU, but policy/lru is
		// also usable directly for an explicit (rather than implied) pick.
		l1Policy = lru.New[string, cacheservice.Record]()
		l2Policy = lru.New[string, cacheservice.Record]()
	case "2q":
		l1Policy = twoq.New[string, cacheservice.Record](*l1cap/4, *l1cap/2)
		l2Policy = twoq.New[string, cacheservice.Record](*l2cap/4, *l2cap/2)
	case "tinylfu":
		l1Policy = tinylfu.New[string, cacheservice.Record](*l1cap)
		l2Policy = tinylfu.New[string, cacheservice.Record](*l2cap)
	default:
		log.Fatalf("unknown policy: %q (use lru, 2q, or tinylfu)", *polFl)
	}

	gen := codegen.New(codegen.Config{Shards: 16, MinLength: 7})
	events := analytics.New(discardSink{}, analytics.Config{FlushInterval: time.Second})
	defer events.Close()

	svc := cacheservice.New(cacheservice.Config{
		L1Capacity: *l1cap, L2Capacity: *l2cap,
		L1TTL: time.Hour, L2TTL: 24 * time.Hour,
		FilterTotalBits: 1 << 24, FilterExpectedItems: *codes, FilterShards: 16,
		Clock: clock.System{}, Gen: gen, Events: events,
		L1Policy: l1Policy, L2Policy: l2Policy,
		L1Metrics: l1metrics, L2Metrics: l2metrics,
	})
	defer svc.Close()

	// ---- Preload: issue real codes through the composer, not synthetic keys ----
	pl := *preload
	if pl == 0 {
		pl = *l1cap / 2
	}
	codeList := make([]string, 0, pl)
	for i := 0; i < pl; i++ {
		rec, err := svc.Insert(context.Background(), fmt.Sprintf("https://example.com/%d", i))
		if err != nil {
			log.Fatalf("preload insert: %v", err)
		}
		codeList = append(codeList, rec.Code)
	}
	if len(codeList) == 0 {
		codeList = append(codeList, "")
	}

	readPctVal := *readPct
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}
	codesMax := uint64(len(codeList) - 1)
	if codesMax == 0 {
		codesMax = 1
	}

	var reads, writes, hits, misses, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, codesMax)

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					idx := localZipf.Uint64()
					if idx >= uint64(len(codeList)) {
						idx = 0
					}
					if _, err := svc.Get(ctx, codeList[idx]); err == nil {
						atomic.AddUint64(&hits, 1)
					} else {
						atomic.AddUint64(&misses, 1)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					_, _ = svc.Insert(ctx, fmt.Sprintf("https://example.com/bench/%d/%d", id, localR.Int()))
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	fmt.Printf("policy=%s l1=%d l2=%d workers=%d codes=%d dur=%v seed=%d\n",
		*polFl, *l1cap, *l2cap, workersN, *codes, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%  codes-issued=%d\n",
		hitsN, missesN, hitRate, gen.Issued())
}
