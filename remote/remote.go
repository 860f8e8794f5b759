// Package remote implements the breaker-guarded pooled KV client from
// spec.md §4.3: one go-redis/v9 connection pool per configured endpoint,
// a capped-exponential-backoff retry loop, and a Pool that routes each
// logical call to one of the breaker's currently-healthy endpoints.
//
// Client construction (Options shape, UniversalClient, Ping-validated
// New) follows blueberrycongee-llmux/caches/redis/redis.go. Key handling
// (redis.Nil as a miss, not an error) follows other_examples'
// theakinwande-url-shortener redis wrapper.
package remote

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/shortenly/core/breaker"
	"github.com/shortenly/core/errs"
)

// Options configures a single endpoint's connection pool.
type Options struct {
	Addr            string
	Password        string
	DB              int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
	MinIdleConns    int
	ReconnectDelay  time.Duration // base of the capped-exponential retry
	ReconnectMaxDelay time.Duration
	MaxAttempts     int
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 3 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 50 * time.Millisecond
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

// Client wraps one go-redis connection to one endpoint.
type Client struct {
	name string
	rdb  *goredis.Client
	opts Options
}

// newClient dials and Ping-validates a single endpoint.
func newClient(name string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		// retry is handled explicitly in do(); disable go-redis's own
		// retry so the two schedules don't compound.
		MaxRetries: -1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("remote: ping %s: %w", name, err)
	}

	return &Client{name: name, rdb: rdb, opts: opts}, nil
}

// do runs op with a capped-exponential-backoff retry schedule between
// opts.ReconnectDelay and opts.ReconnectMaxDelay (spec.md §4.3), stopping
// early on context cancellation.
func (c *Client) do(ctx context.Context, op func(context.Context) error) error {
	delay := c.opts.ReconnectDelay
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == c.opts.MaxAttempts-1 {
			break
		}
		jittered := delay/2 + time.Duration(rand.Int63n(int64(delay)/2+1))
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return errs.Wrap(errs.Timeout, ctx.Err())
		}
		delay *= 2
		if delay > c.opts.ReconnectMaxDelay {
			delay = c.opts.ReconnectMaxDelay
		}
	}
	return errs.Wrap(errs.Remote, lastErr)
}

// Get returns (value, true, nil) on hit, (nil, false, nil) on miss, or an
// error on failure.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	var miss bool
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return val, !miss, nil
}

// SetEx stores value under key with a TTL.
func (c *Client) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Set(ctx, key, value, ttl).Err()
	})
}

// SetNX stores value under key only if it does not already exist,
// implementing the conditional-write semantics the custom-alias path
// needs (DESIGN.md Open Question 3). Returns false if the key already
// existed.
func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var created bool
	err := c.do(ctx, func(ctx context.Context) error {
		ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return err
		}
		created = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// Del removes key. Idempotent.
func (c *Client) Del(ctx context.Context, key string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Del(ctx, key).Err()
	})
}

// LPushBatch appends entries to the list at key, implementing
// analytics.Sink for this endpoint.
func (c *Client) LPushBatch(ctx context.Context, key string, entries []int64) error {
	if len(entries) == 0 {
		return nil
	}
	args := make([]any, len(entries))
	for i, e := range entries {
		args[i] = e
	}
	return c.do(ctx, func(ctx context.Context) error {
		return c.rdb.LPush(ctx, key, args...).Err()
	})
}

// Close releases the connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Pool fans calls out across all endpoints behind a shared breaker,
// implementing spec.md §4.3's multi-endpoint behaviour: each logical call
// targets exactly one currently-healthy endpoint (picked round-robin
// among HealthyEndpoints), falling through to the next healthy endpoint
// when the breaker rejects the pick or the call fails.
type Pool struct {
	clients map[string]*Client
	br      *breaker.Breaker
	rotor   int
}

// NewPool dials one Client per endpoint in opts and wires them to a
// shared Breaker.
func NewPool(opts map[string]Options, brCfg breaker.Config) (*Pool, error) {
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	br := breaker.New(names, brCfg)

	clients := make(map[string]*Client, len(opts))
	for name, o := range opts {
		c, err := newClient(name, o)
		if err != nil {
			for _, existing := range clients {
				existing.Close()
			}
			return nil, err
		}
		clients[name] = c
	}

	return &Pool{clients: clients, br: br}, nil
}

// Breaker exposes the pool's underlying breaker for metrics collection
// (see metrics/prom.BreakerCollector).
func (p *Pool) Breaker() *breaker.Breaker { return p.br }

// pick returns the next healthy endpoint to try, round-robin.
func (p *Pool) pick() *breaker.Endpoint {
	healthy := p.br.HealthyEndpoints()
	if len(healthy) == 0 {
		return nil
	}
	p.rotor = (p.rotor + 1) % len(healthy)
	return healthy[p.rotor]
}

// call runs op against the breaker-selected endpoint's Client, retrying
// against the next healthy endpoint if the breaker rejects the pick or
// the call fails, for at most as many attempts as there are configured
// endpoints.
func call[T any](p *Pool, op func(*Client) (T, error)) (T, error) {
	var zero T
	attempts := len(p.br.Endpoints())
	if attempts == 0 {
		return zero, errs.Wrap(errs.Internal, fmt.Errorf("remote: no endpoints configured"))
	}
	var lastErr error = errs.Rejected
	for i := 0; i < attempts; i++ {
		ep := p.pick()
		if ep == nil {
			break
		}
		c := p.clients[ep.Name()]
		v, outcome, err := breaker.Call(ep, func() (T, error) { return op(c) })
		switch outcome {
		case breaker.OutcomeOK:
			return v, nil
		case breaker.OutcomeRejected:
			continue
		case breaker.OutcomeFailed:
			lastErr = err
			continue
		}
	}
	return zero, errs.Wrap(errs.Remote, lastErr)
}

// Get reads key from the next healthy endpoint.
func (p *Pool) Get(ctx context.Context, key string) ([]byte, bool, error) {
	type result struct {
		val []byte
		hit bool
	}
	r, err := call(p, func(c *Client) (result, error) {
		v, hit, err := c.Get(ctx, key)
		return result{val: v, hit: hit}, err
	})
	return r.val, r.hit, err
}

// SetEx writes key=value with ttl to the next healthy endpoint.
func (p *Pool) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := call(p, func(c *Client) (struct{}, error) {
		return struct{}{}, c.SetEx(ctx, key, value, ttl)
	})
	return err
}

// SetNX conditionally writes key=value to the next healthy endpoint.
func (p *Pool) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return call(p, func(c *Client) (bool, error) {
		return c.SetNX(ctx, key, value, ttl)
	})
}

// Del removes key from the next healthy endpoint.
func (p *Pool) Del(ctx context.Context, key string) error {
	_, err := call(p, func(c *Client) (struct{}, error) {
		return struct{}{}, c.Del(ctx, key)
	})
	return err
}

// LPushBatch appends entries to key's list on the next healthy endpoint,
// implementing analytics.Sink for the whole pool.
func (p *Pool) LPushBatch(ctx context.Context, key string, entries []int64) error {
	_, err := call(p, func(c *Client) (struct{}, error) {
		return struct{}{}, c.LPushBatch(ctx, key, entries)
	})
	return err
}

// Close releases every endpoint's connection pool.
func (p *Pool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
