// Package tinylfu implements the frequency-biased admission policy that
// resolves spec.md §9's admission-policy Open Question (see DESIGN.md):
// a small count-min sketch estimates how often a key has been seen, and a
// doorkeeper bloom filter prevents one-off keys from polluting the
// sketch on their first touch.
//
// Shaped directly on policy/twoq's ShardPolicy implementation: twoQ
// tracks ghost-queue membership to decide admission; tinylfu tracks
// frequency estimates instead, but the shape (per-shard state bound via
// policy.Policy[K,V].New, OnAdd proposing an eviction candidate when the
// shard hooks report the capacity is exceeded) is the same pattern.
package tinylfu

import (
	"fmt"

	"github.com/shortenly/core/bloom"
	"github.com/shortenly/core/internal/util"
	"github.com/shortenly/core/policy"
)

const (
	sketchDepth     = 4
	countersPerWord = 16 // 4 bits each, packed into a uint64
	counterMask     = 0xF
	counterMax      = 0xF
)

// sketch is a count-min frequency estimator with 4-bit saturating
// counters, sized to 4 x nextPow2(capacity) total counters (DESIGN.md
// Open Question 1), halved once every 10 x nextPow2(capacity) increments to keep
// estimates recent (classic TinyLFU "aging").
type sketch struct {
	rows      [sketchDepth][]uint64 // each row holds width 4-bit counters
	width     uint64
	increments uint64
	resetAt   uint64
}

func newSketch(capacity int) *sketch {
	width := util.NextPow2(uint64(capacity))
	if width == 0 {
		width = 1
	}
	words := (width + countersPerWord - 1) / countersPerWord
	s := &sketch{width: width, resetAt: 10 * width}
	for i := range s.rows {
		s.rows[i] = make([]uint64, words)
	}
	return s
}

func (s *sketch) indexFor(row int, h uint64) (word int, shift uint) {
	slot := (h + uint64(row)*0x9E3779B97F4A7C15) % s.width
	return int(slot / countersPerWord), uint(slot % countersPerWord) * 4
}

// increment bumps every row's counter for h, saturating at 15, and
// triggers a halving pass once increments since the last reset reach
// resetAt.
func (s *sketch) increment(h uint64) {
	for row := 0; row < sketchDepth; row++ {
		word, shift := s.indexFor(row, h)
		v := (s.rows[row][word] >> shift) & counterMask
		if v < counterMax {
			s.rows[row][word] += 1 << shift
		}
	}
	s.increments++
	if s.increments >= s.resetAt {
		s.halve()
	}
}

func (s *sketch) halve() {
	for row := range s.rows {
		for i := range s.rows[row] {
			// halve each nibble independently: mask off the low bit of
			// every 4-bit counter, then shift each counter right by one.
			word := s.rows[row][i]
			s.rows[row][i] = (word >> 1) & 0x7777777777777777
		}
	}
	s.increments = 0
}

// estimate returns the minimum counter across all rows for h, the
// count-min estimate of h's frequency.
func (s *sketch) estimate(h uint64) uint8 {
	min := uint8(counterMax)
	for row := 0; row < sketchDepth; row++ {
		word, shift := s.indexFor(row, h)
		v := uint8((s.rows[row][word] >> shift) & counterMask)
		if v < min {
			min = v
		}
	}
	return min
}

// policyFactory is the Policy[K,V] implementation returned by New.
type policyFactory[K comparable, V any] struct {
	capacity int
}

// New returns a Policy factory sized for capacity entries per shard (pass
// the *per-shard* capacity, matching twoQ's convention).
func New[K comparable, V any](capacity int) policy.Policy[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return policyFactory[K, V]{capacity: capacity}
}

func (f policyFactory[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &tinyLFU[K, V]{
		h:          h,
		capacity:   f.capacity,
		sketch:     newSketch(f.capacity),
		doorkeeper: bloom.New(int(8*util.NextPow2(uint64(f.capacity))), f.capacity, 1, 64),
	}
}

type tinyLFU[K comparable, V any] struct {
	h          policy.Hooks[K, V]
	capacity   int
	sketch     *sketch
	doorkeeper *bloom.Filter
}

// recordAccess implements the doorkeeper: a key's first touch only marks
// it in the doorkeeper bloom filter; only a second-or-later touch
// increments its count-min estimate. This keeps keys seen exactly once
// from inflating the sketch and winning admission races they shouldn't.
func (p *tinyLFU[K, V]) recordAccess(key K) uint64 {
	s := anyToString(key)
	h := util.Fnv64a(s)
	b := []byte(s)
	if p.doorkeeper.Contains(b) {
		p.sketch.increment(h)
	} else {
		p.doorkeeper.Insert(b)
	}
	return h
}

// anyToString derives a hashable string for key. spec.md's own key type
// is always string, but the policy stays generic per the teacher's
// K comparable contract, so non-string keys fall back to fmt.Sprintf.
func anyToString(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	type stringer interface{ String() string }
	if s, ok := k.(stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", k)
}

// OnAdd admits the new node unconditionally below capacity (matching
// lru/twoQ, which never evict until the shard is over capacity). At
// capacity, it compares the newcomer's frequency estimate against the
// current LRU victim's and keeps whichever is more frequently accessed,
// per spec.md §9's resolution of the admission-policy Open Question.
func (p *tinyLFU[K, V]) OnAdd(n policy.Node[K, V]) (evict policy.Node[K, V]) {
	p.h.PushFront(n)
	newHash := p.recordAccess(n.Key())

	if p.h.Len() <= p.capacity {
		return nil
	}

	victim := p.h.Back()
	if victim == nil || victim.Key() == n.Key() {
		return nil
	}
	victimHash := util.Fnv64a(anyToString(victim.Key()))

	if p.sketch.estimate(newHash) > p.sketch.estimate(victimHash) {
		return victim
	}
	return n
}

// OnGet promotes n and records the access for frequency estimation.
func (p *tinyLFU[K, V]) OnGet(n policy.Node[K, V]) {
	p.recordAccess(n.Key())
	p.h.MoveToFront(n)
}

// OnUpdate follows OnGet semantics (an update counts as recent use).
func (p *tinyLFU[K, V]) OnUpdate(n policy.Node[K, V]) { p.OnGet(n) }

// OnRemove is a no-op: the sketch and doorkeeper are frequency estimators
// over the keyspace, not membership trackers for resident entries, so
// there is nothing to reverse when an entry leaves the shard.
func (p *tinyLFU[K, V]) OnRemove(_ policy.Node[K, V]) {}
