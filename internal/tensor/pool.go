package tensor

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// bucketCount and bucketCap bound the pool: buffers are grouped into
// power-of-two size buckets, and each bucket keeps at most bucketCap
// spare buffers, evicting the least-recently-returned one first
// (spec.md §5: "protected by fine-grained locks per size bucket").
const (
	minBucketShift = 12 // 4 KiB
	maxBucketShift = 30 // 1 GiB; larger allocations bypass the pool
	bucketCap      = 8
)

// Pool is a process-wide allocation reuse pool for inline tensor
// storage. Get either returns a previously-released buffer of a
// compatible size bucket, or allocates fresh. Buffers above the largest
// bucket are allocated directly and never pooled, since a single
// oversized tensor churning through an LRU would just thrash it.
type Pool struct {
	mu      sync.Mutex
	buckets map[int]*lru.Cache[uint64, []byte]
	nextID  uint64
}

// NewPool constructs an empty pool.
func NewPool() *Pool {
	return &Pool{buckets: make(map[int]*lru.Cache[uint64, []byte])}
}

func bucketShift(size int) int {
	shift := minBucketShift
	for (1 << shift) < size {
		shift++
		if shift >= maxBucketShift {
			return maxBucketShift
		}
	}
	return shift
}

// Get returns a buffer of at least size bytes, reused from the pool when
// available. The returned InlineStorage's Release call returns the
// buffer to this pool.
func (p *Pool) Get(size int) *InlineStorage {
	shift := bucketShift(size)
	if shift >= maxBucketShift && (1<<shift) < size {
		// larger than the pool tracks at all: allocate untracked
		return &InlineStorage{buf: make([]byte, size)}
	}

	p.mu.Lock()
	cache := p.buckets[shift]
	p.mu.Unlock()

	if cache != nil {
		if buf, id, ok := popNewest(cache); ok {
			cache.Remove(id)
			return &InlineStorage{buf: buf[:size], pool: p}
		}
	}
	return &InlineStorage{buf: make([]byte, size, 1<<shift)[:size], pool: p}
}

// Put returns buf to the pool for reuse by a later Get of a compatible
// size. Called by InlineStorage.Release; not meant to be called
// directly by tensor consumers.
func (p *Pool) Put(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	shift := bucketShift(cap(buf))
	if (1 << shift) != cap(buf) {
		// wasn't a pool-sized allocation (e.g. truncated view); drop it.
		return
	}

	p.mu.Lock()
	cache := p.buckets[shift]
	if cache == nil {
		cache, _ = lru.New[uint64, []byte](bucketCap)
		p.buckets[shift] = cache
	}
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	cache.Add(id, buf[:cap(buf)])
}

// popNewest returns the most recently added entry in cache without
// mutating recency order beyond the lookup itself; the caller removes it
// on success. hashicorp/golang-lru's Keys() returns oldest-to-newest, so
// the last element is the most recently returned buffer — reusing it
// first keeps hot buffers warm in CPU cache.
func popNewest[K comparable, V any](cache *lru.Cache[K, V]) (V, K, bool) {
	keys := cache.Keys()
	var zero V
	var zeroKey K
	if len(keys) == 0 {
		return zero, zeroKey, false
	}
	key := keys[len(keys)-1]
	v, ok := cache.Peek(key)
	if !ok {
		return zero, zeroKey, false
	}
	return v, key, true
}
