package ratelimit

import (
	"container/list"
	"sync"
)

const defaultMaxKeys = 4096

// KeyedLimiter keeps one token bucket per key (for example a client IP).
//
// The number of live buckets is bounded; once full, the least recently used
// bucket is evicted to make room. An evicted key starts again with a full
// bucket.
type KeyedLimiter struct {
	clock   Clock
	rate    int64
	burst   int64
	maxKeys int

	// OnEvict, when set, runs once per evicted bucket outside the lock.
	OnEvict func()

	mu      sync.Mutex
	buckets map[string]*keyedEntry
	lru     *list.List
}

type keyedEntry struct {
	bucket *TokenBucket
	elem   *list.Element
}

// NewKeyedLimiter returns nil when rate <= 0; a nil limiter allows everything.
func NewKeyedLimiter(clock Clock, rate, burst, maxKeys int) *KeyedLimiter {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &KeyedLimiter{
		clock:   clock,
		rate:    int64(rate),
		burst:   int64(burst),
		maxKeys: maxKeys,
		buckets: make(map[string]*keyedEntry),
		lru:     list.New(),
	}
}

func (l *KeyedLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	return l.bucket(key).Allow(1)
}

// Len reports how many keys currently hold a bucket.
func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedLimiter) bucket(key string) *TokenBucket {
	var evicted bool

	l.mu.Lock()
	if e, ok := l.buckets[key]; ok {
		l.lru.MoveToFront(e.elem)
		l.mu.Unlock()
		return e.bucket
	}

	if len(l.buckets) >= l.maxKeys {
		if back := l.lru.Back(); back != nil {
			l.lru.Remove(back)
			delete(l.buckets, back.Value.(string))
			evicted = true
		}
	}

	b := NewTokenBucket(l.clock, l.burst, l.rate)
	l.buckets[key] = &keyedEntry{bucket: b, elem: l.lru.PushFront(key)}
	onEvict := l.OnEvict
	l.mu.Unlock()

	if evicted && onEvict != nil {
		onEvict()
	}
	return b
}
