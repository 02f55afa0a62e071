package fetchcore

import (
	"container/list"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Store is a TTL-keyed in-memory cache with tag invalidation and
// entry/size limits. Eviction is oldest-refresh-first: Set and Touch move
// an entry to the front of the recency list, plain Get does not, so a
// frequently-read-but-never-refreshed entry is still evictable. A single
// Store instance is safe for concurrent use.
//
// The Store owns every stored value. Callers receive the value as stored;
// treat it as immutable after Set.
type Store[V any] struct {
	cfg      CacheConfig
	settings settings

	mu        sync.Mutex
	entries   map[string]*storeEntry[V]
	order     *list.List // front = most recently set/touched
	totalSize int64

	hits      int64
	misses    int64
	evictions int64

	done      chan struct{}
	closeOnce sync.Once
}

type storeEntry[V any] struct {
	namespace string
	key       string
	value     V
	createdAt time.Time
	ttl       time.Duration
	version   string
	tags      map[string]struct{}
	hitCount  int64
	sizeBytes int64
	elem      *list.Element
}

// SetOptions carries per-entry overrides for Store.Set.
type SetOptions struct {
	// TTL overrides the store's DefaultTTL when positive.
	TTL time.Duration
	// Tags label the entry for DeleteByTag.
	Tags []string
	// Version overrides the store's configured version for this entry.
	Version string
}

// StoreMetrics is a monotonically accumulating counter snapshot.
type StoreMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// EntryStat describes one entry in Stats.TopEntriesByHits.
type EntryStat struct {
	Namespace string
	Key       string
	Hits      int64
	SizeBytes int64
}

// Stats is a point-in-time view of the store's contents. HitRate is the
// store-wide rate; count, size and top entries honor the namespace filter.
type Stats struct {
	Count            int
	TotalSize        int64
	HitRate          float64
	TopEntriesByHits []EntryStat
}

const topEntriesLimit = 5

// NewStore creates a Store from the given config, applying ambient options
// (logger, metrics, size estimator, clock). The returned store runs a
// background sweep until Close is called.
func NewStore[V any](cfg CacheConfig, opts ...Option) (*Store[V], error) {
	if err := newValidationError("cache", cfg.validate()); err != nil {
		return nil, err
	}

	s := &Store[V]{
		cfg:      cfg,
		settings: newSettings(opts...),
		entries:  make(map[string]*storeEntry[V]),
		order:    list.New(),
		done:     make(chan struct{}),
	}

	go s.sweepLoop()

	return s, nil
}

// storeKey joins namespace and key; \x1f keeps "a","b:c" and "a:b","c" apart.
func storeKey(namespace, key string) string {
	return namespace + "\x1f" + key
}

// Get returns the value iff a live entry exists. Expired (or
// version-busted) entries are deleted synchronously and counted as misses.
func (s *Store[V]) Get(namespace, key string) (V, bool) {
	var zero V
	now := s.settings.now()

	s.mu.Lock()
	e, ok := s.entries[storeKey(namespace, key)]
	if !ok {
		s.mu.Unlock()
		atomic.AddInt64(&s.misses, 1)
		s.settings.metrics.RecordCacheMiss(namespace)
		return zero, false
	}

	if s.expired(e, now) {
		s.removeLocked(e)
		s.mu.Unlock()
		atomic.AddInt64(&s.misses, 1)
		s.settings.metrics.RecordCacheMiss(namespace)
		return zero, false
	}

	e.hitCount++
	val := e.value
	s.mu.Unlock()

	atomic.AddInt64(&s.hits, 1)
	s.settings.metrics.RecordCacheHit(namespace)
	return val, true
}

// Set overwrites any existing entry for the key, evicting oldest entries
// as needed to stay within MaxEntries and MaxTotalSize. A value whose own
// estimated size exceeds MaxTotalSize is still admitted; Set then returns
// ErrEntryTooLarge as a warning that immediate eviction is likely. The
// size is an estimate (serialized byte length), not an exact byte count.
func (s *Store[V]) Set(namespace, key string, value V, opts SetOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	version := opts.Version
	if version == "" {
		version = s.cfg.Version
	}
	size := s.settings.sizeOf(value)

	e := &storeEntry[V]{
		namespace: namespace,
		key:       key,
		value:     value,
		createdAt: s.settings.now(),
		ttl:       ttl,
		version:   version,
		sizeBytes: size,
	}
	if len(opts.Tags) > 0 {
		e.tags = make(map[string]struct{}, len(opts.Tags))
		for _, t := range opts.Tags {
			e.tags[t] = struct{}{}
		}
	}

	s.mu.Lock()
	if old, ok := s.entries[storeKey(namespace, key)]; ok {
		s.removeLocked(old)
	}

	for len(s.entries) >= s.cfg.MaxEntries {
		if !s.evictOldestLocked() {
			break
		}
	}
	for s.totalSize+size > s.cfg.MaxTotalSize {
		if !s.evictOldestLocked() {
			break
		}
	}

	s.entries[storeKey(namespace, key)] = e
	e.elem = s.order.PushFront(e)
	s.totalSize += size
	entryCount := len(s.entries)
	totalSize := s.totalSize
	s.mu.Unlock()

	s.settings.metrics.RecordCacheSize(entryCount, totalSize)

	if size > s.cfg.MaxTotalSize {
		s.settings.logger.Warn().
			Str("namespace", namespace).
			Str("key", key).
			Int64("size_bytes", size).
			Int64("max_total_size", s.cfg.MaxTotalSize).
			Msg("cache entry exceeds total size limit")
		return ErrEntryTooLarge
	}
	return nil
}

// Delete removes the entry for the key. The second call for the same key
// returns false and does not error.
func (s *Store[V]) Delete(namespace, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[storeKey(namespace, key)]
	if !ok {
		return false
	}
	s.removeLocked(e)
	return true
}

// DeleteByTag removes all entries, independent of namespace, whose tag set
// contains tag. It returns the number removed.
func (s *Store[V]) DeleteByTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []*storeEntry[V]
	for _, e := range s.entries {
		if _, ok := e.tags[tag]; ok {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		s.removeLocked(e)
	}
	return len(doomed)
}

// Has reports whether a live entry exists. Unlike Get it does not touch
// hit/miss counters, but it does lazily delete an expired entry.
func (s *Store[V]) Has(namespace, key string) bool {
	now := s.settings.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[storeKey(namespace, key)]
	if !ok {
		return false
	}
	if s.expired(e, now) {
		s.removeLocked(e)
		return false
	}
	return true
}

// Touch resets the entry's age (and TTL, when ttl is positive), refreshing
// its eviction recency. It returns false if no live entry exists.
func (s *Store[V]) Touch(namespace, key string, ttl time.Duration) bool {
	now := s.settings.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[storeKey(namespace, key)]
	if !ok {
		return false
	}
	if s.expired(e, now) {
		s.removeLocked(e)
		return false
	}

	e.createdAt = now
	if ttl > 0 {
		e.ttl = ttl
	}
	s.order.MoveToFront(e.elem)
	return true
}

// TTLRemaining returns the time until the entry expires, or false if no
// live entry exists.
func (s *Store[V]) TTLRemaining(namespace, key string) (time.Duration, bool) {
	now := s.settings.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[storeKey(namespace, key)]
	if !ok {
		return 0, false
	}
	if s.expired(e, now) {
		s.removeLocked(e)
		return 0, false
	}
	return e.ttl - now.Sub(e.createdAt), true
}

// Clear removes all entries. Metric counters keep accumulating.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*storeEntry[V])
	s.order.Init()
	s.totalSize = 0
	s.mu.Unlock()

	s.settings.metrics.RecordCacheSize(0, 0)
}

// Stats returns a point-in-time view of the store. An empty namespace
// aggregates all namespaces.
func (s *Store[V]) Stats(namespace string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	var top []EntryStat
	for _, e := range s.entries {
		if namespace != "" && e.namespace != namespace {
			continue
		}
		st.Count++
		st.TotalSize += e.sizeBytes
		top = append(top, EntryStat{
			Namespace: e.namespace,
			Key:       e.key,
			Hits:      e.hitCount,
			SizeBytes: e.sizeBytes,
		})
	}

	sort.Slice(top, func(i, j int) bool {
		if top[i].Hits != top[j].Hits {
			return top[i].Hits > top[j].Hits
		}
		return top[i].Key < top[j].Key
	})
	if len(top) > topEntriesLimit {
		top = top[:topEntriesLimit]
	}
	st.TopEntriesByHits = top
	st.HitRate = hitRate(atomic.LoadInt64(&s.hits), atomic.LoadInt64(&s.misses))
	return st
}

// Metrics returns the monotonic counter snapshot.
func (s *Store[V]) Metrics() StoreMetrics {
	hits := atomic.LoadInt64(&s.hits)
	misses := atomic.LoadInt64(&s.misses)
	return StoreMetrics{
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadInt64(&s.evictions),
		HitRate:   hitRate(hits, misses),
	}
}

// Close stops the background sweep. The store remains usable.
func (s *Store[V]) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// expired treats a version mismatch like expiry: the entry was written for
// a different schema generation and must not be served.
func (s *Store[V]) expired(e *storeEntry[V], now time.Time) bool {
	if s.cfg.Version != "" && e.version != s.cfg.Version {
		return true
	}
	return now.Sub(e.createdAt) >= e.ttl
}

func (s *Store[V]) removeLocked(e *storeEntry[V]) {
	delete(s.entries, storeKey(e.namespace, e.key))
	s.order.Remove(e.elem)
	s.totalSize -= e.sizeBytes
}

func (s *Store[V]) evictOldestLocked() bool {
	back := s.order.Back()
	if back == nil {
		return false
	}
	e := back.Value.(*storeEntry[V])
	s.removeLocked(e)
	atomic.AddInt64(&s.evictions, 1)
	s.settings.metrics.RecordCacheEviction(e.namespace)
	return true
}

// sweepLoop opportunistically reclaims expired entries on a fixed
// interval. Correctness never depends on it: expiry is checked lazily on
// every read.
func (s *Store[V]) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				s.settings.logger.Debug().Int("reclaimed", n).Msg("cache sweep")
			}
		}
	}
}

func (s *Store[V]) sweep() int {
	now := s.settings.now()

	s.mu.Lock()
	var doomed []*storeEntry[V]
	for _, e := range s.entries {
		if s.expired(e, now) {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		s.removeLocked(e)
	}
	entryCount := len(s.entries)
	totalSize := s.totalSize
	s.mu.Unlock()

	if len(doomed) > 0 {
		s.settings.metrics.RecordCacheSize(entryCount, totalSize)
	}
	return len(doomed)
}
