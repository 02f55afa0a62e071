package fetchcore

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a mutex-guarded manual time source for deterministic
// expiry tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, cfg CacheConfig, opts ...Option) *Store[string] {
	t.Helper()
	s, err := NewStore[string](cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreSetGet(t *testing.T) {
	s := newTestStore(t, DefaultCacheConfig())

	require.NoError(t, s.Set("api", "/users", "payload", SetOptions{}))

	val, ok := s.Get("api", "/users")
	require.True(t, ok)
	assert.Equal(t, "payload", val)

	_, ok = s.Get("api", "/missing")
	assert.False(t, ok)

	_, ok = s.Get("other", "/users")
	assert.False(t, ok, "namespaces must be isolated")
}

func TestStoreFreshness(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, DefaultCacheConfig(), WithClock(clock.Now))

	require.NoError(t, s.Set("api", "/x", "v1", SetOptions{TTL: 100 * time.Millisecond}))

	clock.Advance(50 * time.Millisecond)
	val, ok := s.Get("api", "/x")
	require.True(t, ok, "entry should be live at t=50ms")
	assert.Equal(t, "v1", val)

	clock.Advance(100 * time.Millisecond)
	_, ok = s.Get("api", "/x")
	assert.False(t, ok, "entry should be expired at t=150ms")
}

func TestStoreExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, DefaultCacheConfig(), WithClock(clock.Now))

	require.NoError(t, s.Set("api", "/x", "v", SetOptions{TTL: 100 * time.Millisecond}))

	// Live iff now - createdAt < ttl: exactly at the TTL the entry is gone.
	clock.Advance(100 * time.Millisecond)
	_, ok := s.Get("api", "/x")
	assert.False(t, ok)
}

func TestStoreMaxEntriesEviction(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.MaxEntries = 3
	s := newTestStore(t, cfg)

	for i := 1; i <= 4; i++ {
		require.NoError(t, s.Set("api", fmt.Sprintf("/k%d", i), "v", SetOptions{}))
	}

	_, ok := s.Get("api", "/k1")
	assert.False(t, ok, "oldest entry should be evicted")
	for i := 2; i <= 4; i++ {
		_, ok := s.Get("api", fmt.Sprintf("/k%d", i))
		assert.True(t, ok, "entry /k%d should survive", i)
	}
	assert.Equal(t, 3, s.Stats("").Count)
	assert.Equal(t, int64(1), s.Metrics().Evictions)
}

func TestStoreMaxSizeEviction(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.MaxTotalSize = 25
	s := newTestStore(t, cfg, WithSizeEstimator(func(any) int64 { return 10 }))

	require.NoError(t, s.Set("api", "/a", "v", SetOptions{}))
	require.NoError(t, s.Set("api", "/b", "v", SetOptions{}))
	require.NoError(t, s.Set("api", "/c", "v", SetOptions{}))

	_, ok := s.Get("api", "/a")
	assert.False(t, ok, "oldest entry should be evicted to fit /c")
	assert.LessOrEqual(t, s.Stats("").TotalSize, cfg.MaxTotalSize)
}

func TestStoreOversizeEntryAdmittedWithWarning(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.MaxTotalSize = 50
	s := newTestStore(t, cfg, WithSizeEstimator(func(any) int64 { return 100 }))

	err := s.Set("api", "/huge", "v", SetOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEntryTooLarge))

	// The entry is admitted despite the warning.
	_, ok := s.Get("api", "/huge")
	assert.True(t, ok)

	// The next write evicts it straight away to restore the bound.
	s2 := newTestStore(t, cfg, WithSizeEstimator(func(v any) int64 {
		if v == "huge" {
			return 100
		}
		return 10
	}))
	require.Error(t, s2.Set("api", "/huge", "huge", SetOptions{}))
	require.NoError(t, s2.Set("api", "/small", "small", SetOptions{}))
	_, ok = s2.Get("api", "/huge")
	assert.False(t, ok)
}

func TestStoreGetDoesNotRefreshRecency(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.MaxEntries = 2
	s := newTestStore(t, cfg)

	require.NoError(t, s.Set("api", "/a", "v", SetOptions{}))
	require.NoError(t, s.Set("api", "/b", "v", SetOptions{}))

	// Heavy reads do not protect /a from eviction.
	for i := 0; i < 10; i++ {
		_, ok := s.Get("api", "/a")
		require.True(t, ok)
	}

	require.NoError(t, s.Set("api", "/c", "v", SetOptions{}))
	_, ok := s.Get("api", "/a")
	assert.False(t, ok, "oldest-set entry evicts regardless of reads")
}

func TestStoreSetRefreshesRecency(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.MaxEntries = 2
	s := newTestStore(t, cfg)

	require.NoError(t, s.Set("api", "/a", "v1", SetOptions{}))
	require.NoError(t, s.Set("api", "/b", "v", SetOptions{}))
	require.NoError(t, s.Set("api", "/a", "v2", SetOptions{}))
	require.NoError(t, s.Set("api", "/c", "v", SetOptions{}))

	_, ok := s.Get("api", "/b")
	assert.False(t, ok, "/b became oldest after /a was rewritten")
	val, ok := s.Get("api", "/a")
	require.True(t, ok)
	assert.Equal(t, "v2", val)
}

func TestStoreDeleteIdempotent(t *testing.T) {
	s := newTestStore(t, DefaultCacheConfig())

	require.NoError(t, s.Set("api", "/x", "v", SetOptions{}))
	assert.True(t, s.Delete("api", "/x"))
	assert.False(t, s.Delete("api", "/x"), "second delete returns false without error")
}

func TestStoreDeleteByTag(t *testing.T) {
	s := newTestStore(t, DefaultCacheConfig())

	require.NoError(t, s.Set("api", "/u1", "v", SetOptions{Tags: []string{"users", "list"}}))
	require.NoError(t, s.Set("api", "/u2", "v", SetOptions{Tags: []string{"users"}}))
	require.NoError(t, s.Set("web", "/u3", "v", SetOptions{Tags: []string{"users"}}))
	require.NoError(t, s.Set("api", "/p1", "v", SetOptions{Tags: []string{"posts"}}))
	require.NoError(t, s.Set("api", "/none", "v", SetOptions{}))

	assert.Equal(t, 3, s.DeleteByTag("users"), "tag delete crosses namespaces")

	_, ok := s.Get("api", "/p1")
	assert.True(t, ok, "disjoint tags unaffected")
	_, ok = s.Get("api", "/none")
	assert.True(t, ok, "untagged entries unaffected")
	assert.Equal(t, 0, s.DeleteByTag("users"))
}

func TestStoreTouch(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, DefaultCacheConfig(), WithClock(clock.Now))

	require.NoError(t, s.Set("api", "/x", "v", SetOptions{TTL: 100 * time.Millisecond}))

	clock.Advance(80 * time.Millisecond)
	require.True(t, s.Touch("api", "/x", 0))

	// Past the original deadline, but alive thanks to the touch.
	clock.Advance(80 * time.Millisecond)
	_, ok := s.Get("api", "/x")
	assert.True(t, ok)

	// Touch with a new TTL replaces the old one.
	require.True(t, s.Touch("api", "/x", time.Second))
	remaining, ok := s.TTLRemaining("api", "/x")
	require.True(t, ok)
	assert.Equal(t, time.Second, remaining)

	clock.Advance(2 * time.Second)
	assert.False(t, s.Touch("api", "/x", 0), "touching an expired entry fails")
}

func TestStoreTTLRemaining(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, DefaultCacheConfig(), WithClock(clock.Now))

	require.NoError(t, s.Set("api", "/x", "v", SetOptions{TTL: time.Second}))

	clock.Advance(400 * time.Millisecond)
	remaining, ok := s.TTLRemaining("api", "/x")
	require.True(t, ok)
	assert.Equal(t, 600*time.Millisecond, remaining)

	_, ok = s.TTLRemaining("api", "/missing")
	assert.False(t, ok)
}

func TestStoreHas(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, DefaultCacheConfig(), WithClock(clock.Now))

	require.NoError(t, s.Set("api", "/x", "v", SetOptions{TTL: time.Second}))
	assert.True(t, s.Has("api", "/x"))
	assert.False(t, s.Has("api", "/missing"))

	before := s.Metrics()
	assert.Zero(t, before.Hits, "Has must not count hits")

	clock.Advance(2 * time.Second)
	assert.False(t, s.Has("api", "/x"))
}

func TestStoreVersionBusting(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.Version = "v2"
	s := newTestStore(t, cfg)

	require.NoError(t, s.Set("api", "/current", "v", SetOptions{}))
	require.NoError(t, s.Set("api", "/stale", "v", SetOptions{Version: "v1"}))

	_, ok := s.Get("api", "/current")
	assert.True(t, ok)
	_, ok = s.Get("api", "/stale")
	assert.False(t, ok, "entries from another version are logically absent")
}

func TestStoreSweep(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, DefaultCacheConfig(), WithClock(clock.Now))

	require.NoError(t, s.Set("api", "/short", "v", SetOptions{TTL: 100 * time.Millisecond}))
	require.NoError(t, s.Set("api", "/long", "v", SetOptions{TTL: time.Hour}))

	clock.Advance(time.Second)
	assert.Equal(t, 1, s.sweep())
	assert.Equal(t, 1, s.Stats("").Count)
	assert.Equal(t, 0, s.sweep())
}

func TestStoreClear(t *testing.T) {
	s := newTestStore(t, DefaultCacheConfig())

	require.NoError(t, s.Set("api", "/a", "v", SetOptions{}))
	require.NoError(t, s.Set("api", "/b", "v", SetOptions{}))
	s.Clear()

	st := s.Stats("")
	assert.Zero(t, st.Count)
	assert.Zero(t, st.TotalSize)
}

func TestStoreStats(t *testing.T) {
	s := newTestStore(t, DefaultCacheConfig())

	require.NoError(t, s.Set("api", "/hot", "v", SetOptions{}))
	require.NoError(t, s.Set("api", "/cold", "v", SetOptions{}))
	require.NoError(t, s.Set("web", "/page", "v", SetOptions{}))

	for i := 0; i < 5; i++ {
		s.Get("api", "/hot")
	}
	s.Get("api", "/cold")
	s.Get("api", "/missing")

	all := s.Stats("")
	assert.Equal(t, 3, all.Count)
	require.NotEmpty(t, all.TopEntriesByHits)
	assert.Equal(t, "/hot", all.TopEntriesByHits[0].Key)
	assert.Equal(t, int64(5), all.TopEntriesByHits[0].Hits)

	api := s.Stats("api")
	assert.Equal(t, 2, api.Count)
	for _, e := range api.TopEntriesByHits {
		assert.Equal(t, "api", e.Namespace)
	}

	m := s.Metrics()
	assert.Equal(t, int64(6), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
	assert.InDelta(t, 6.0/7.0, m.HitRate, 1e-9)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := newTestStore(t, DefaultCacheConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("/k%d", j%20)
				switch j % 4 {
				case 0:
					_ = s.Set("api", key, "v", SetOptions{Tags: []string{"t"}})
				case 1:
					s.Get("api", key)
				case 2:
					s.Delete("api", key)
				default:
					s.Has("api", key)
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Stats("").Count, DefaultMaxEntries)
}
