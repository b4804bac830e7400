// ABOUTME: Tests for the cache backends and typed helpers
// ABOUTME: Redis tests run only when REDIS_URL points at a live server

package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk-gateway/internal/config"
)

func counting(value string, calls *atomic.Int32) ComputeFunc {
	return func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(value), nil
	}
}

func TestMemory_FetchCachesUntilExpiry(t *testing.T) {
	m, err := NewMemory(10)
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	var calls atomic.Int32
	ctx := context.Background()

	v, err := m.Fetch(ctx, "k", time.Minute, counting("one", &calls))
	require.NoError(t, err)
	assert.Equal(t, "one", string(v))

	v, err = m.Fetch(ctx, "k", time.Minute, counting("two", &calls))
	require.NoError(t, err)
	assert.Equal(t, "one", string(v), "live entry is served")
	assert.EqualValues(t, 1, calls.Load())

	now = now.Add(time.Minute)
	v, err = m.Fetch(ctx, "k", time.Minute, counting("three", &calls))
	require.NoError(t, err)
	assert.Equal(t, "three", string(v), "expired entry is recomputed")
	assert.EqualValues(t, 2, calls.Load())
}

func TestMemory_InvalidateRoundTrip(t *testing.T) {
	m, err := NewMemory(10)
	require.NoError(t, err)
	ctx := context.Background()

	source := "derived from store"
	compute := func(ctx context.Context) ([]byte, error) { return []byte(source), nil }

	warm, err := m.Fetch(ctx, "k", time.Hour, compute)
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(ctx, "k"))
	assert.Zero(t, m.Len())

	cold, err := m.Fetch(ctx, "k", time.Hour, compute)
	require.NoError(t, err)
	assert.Equal(t, warm, cold)
}

func TestMemory_ComputeErrorIsNotStored(t *testing.T) {
	m, err := NewMemory(10)
	require.NoError(t, err)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err = m.Fetch(ctx, "k", time.Hour, func(ctx context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, m.Len())

	v, err := m.Fetch(ctx, "k", time.Hour, func(ctx context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", string(v))
}

func TestMemory_ConcurrentMissesComputeOnce(t *testing.T) {
	m, err := NewMemory(10)
	require.NoError(t, err)
	ctx := context.Background()

	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.Fetch(ctx, "k", time.Hour, compute)
			assert.NoError(t, err)
			assert.Equal(t, "v", string(v))
		}()
	}

	// Give the goroutines time to pile onto the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
}

func TestMemory_InvalidateDuringComputeDiscardsResult(t *testing.T) {
	m, err := NewMemory(10)
	require.NoError(t, err)
	ctx := context.Background()

	v, err := m.Fetch(ctx, "k", time.Hour, func(ctx context.Context) ([]byte, error) {
		require.NoError(t, m.Invalidate(ctx, "k"))
		return []byte("stale"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", string(v))
	assert.Zero(t, m.Len(), "value computed across an invalidation is not stored")
}

func TestMemory_InvalidateFromAnotherGoroutineForcesRecompute(t *testing.T) {
	m, err := NewMemory(10)
	require.NoError(t, err)
	ctx := context.Background()

	computing := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.Fetch(ctx, "k", time.Hour, func(ctx context.Context) ([]byte, error) {
			close(computing)
			<-release
			return []byte("stale"), nil
		})
		assert.NoError(t, err)
	}()

	<-computing
	require.NoError(t, m.Invalidate(ctx, "k"))
	close(release)
	<-done

	var calls atomic.Int32
	v, err := m.Fetch(ctx, "k", time.Hour, counting("fresh", &calls))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(v))
	assert.EqualValues(t, 1, calls.Load())
}

func TestMemory_InvalidateRacingFetchesLeavesNoStaleEntry(t *testing.T) {
	m, err := NewMemory(10)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.Fetch(ctx, "k", time.Hour, func(ctx context.Context) ([]byte, error) {
				return []byte("old"), nil
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Invalidate(ctx, "k"))
		}()
	}
	wg.Wait()
	require.NoError(t, m.Invalidate(ctx, "k"))

	v, err := m.Fetch(ctx, "k", time.Hour, func(ctx context.Context) ([]byte, error) {
		return []byte("new"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "new", string(v))
}

func TestMemory_Eviction(t *testing.T) {
	m, err := NewMemory(2)
	require.NoError(t, err)
	ctx := context.Background()

	var calls atomic.Int32
	for _, k := range []string{"a", "b", "c"} {
		_, err := m.Fetch(ctx, k, time.Hour, counting(k, &calls))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, m.Len())

	_, err = m.Fetch(ctx, "a", time.Hour, counting("a", &calls))
	require.NoError(t, err)
	assert.EqualValues(t, 4, calls.Load(), "least recently used key was evicted")
}

func TestFetchJSON(t *testing.T) {
	m, err := NewMemory(10)
	require.NoError(t, err)
	ctx := context.Background()

	type item struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	var calls int
	compute := func(ctx context.Context) ([]item, error) {
		calls++
		return []item{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}, nil
	}

	first, err := FetchJSON(ctx, m, "items", time.Hour, compute)
	require.NoError(t, err)
	second, err := FetchJSON(ctx, m, "items", time.Hour, compute)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestNoop(t *testing.T) {
	var calls atomic.Int32
	ctx := context.Background()
	c := Noop{}

	for i := 0; i < 3; i++ {
		_, err := c.Fetch(ctx, "k", time.Hour, counting("v", &calls))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, calls.Load())
	assert.NoError(t, c.Invalidate(ctx, "k"))
}

func TestNew(t *testing.T) {
	c, err := New(config.CacheConfig{Backend: config.CacheMemory, MaxEntries: 5})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = New(config.CacheConfig{Backend: config.CacheNone})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, c)

	_, err = New(config.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)

	_, err = New(config.CacheConfig{Backend: config.CacheRedis})
	assert.Error(t, err, "redis without a url is rejected")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "messages:index:conversation:7", MessagesKey(7))
	assert.Equal(t, "conversations:index:user:3", ConversationsKey(3))
	assert.Equal(t, "faq:content:expert:2:abcdef0123456789", FAQContentKey(2, "abcdef0123456789"))
	assert.Equal(t, "expert:assignments:history:expert:9", AssignmentHistoryKey(9))
}

func TestRedis_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	r, err := NewRedis(url, "helpdesk-test:"+t.Name()+":")
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	var calls atomic.Int32
	v, err := r.Fetch(ctx, "k", time.Minute, counting("one", &calls))
	require.NoError(t, err)
	assert.Equal(t, "one", string(v))

	v, err = r.Fetch(ctx, "k", time.Minute, counting("two", &calls))
	require.NoError(t, err)
	assert.Equal(t, "one", string(v))

	require.NoError(t, r.Invalidate(ctx, "k"))
	v, err = r.Fetch(ctx, "k", time.Minute, counting("three", &calls))
	require.NoError(t, err)
	assert.Equal(t, "three", string(v))
	require.NoError(t, r.Invalidate(ctx, "k"))
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	r, err := NewRedis(url, "helpdesk-test:"+t.Name()+":")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedis_InvalidateDuringComputeForcesRecompute(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	t.Cleanup(func() { r.Invalidate(ctx, "k") })

	v, err := r.Fetch(ctx, "k", time.Minute, func(ctx context.Context) ([]byte, error) {
		require.NoError(t, r.Invalidate(ctx, "k"))
		return []byte("stale"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", string(v))

	var calls atomic.Int32
	v, err = r.Fetch(ctx, "k", time.Minute, counting("fresh", &calls))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(v))
	assert.EqualValues(t, 1, calls.Load())

	v, err = r.Fetch(ctx, "k", time.Minute, counting("again", &calls))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(v), "an undisturbed compute is stored")
}

func TestRedis_InvalidateFromOtherReplicaDuringCompute(t *testing.T) {
	r := newTestRedis(t)
	other, err := NewRedis(os.Getenv("REDIS_URL"), r.prefix)
	require.NoError(t, err)
	defer other.Close()
	ctx := context.Background()
	t.Cleanup(func() { r.Invalidate(ctx, "k") })

	_, err = r.Fetch(ctx, "k", time.Minute, func(ctx context.Context) ([]byte, error) {
		require.NoError(t, other.Invalidate(ctx, "k"))
		return []byte("stale"), nil
	})
	require.NoError(t, err)

	var calls atomic.Int32
	v, err := other.Fetch(ctx, "k", time.Minute, counting("fresh", &calls))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(v))
	assert.EqualValues(t, 1, calls.Load())
}
