package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/searcher/query"
	"github.com/Hikikomori041/m2-projetweb/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (b *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	v, ok := b.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (b *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.data[key] = value
	return nil
}

func (b *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

func sampleResult(gen uint64) *Result {
	return &Result{Generation: gen, Hits: []query.Hit{{DocID: "1", Score: 1.5}, {DocID: "2", Score: 0.7}}}
}

func TestGetOrComputeCachesPerGeneration(t *testing.T) {
	ctx := context.Background()
	c := New(newMemBackend(), time.Minute, nil)

	var calls atomic.Int32
	compute := func() (*Result, error) {
		calls.Add(1)
		return sampleResult(1), nil
	}
	key := Key{Generation: 1, Query: "service prix", Limit: 10}

	got, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, sampleResult(1), got)

	got, hit, err = c.GetOrCompute(ctx, Key{Generation: 1, Query: "  SERVICE   prix ", Limit: 10}, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "1", got.Hits[0].DocID)
	assert.Equal(t, int32(1), calls.Load())

	key.Generation = 2
	_, hit, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit, "a new generation never reads older entries")
	assert.Equal(t, int32(2), calls.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestKeysDistinguishModeLimitAndOrder(t *testing.T) {
	base := Key{Generation: 3, Query: "service prix", Limit: 10}
	keys := map[string]bool{buildKey(base): true}
	for _, k := range []Key{
		{Generation: 3, Query: "prix service", Limit: 10},
		{Generation: 3, Query: "service prix", Limit: 5},
		{Generation: 3, Query: "service prix", Limit: 10, Boolean: true},
		{Generation: 3, Query: "service prix prix", Limit: 10},
	} {
		name := buildKey(k)
		assert.False(t, keys[name], "key collision for %+v", k)
		keys[name] = true
	}
	assert.True(t, strings.HasPrefix(buildKey(base), keyPrefix+"3:"))
}

func TestComputeErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(newMemBackend(), time.Minute, nil)
	boom := errors.New("boom")
	key := Key{Generation: 1, Query: "x", Limit: 10}

	_, _, err := c.GetOrCompute(ctx, key, func() (*Result, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, hit, err := c.GetOrCompute(ctx, key, func() (*Result, error) { return sampleResult(1), nil })
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestBackendFailureFallsBackToCompute(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	backend.err = errors.New("connection refused")
	c := New(backend, time.Minute, nil)

	for range 10 {
		got, hit, err := c.GetOrCompute(ctx, Key{Generation: 1, Query: "x"}, func() (*Result, error) {
			return sampleResult(1), nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Len(t, got.Hits, 2)
	}
	assert.Equal(t, "open", c.breaker.State().String())
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	key := Key{Generation: 1, Query: "x", Limit: 10}
	c.Set(ctx, key, sampleResult(1))
	backend.data["unrelated"] = []byte("keep")

	require.NoError(t, c.Invalidate(ctx))
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
	assert.Contains(t, backend.data, "unrelated")
}

func TestCacheMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	c := New(newMemBackend(), time.Minute, m)
	key := Key{Generation: 1, Query: "x", Limit: 10}

	c.Get(ctx, key)
	c.Set(ctx, key, sampleResult(1))
	c.Get(ctx, key)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))
}
