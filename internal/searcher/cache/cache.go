// Package cache keeps search results in Redis. Keys embed the index
// generation, so a commit makes older entries unreachable without an
// explicit invalidation; they expire with their TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/searcher/query"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
	"github.com/Hikikomori041/m2-projetweb/pkg/metrics"
	pkgredis "github.com/Hikikomori041/m2-projetweb/pkg/redis"
	"github.com/Hikikomori041/m2-projetweb/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "evidx:search:"

// Backend is the subset of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies a cached search.
type Key struct {
	Generation uint64
	Query      string
	Limit      int
	Boolean    bool
}

// Result is what gets cached for a Key.
type Result struct {
	Generation uint64      `json:"generation"`
	Hits       []query.Hit `json:"hits"`
}

// backendTimeout bounds a single Redis round trip; a slow cache counts as a miss.
const backendTimeout = 100 * time.Millisecond

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
	if m != nil {
		cbCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("redis-cache", cbCfg),
		metrics: m,
		logger:  logger.WithComponent("query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, key Key) (*Result, bool) {
	k := buildKey(key)
	var data []byte
	err := c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, backendTimeout, "cache get", func(ctx context.Context) error {
			v, err := c.backend.Get(ctx, k)
			if pkgredis.IsNilError(err) {
				// A missing key is not a backend failure.
				return nil
			}
			if err != nil {
				return err
			}
			data = v
			return nil
		})
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	if data == nil {
		c.miss()
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "query", key.Query, "generation", key.Generation)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, key Key, result *Result) {
	k := buildKey(key)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, backendTimeout, "cache set", func(ctx context.Context) error {
			return c.backend.Set(ctx, k, data, c.ttl)
		})
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached result for key or computes and stores
// it. Concurrent misses on the same key compute once.
func (c *QueryCache) GetOrCompute(ctx context.Context, key Key, compute func() (*Result, error)) (*Result, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(buildKey(key), func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Result), false, nil
}

// Invalidate drops every cached search.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(key Key) string {
	mode := "or"
	if key.Boolean {
		mode = "bool"
	}
	raw := fmt.Sprintf("%s|%s|limit=%d", mode, normalizeQuery(key.Query, key.Boolean), key.Limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%d:%x", keyPrefix, key.Generation, hash[:16])
}

// normalizeQuery folds case and whitespace. Word order and repetitions
// change the ranking, so they are kept. Boolean operators are case
// sensitive and are left alone.
func normalizeQuery(q string, boolean bool) string {
	if boolean {
		return strings.Join(strings.Fields(q), " ")
	}
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
