package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCacheEntries = 1000
	redisPingTimeout    = 3 * time.Second
)

// CachedProvider wraps a Provider with a two-tier cache:
// L1 in process memory, L2 in Redis when a URL is configured.
type CachedProvider struct {
	inner      Provider
	l1         sync.Map      // key -> *cacheEntry
	rdb        *redis.Client // nil if Redis unavailable
	ttl        time.Duration
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCachedProvider wraps inner. redisURL can be empty to disable L2; an
// unreachable Redis is logged and skipped.
func NewCachedProvider(inner Provider, redisURL string, ttl time.Duration) *CachedProvider {
	c := &CachedProvider{inner: inner, ttl: ttl, maxEntries: defaultCacheEntries}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Warnf("search cache: invalid redis URL, L2 disabled: %v", err)
		} else {
			rdb := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				log.Warnf("search cache: redis unreachable, L2 disabled: %v", err)
				rdb.Close()
			} else {
				c.rdb = rdb
				log.Infof("search cache: L2 redis connected at %s", opts.Addr)
			}
		}
	}

	log.Debugf("search cache: ttl=%s redis=%t", ttl, c.rdb != nil)
	return c
}

func (c *CachedProvider) Name() string {
	return c.inner.Name()
}

// Search returns cached results when present, otherwise queries the wrapped
// provider. Errors and empty result sets are not cached. The key ignores any
// caller key set with WithAPIKey, so a hit never reaches the upstream and the
// caller's key goes unchecked.
func (c *CachedProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	key := CacheKey(c.inner.Name(), strings.ToLower(strings.TrimSpace(query)), strconv.Itoa(maxResults))

	if results, ok := c.get(ctx, key); ok {
		return results, nil
	}

	results, err := c.inner.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		c.set(ctx, key, results)
	}
	return results, nil
}

// Stats returns cache hit/miss counters
func (c *CachedProvider) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the Redis connection, if any
func (c *CachedProvider) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// CacheKey builds a deterministic cache key from parts
func CacheKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("rs:%x", hash[:12])
}

func (c *CachedProvider) get(ctx context.Context, key string) ([]Result, bool) {
	if val, ok := c.l1.Load(key); ok {
		entry := val.(*cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			var out []Result
			if json.Unmarshal(entry.data, &out) == nil {
				log.Debugf("search cache: L1 hit %s", key)
				c.hits.Add(1)
				return out, true
			}
		}
		c.l1.Delete(key) // expired or corrupt
	}

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var out []Result
			if json.Unmarshal(data, &out) == nil {
				log.Debugf("search cache: L2 hit %s", key)
				c.hits.Add(1)
				c.store(key, data)
				return out, true
			}
		}
	}

	c.misses.Add(1)
	return nil, false
}

func (c *CachedProvider) set(ctx context.Context, key string, results []Result) {
	data, err := json.Marshal(results)
	if err != nil {
		return
	}

	c.store(key, data)

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			log.Debugf("search cache: L2 set failed: %v", err)
		}
	}
}

func (c *CachedProvider) store(key string, data []byte) {
	c.evictIfNeeded()
	c.l1.Store(key, &cacheEntry{data: data, expiresAt: time.Now().Add(c.ttl)})
}

// evictIfNeeded drops expired entries, then the oldest ones, until L1 has room
func (c *CachedProvider) evictIfNeeded() {
	count := 0
	c.l1.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count < c.maxEntries {
		return
	}

	now := time.Now()
	c.l1.Range(func(key, val any) bool {
		if now.After(val.(*cacheEntry).expiresAt) {
			c.l1.Delete(key)
			count--
		}
		return true
	})

	for count >= c.maxEntries {
		var oldestKey any
		var oldestAt time.Time
		c.l1.Range(func(key, val any) bool {
			entry := val.(*cacheEntry)
			if oldestKey == nil || entry.expiresAt.Before(oldestAt) {
				oldestKey, oldestAt = key, entry.expiresAt
			}
			return true
		})
		if oldestKey == nil {
			return
		}
		c.l1.Delete(oldestKey)
		count--
	}
}
