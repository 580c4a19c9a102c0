// Package cache memoizes upstream fetch outcomes in Redis for a fixed TTL so
// repeated identical queries don't re-contact the marketplace APIs.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brickradar/internal/model"
	"brickradar/internal/pkg/metrics"
	"brickradar/internal/sources"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// KeyPrefix namespaces all cached fetch outcomes.
const KeyPrefix = "brickradar:apicache"

// Key identifies one idempotent fetch: the operation, its canonicalized
// parameters, and a fingerprint of the credentials the operation runs under.
// Built once per fetch; rotating credentials yields a different key, so stale
// unauthorized entries are never served to new credentials.
type Key struct {
	Op          string
	Params      map[string]any
	Credentials string // credential fingerprint, empty for unauthenticated ops
}

// RedisKey renders the storage key.
func (k Key) RedisKey() string {
	cred := k.Credentials
	if cred == "" {
		cred = "-"
	}
	return fmt.Sprintf("%s:%s:%s:%s", KeyPrefix, k.Op, model.HashParams(k.Params), cred)
}

// FetchFunc performs the live upstream call.
type FetchFunc func(ctx context.Context) sources.Outcome

// Cache is a TTL cache over fetch outcomes. Success and upstream-error
// outcomes are both cached (errors with a shorter TTL) so a failing upstream
// is not hammered. A nil or unreachable Redis degrades to live fetches; the
// cache is an optimization, not the source of truth.
type Cache struct {
	rdb      *redis.Client
	ttl      time.Duration
	errorTTL time.Duration
	group    singleflight.Group
	logger   *slog.Logger
}

// New creates a cache. errorTTL bounds how long upstream-error outcomes
// stick; pass the same value as ttl to cache errors for the full window.
func New(rdb *redis.Client, ttl, errorTTL time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		rdb:      rdb,
		ttl:      ttl,
		errorTTL: errorTTL,
		logger:   logger,
	}
}

// GetOrFetch returns the cached outcome for key when present and fresh,
// otherwise invokes fetch once (concurrent identical keys are collapsed) and
// caches its outcome. The second return reports whether the outcome was
// served from cache.
func (c *Cache) GetOrFetch(ctx context.Context, key Key, fetch FetchFunc) (sources.Outcome, bool) {
	if c == nil || c.rdb == nil {
		metrics.CacheRequestsTotal.WithLabelValues(key.Op, "bypass").Inc()
		return fetch(ctx), false
	}

	rk := key.RedisKey()
	if out, ok := c.lookup(ctx, rk); ok {
		metrics.CacheRequestsTotal.WithLabelValues(key.Op, "hit").Inc()
		return out, true
	}
	metrics.CacheRequestsTotal.WithLabelValues(key.Op, "miss").Inc()

	v, _, _ := c.group.Do(rk, func() (any, error) {
		// Another goroutine may have filled the entry while we waited.
		if out, ok := c.lookup(ctx, rk); ok {
			return out, nil
		}
		out := fetch(ctx)
		c.store(ctx, rk, out)
		return out, nil
	})

	return v.(sources.Outcome), false
}

func (c *Cache) lookup(ctx context.Context, rk string) (sources.Outcome, bool) {
	blob, err := c.rdb.Get(ctx, rk).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.CacheErrorsTotal.Inc()
			c.logger.Warn("cache read failed, falling back to live fetch",
				slog.String("key", rk),
				slog.String("error", err.Error()))
		}
		return sources.Outcome{}, false
	}

	var out sources.Outcome
	if err := json.Unmarshal(blob, &out); err != nil {
		metrics.CacheErrorsTotal.Inc()
		c.logger.Warn("cache entry corrupt, refetching",
			slog.String("key", rk),
			slog.String("error", err.Error()))
		return sources.Outcome{}, false
	}
	return out, true
}

func (c *Cache) store(ctx context.Context, rk string, out sources.Outcome) {
	blob, err := json.Marshal(out)
	if err != nil {
		c.logger.Warn("cache encode failed", slog.String("key", rk), slog.String("error", err.Error()))
		return
	}

	ttl := c.ttl
	if !out.Ok() {
		ttl = c.errorTTL
	}

	if err := c.rdb.Set(ctx, rk, blob, ttl).Err(); err != nil {
		metrics.CacheErrorsTotal.Inc()
		c.logger.Warn("cache write failed", slog.String("key", rk), slog.String("error", err.Error()))
	}
}

// Clear drops every cached outcome regardless of age. There is no selective
// per-key invalidation.
func (c *Cache) Clear(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}

	var cursor uint64
	var keys []string
	for {
		var batch []string
		var err error
		batch, cursor, err = c.rdb.Scan(ctx, cursor, KeyPrefix+":*", 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan: %w", err)
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			break
		}
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
	}
	return nil
}
