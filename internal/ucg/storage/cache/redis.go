package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ucgraph/core/internal/ucg"
)

// Redis is the production Performance Cache, backed by a Redis instance
// configured with `maxmemory-policy volatile-lru` — protected keys are
// written with no expiry (and are therefore the only eviction-proof keys
// under that policy), expendable keys carry an explicit TTL so Redis's own
// LRU sweep reclaims them first. This is the literal reading of the
// `pc_eviction_policy=volatile_lru` configuration option.
type Redis struct {
	client        *redis.Client
	expendableTTL time.Duration
}

// NewRedis wraps an already-configured *redis.Client.
func NewRedis(client *redis.Client, expendableTTL time.Duration) *Redis {
	if expendableTTL <= 0 {
		expendableTTL = 5 * time.Minute
	}
	return &Redis{client: client, expendableTTL: expendableTTL}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, class ucg.KeyClass) error {
	if class == ucg.Protected {
		return r.client.Set(ctx, key, value, 0).Err()
	}
	return r.client.Set(ctx, key, value, r.expendableTTL).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// DeletePrefix scans for matching keys in batches rather than KEYS, which
// would block the Redis event loop proportional to database size.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 500 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.client.Del(ctx, batch...).Err()
	}
	return nil
}

// FlushProtected clears every protected key class so RebuildPC can
// repopulate them from LC; expendable keys are left untouched since they
// carry their own TTL and are unrelated to structural correctness.
func (r *Redis) FlushProtected(ctx context.Context) error {
	for _, prefix := range []string{"entity:", "assoc:", "children:", "word:"} {
		if err := r.DeletePrefix(ctx, prefix); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) Available(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}

var _ ucg.PerformanceCache = (*Redis)(nil)

// Fallback composes a primary Redis cache with a Local fallback: reads and
// writes prefer primary but transparently degrade to local when primary is
// unavailable, per §4.4.4's "PC unavailable" failure semantics.
type Fallback struct {
	primary  ucg.PerformanceCache
	fallback ucg.PerformanceCache
}

func NewFallback(primary, fallback ucg.PerformanceCache) *Fallback {
	return &Fallback{primary: primary, fallback: fallback}
}

func (f *Fallback) pick(ctx context.Context) ucg.PerformanceCache {
	if f.primary.Available(ctx) {
		return f.primary
	}
	return f.fallback
}

func (f *Fallback) Get(ctx context.Context, key string) (string, bool, error) {
	return f.pick(ctx).Get(ctx, key)
}
func (f *Fallback) Set(ctx context.Context, key, value string, class ucg.KeyClass) error {
	return f.pick(ctx).Set(ctx, key, value, class)
}
func (f *Fallback) Delete(ctx context.Context, key string) error { return f.pick(ctx).Delete(ctx, key) }
func (f *Fallback) DeletePrefix(ctx context.Context, prefix string) error {
	return f.pick(ctx).DeletePrefix(ctx, prefix)
}
func (f *Fallback) FlushProtected(ctx context.Context) error { return f.pick(ctx).FlushProtected(ctx) }
func (f *Fallback) Available(ctx context.Context) bool       { return true }

var _ ucg.PerformanceCache = (*Fallback)(nil)
