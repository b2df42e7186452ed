package permissions

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL bounds staleness for inputs the cache cannot observe, such
// as module-gating changes made outside this engine.
const DefaultCacheTTL = 5 * time.Minute

// DefaultCacheSize is the per-shard entry bound.
const DefaultCacheSize = 4096

const cacheShards = 16

// Cache memoizes resolved permission sets per (tenant, user). It is sharded
// so invalidation for one key never contends with reads across all tenants,
// and each key carries a generation counter: a fill computed before an
// invalidation committed is discarded rather than resurrecting stale data.
//
// An optional RemoteTier mirrors entries for multi-process deployments.
// Coherency across processes is TTL-bounded only.
type Cache struct {
	ttl    time.Duration
	size   int
	shards [cacheShards]*cacheShard
	remote RemoteTier

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
	evictions     atomic.Int64
}

type cacheShard struct {
	mu  sync.Mutex
	lru *lru.LRU[string, *ResolvedSet]
	gen map[string]genEntry
}

// genEntry is a key's invalidation epoch plus the time of its last bump, so
// long-idle epochs can be pruned.
type genEntry struct {
	gen    uint64
	bumped time.Time
}

// RemoteTier is an optional second cache level shared between processes.
type RemoteTier interface {
	Get(ctx context.Context, key string) (*ResolvedSet, bool)
	Set(ctx context.Context, key string, set *ResolvedSet)
	Del(ctx context.Context, keys ...string)
}

// CacheStats is a point-in-time snapshot of cache activity.
type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
	Evictions     int64 `json:"evictions"`
	Entries       int   `json:"entries"`
	Generations   int   `json:"generations"`
}

// NewCache creates a cache with the given per-shard size and entry TTL.
// Zero values select the defaults.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	c := &Cache{ttl: ttl, size: size}
	for i := range c.shards {
		shard := &cacheShard{gen: make(map[string]genEntry)}
		shard.lru = lru.NewLRU[string, *ResolvedSet](size, func(string, *ResolvedSet) {
			c.evictions.Add(1)
		}, ttl)
		c.shards[i] = shard
	}
	return c
}

// WithRemote attaches a shared second tier. Entries are mirrored on put and
// deleted on invalidation; remote failures degrade to the local tier.
func (c *Cache) WithRemote(remote RemoteTier) *Cache {
	c.remote = remote
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func cacheKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

func (c *Cache) shard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%cacheShards]
}

// Get returns the cached set for (tenant, user), consulting the remote tier
// on a local miss.
func (c *Cache) Get(ctx context.Context, tenantID, userID string) (*ResolvedSet, bool) {
	key := cacheKey(tenantID, userID)
	shard := c.shard(key)

	shard.mu.Lock()
	set, ok := shard.lru.Get(key)
	shard.mu.Unlock()
	if ok {
		c.hits.Add(1)
		return set, true
	}

	if c.remote != nil {
		if set, ok := c.remote.Get(ctx, key); ok {
			shard.mu.Lock()
			shard.lru.Add(key, set)
			shard.mu.Unlock()
			c.hits.Add(1)
			return set, true
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Generation returns the current invalidation epoch for a key. Resolvers
// read it before loading from the store and pass it back to PutIfUnchanged.
func (c *Cache) Generation(tenantID, userID string) uint64 {
	key := cacheKey(tenantID, userID)
	shard := c.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.gen[key].gen
}

// PutIfUnchanged publishes a resolved set unless the key was invalidated
// since gen was observed. Returns whether the entry was stored.
func (c *Cache) PutIfUnchanged(ctx context.Context, set *ResolvedSet, gen uint64) bool {
	key := cacheKey(set.TenantID, set.UserID)
	shard := c.shard(key)

	shard.mu.Lock()
	if shard.gen[key].gen != gen {
		shard.mu.Unlock()
		return false
	}
	shard.lru.Add(key, set)
	shard.mu.Unlock()

	if c.remote != nil {
		c.remote.Set(ctx, key, set)
	}
	return true
}

// Invalidate drops the entry for one (tenant, user) and bumps its
// generation so in-flight fills cannot re-publish stale data. It completes
// before the triggering mutation is acknowledged.
func (c *Cache) Invalidate(ctx context.Context, tenantID, userID string) {
	c.invalidateKeys(ctx, []string{cacheKey(tenantID, userID)})
}

// InvalidateUsers drops the entries for every given user of a tenant.
func (c *Cache) InvalidateUsers(ctx context.Context, tenantID string, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		keys = append(keys, cacheKey(tenantID, userID))
	}
	c.invalidateKeys(ctx, keys)
}

func (c *Cache) invalidateKeys(ctx context.Context, keys []string) {
	now := time.Now()
	for _, key := range keys {
		shard := c.shard(key)
		shard.mu.Lock()
		e := shard.gen[key]
		e.gen++
		e.bumped = now
		shard.gen[key] = e
		shard.lru.Remove(key)
		c.pruneGensLocked(shard, now)
		shard.mu.Unlock()
		c.invalidations.Add(1)
	}
	if c.remote != nil {
		c.remote.Del(ctx, keys...)
	}
}

// pruneGensLocked drops generation entries with no recent bump once the map
// outgrows the shard's LRU capacity. A fill completes well under the entry
// TTL, so an epoch untouched for two TTLs has no in-flight reader left to
// fence against.
func (c *Cache) pruneGensLocked(shard *cacheShard, now time.Time) {
	if len(shard.gen) <= c.size {
		return
	}
	for key, e := range shard.gen {
		if now.Sub(e.bumped) >= 2*c.ttl {
			delete(shard.gen, key)
		}
	}
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() CacheStats {
	entries, gens := 0, 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		entries += shard.lru.Len()
		gens += len(shard.gen)
		shard.mu.Unlock()
	}
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Evictions:     c.evictions.Load(),
		Entries:       entries,
		Generations:   gens,
	}
}
