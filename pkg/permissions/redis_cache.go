package permissions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisTier mirrors resolved sets to Redis so multiple engine processes can
// share fills. It is strictly best-effort: any Redis failure degrades to the
// local tier and is never allowed to widen a decision.
type RedisTier struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTier creates a remote tier with the given key prefix and TTL.
// The TTL should match the local cache so both tiers age together.
func NewRedisTier(client *redis.Client, prefix string, ttl time.Duration) *RedisTier {
	if prefix == "" {
		prefix = "tollgate:resolved:"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisTier{client: client, prefix: prefix, ttl: ttl}
}

// Get fetches and decodes a resolved set.
func (t *RedisTier) Get(ctx context.Context, key string) (*ResolvedSet, bool) {
	data, err := t.client.Get(ctx, t.prefix+key).Result()
	if err != nil {
		return nil, false
	}

	var set ResolvedSet
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		return nil, false
	}
	return &set, true
}

// Set encodes and stores a resolved set with the tier TTL.
func (t *RedisTier) Set(ctx context.Context, key string, set *ResolvedSet) {
	data, err := json.Marshal(set)
	if err != nil {
		return
	}
	t.client.Set(ctx, t.prefix+key, data, t.ttl)
}

// Del removes the given keys.
func (t *RedisTier) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, t.prefix+key)
	}
	t.client.Del(ctx, prefixed...)
}
