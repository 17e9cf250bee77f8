package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// DeleteCached deletes data and clears the cache.
// This implements write-through pattern by invalidating cache on delete.
//
// Example:
//
//	err := DeleteCached(ctx, cache, "judge:log:123", func(ctx context.Context) error {
//		return store.Delete(ctx, "123")
//	})
func DeleteCached(
	ctx context.Context,
	cache Cache,
	key string,
	fn func(context.Context) error,
) error {
	// Execute the delete
	if err := fn(ctx); err != nil {
		return err
	}

	// Delete the cache
	_ = cache.Del(ctx, key)
	return nil
}

// JitterTTL shaves a random slice (up to 10%) off a TTL so entries
// written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
