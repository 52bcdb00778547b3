// Package cache publishes invalidation messages for the read-through caches
// used by the storefront's read paths. The core engine never reads these
// caches; it only tells them when product documents changed so the next
// shopper does not see stale stock.
package cache

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Invalidator drops cached product reads after a stock- or price-mutating
// commit. Implementations must be safe for concurrent use.
type Invalidator interface {
	InvalidateProducts(ctx context.Context, ids ...string) error
}

// Noop is used when no cache backend is configured.
type Noop struct{}

var _ Invalidator = Noop{}

// InvalidateProducts does nothing.
func (Noop) InvalidateProducts(context.Context, ...string) error { return nil }

// Redis invalidates cached products in Redis: it deletes the per-product and
// list keys and publishes the changed IDs so other replicas can drop local
// copies.
type Redis struct {
	client  *redis.Client
	channel string
}

var _ Invalidator = (*Redis)(nil)

// Cache key layout shared with the storefront read paths.
const (
	productKeyPrefix = "product:"
	productListKey   = "products:all"

	// DefaultChannel is the pub/sub channel invalidation messages go to.
	DefaultChannel = "catalog.invalidate"
)

// NewRedis returns a Redis invalidator publishing on the given channel.
// An empty channel selects DefaultChannel.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// InvalidateProducts deletes the cache keys for the given products and
// publishes one message listing the changed IDs.
func (r *Redis) InvalidateProducts(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, productKeyPrefix+id)
	}
	keys = append(keys, productListKey)

	pipe := r.client.Pipeline()
	pipe.Del(ctx, keys...)
	pipe.Publish(ctx, r.channel, strings.Join(ids, ","))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "invalidate products")
	}
	return nil
}
