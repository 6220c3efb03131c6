package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/amazon-clone-api/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "cart:"
	versionField = "v"
	dataField    = "data"

	defaultTTL    = 15 * time.Minute
	defaultJitter = 5 * time.Minute
)

// Each cart is a hash of {v: version, data: JSON}. The write only lands when
// the incoming version is strictly newer than the cached one.
var setIfNewer = redis.NewScript(`
local cached = redis.call('HGET', KEYS[1], ARGV[1])
if cached and tonumber(cached) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	jitter time.Duration
}

type RedisOption func(*RedisCache)

// WithTTL sets the base expiry and the random spread added on top of it so
// carts written together do not expire together.
func WithTTL(ttl, jitter time.Duration) RedisOption {
	return func(r *RedisCache) {
		r.ttl = ttl
		r.jitter = jitter
	}
}

func NewRedisCache(client *redis.Client, opts ...RedisOption) *RedisCache {
	r := &RedisCache{
		client: client,
		ttl:    defaultTTL,
		jitter: defaultJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	raw, err := r.client.HGet(ctx, cacheKey(userID), dataField).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("read cached cart: %w", err)
	}

	cart := new(domain.Cart)
	if err := json.Unmarshal(raw, cart); err != nil {
		return nil, fmt.Errorf("decode cached cart: %w", err)
	}
	return cart, nil
}

func (r *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart for cache: %w", err)
	}

	args := []interface{}{versionField, cart.Version, dataField, payload, r.expiry().Milliseconds()}
	if err := setIfNewer.Run(ctx, r.client, []string{cacheKey(userID)}, args...).Err(); err != nil {
		return fmt.Errorf("write cached cart: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("drop cached cart: %w", err)
	}
	return nil
}

func (r *RedisCache) expiry() time.Duration {
	if r.jitter <= 0 {
		return r.ttl
	}
	return r.ttl + rand.N(r.jitter)
}

func cacheKey(userID string) string {
	return keyPrefix + userID
}
