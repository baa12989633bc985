package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// MaxKeyLength is the longest key the Redis backend stores verbatim. Longer
// keys are folded into a fixed-size hash.
const MaxKeyLength = 512

type redisBackend struct {
	client *redis.Client
	cfg    config
}

var _ Backend = (*redisBackend)(nil)

// NewRedis returns a new Backend stored in Redis.
// The caller owns the redis.Client lifecycle.
func NewRedis(client *redis.Client, opts ...Option) Backend {
	return &redisBackend{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (c *redisBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisBackend) prefixKey(key string) string {
	if len(key) > MaxKeyLength {
		key = "h:" + strconv.FormatUint(xxhash.Sum64String(key), 16)
	}
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisBackend) Get(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := c.client.Get(qctx, c.prefixKey(key)).Bytes()
	if err == redis.Nil {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, encoded(data), nil
}

func (c *redisBackend) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return err
	}
	var expiration time.Duration // no expiry
	switch {
	case ttl == 0:
		expiration = time.Millisecond
	case ttl > 0:
		expiration = ttl
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.client.Set(qctx, c.prefixKey(key), data, expiration).Err()
}

func (c *redisBackend) Delete(ctx context.Context, key string) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.client.Del(qctx, c.prefixKey(key)).Err()
}

// Clear removes every key under the configured prefix, or flushes the
// selected database when no prefix is set.
func (c *redisBackend) Clear(ctx context.Context) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if c.cfg.prefix == "" {
		return c.client.FlushDB(qctx).Err()
	}
	iter := c.client.Scan(qctx, 0, c.cfg.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(qctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(qctx, keys...).Err()
}

func (c *redisBackend) Exists(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	n, err := c.client.Exists(qctx, c.prefixKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
