package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmailCache recuerda emails ya registrados. Un hit es solo una pista: el
// servicio lo confirma contra el store y descarta las marcas obsoletas.
type EmailCache interface {
	Seen(ctx context.Context, email string) (bool, error)
	Remember(ctx context.Context, email string) error
	Forget(ctx context.Context, email string) error
}

type redisKV interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisEmailCache struct {
	client  redisKV
	ttl     time.Duration
	prefix  string
	timeout time.Duration
}

// NewRedisEmailCache crea el cache. namespace identifica el store para que dos
// stores distintos no compartan marcas.
func NewRedisEmailCache(client *redis.Client, ttl time.Duration, namespace string) EmailCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisEmailCache{
		client:  client,
		ttl:     ttl,
		prefix:  "auth:email:" + namespace + ":",
		timeout: 300 * time.Millisecond,
	}
}

func (c *redisEmailCache) Seen(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	n, err := c.client.Exists(ctx, c.key(email)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *redisEmailCache) Remember(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Set(ctx, c.key(email), 1, c.ttl).Err()
}

func (c *redisEmailCache) Forget(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Del(ctx, c.key(email)).Err()
}

// key evita guardar el email en claro en Redis.
func (c *redisEmailCache) key(email string) string {
	sum := sha256.Sum256([]byte(email))
	return c.prefix + hex.EncodeToString(sum[:])
}
