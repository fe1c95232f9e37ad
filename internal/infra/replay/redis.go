package replay

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "consentd:replay:"

// RedisGuard is the shared consumed-signature set for multi-process
// deployments. SET NX carries the atomic check-and-insert; retention is
// enforced by key TTL, so no sweeper is needed.
type RedisGuard struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisGuard(addr, password string, db int, retention, minRetention time.Duration) (*RedisGuard, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if retention < minRetention {
		retention = minRetention
	}
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisGuard{client: client, retention: retention}, nil
}

func (g *RedisGuard) TryReserve(ctx context.Context, signature []byte) (bool, error) {
	ok, err := g.client.SetNX(ctx, redisKeyPrefix+sigKey(signature), "1", g.retention).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, signature []byte) error {
	return g.client.Del(ctx, redisKeyPrefix+sigKey(signature)).Err()
}
