package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "labelrelay:order-claim:"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisGate shares claims between relay processes through SET NX.
type RedisGate struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisGate(client redis.UniversalClient, ttl time.Duration) *RedisGate {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &RedisGate{client: client, ttl: ttl}
}

// DialRedis connects and pings before returning the gate.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisGate, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisGate(client, cfg.TTL), nil
}

func (g *RedisGate) Claim(ctx context.Context, orderID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+orderID, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim order %s: %w", orderID, err)
	}
	return ok, nil
}

func (g *RedisGate) Release(ctx context.Context, orderID string) error {
	if err := g.client.Del(ctx, keyPrefix+orderID).Err(); err != nil {
		return fmt.Errorf("failed to release order %s: %w", orderID, err)
	}
	return nil
}

func (g *RedisGate) Close() error {
	return g.client.Close()
}
