package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the selection when no key is configured.
const DefaultRedisKey = "network-monitor:best_server"

// RedisCache keeps the selection as a JSON document under a single key,
// without expiry.
type RedisCache struct {
	client *redis.Client
	key    string
}

// NewRedisCache connects to addr and verifies the connection with PING.
func NewRedisCache(addr, password string, db int, key string) (*RedisCache, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if key == "" {
		key = DefaultRedisKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisCache{client: client, key: key}, nil
}

func (r *RedisCache) Load(ctx context.Context) (Selection, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Selection{}, nil
	}
	if err != nil {
		return Selection{}, fmt.Errorf("failed to get %s from redis: %w", r.key, err)
	}
	return decodeSelection(data)
}

func (r *RedisCache) Save(ctx context.Context, sel Selection) error {
	data, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode selection cache: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store %s in redis: %w", r.key, err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
