package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rotaclock/internal/attendance/models"
)

// missMarker is stored for coordinates the provider could not resolve.
const missMarker = "null"

// Redis is a shared TTL cache. Values are JSON facilities; misses are cached
// too so an unresolvable coordinate is not retried on every clock-in.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a Redis cache. prefix namespaces keys, e.g. "rotaclock:".
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) (*models.Facility, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	if raw == missMarker {
		return nil, true, nil
	}
	var f models.Facility
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, false, fmt.Errorf("decode cached facility: %w", err)
	}
	return &f, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, facility *models.Facility, ttl time.Duration) error {
	value := missMarker
	if facility != nil {
		b, err := json.Marshal(facility)
		if err != nil {
			return fmt.Errorf("encode facility: %w", err)
		}
		value = string(b)
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
