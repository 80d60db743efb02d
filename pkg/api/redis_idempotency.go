package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore shares the idempotency cache across replicas through
// Redis, so a retried approval lands on any instance and still replays.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyStore connects a Redis-backed idempotency store.
func NewRedisIdempotencyStore(addr, password string, db int, ttl time.Duration) *RedisIdempotencyStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisIdempotencyStore{client: rdb, ttl: ttl}
}

func redisIdemKey(key string) string { return "idempotency:" + key }

// Check returns a cached response if present; Redis errors fail open.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key string) (*CachedResponse, bool) {
	raw, err := s.client.Get(ctx, redisIdemKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("idempotency check failed, processing request", "error", err)
		}
		return nil, false
	}
	var cached CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

// Set stores a response with the configured TTL.
func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, statusCode int, headers http.Header, body []byte) {
	raw, err := json.Marshal(&CachedResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		CachedAt:   time.Now(),
	})
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, redisIdemKey(key), raw, s.ttl).Err(); err != nil {
		slog.Warn("idempotency cache write failed", "error", err)
	}
}

// Close releases the Redis connection.
func (s *RedisIdempotencyStore) Close() error { return s.client.Close() }
