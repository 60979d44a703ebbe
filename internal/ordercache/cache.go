// Package ordercache caches gateway orders. Orders never change after they are
// created, so a cached copy is as good as a fresh fetch.
package ordercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

const keyPrefix = "dashmetrics:order:"

// Cache stores orders by id.
type Cache interface {
	Get(ctx context.Context, orderID string) (models.Order, bool, error)
	Set(ctx context.Context, order models.Order) error
}

// Memory is an in-process LRU cache with per-entry TTL.
type Memory struct {
	lru *lru.LRU[string, models.Order]
}

// NewMemory creates a Memory cache holding at most size orders for ttl each.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{lru: lru.NewLRU[string, models.Order](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, orderID string) (models.Order, bool, error) {
	o, ok := m.lru.Get(orderID)
	return o, ok, nil
}

func (m *Memory) Set(_ context.Context, order models.Order) error {
	m.lru.Add(order.ID, order)
	return nil
}

// Redis stores orders as JSON strings with a TTL.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Connect parses a redis:// URL, pings the server and returns a Redis cache.
func Connect(ctx context.Context, redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ordercache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ordercache: ping redis: %w", err)
	}
	return NewRedis(client, ttl), nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Get(ctx context.Context, orderID string) (models.Order, bool, error) {
	raw, err := r.client.Get(ctx, keyPrefix+orderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Order{}, false, nil
	}
	if err != nil {
		return models.Order{}, false, fmt.Errorf("ordercache: get %s: %w", orderID, err)
	}

	var order models.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return models.Order{}, false, fmt.Errorf("ordercache: decode %s: %w", orderID, err)
	}
	return order, true, nil
}

func (r *Redis) Set(ctx context.Context, order models.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("ordercache: encode %s: %w", order.ID, err)
	}
	if err := r.client.Set(ctx, keyPrefix+order.ID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("ordercache: set %s: %w", order.ID, err)
	}
	return nil
}
