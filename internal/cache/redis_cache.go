package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"restopos/backend/internal/domain"
)

type RedisTicketCache struct {
	client *redis.Client
}

func NewRedisTicketCache(addr string, password string, db int) *RedisTicketCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisTicketCache{client: client}
}

func (c *RedisTicketCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTicketCache) Close() error {
	return c.client.Close()
}

func (c *RedisTicketCache) Get(ctx context.Context, folio string) (*domain.TicketView, bool, error) {
	val, err := c.client.Get(ctx, ticketKey(folio)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var view domain.TicketView
	if err := json.Unmarshal([]byte(val), &view); err != nil {
		return nil, false, err
	}
	return &view, true, nil
}

func (c *RedisTicketCache) Set(ctx context.Context, folio string, view *domain.TicketView, ttl time.Duration) error {
	if view == nil {
		return nil
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, ticketKey(folio), payload, ttl).Err()
}

func ticketKey(folio string) string {
	return "ticket:" + folio
}
