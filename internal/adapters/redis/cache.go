package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// GetAvailability returns the cached available-unit count for a category,
// or ok=false on a miss.
func (c *Cache) GetAvailability(ctx context.Context, categoryID uuid.UUID) (int, bool, error) {
	val, err := c.client.Get(ctx, availKey(categoryID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

func (c *Cache) SetAvailability(ctx context.Context, categoryID uuid.UUID, available int, ttl time.Duration) error {
	return c.client.Set(ctx, availKey(categoryID), available, ttl).Err()
}

// Invalidate drops the cached availability after a confirm or sweep moved
// the real numbers.
func (c *Cache) Invalidate(ctx context.Context, categoryID uuid.UUID) error {
	return c.client.Del(ctx, availKey(categoryID)).Err()
}

func availKey(categoryID uuid.UUID) string {
	return "avail:" + categoryID.String()
}
