package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"retailpos/backend/internal/domain"
)

const (
	settingsKey       = "pos:settings"
	productsKeyPrefix = "pos:products:"
)

type RedisCatalogCache struct {
	client *redis.Client
}

func NewRedisCatalogCache(addr string, password string, db int) *RedisCatalogCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCatalogCache{client: client}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) Close() error {
	return c.client.Close()
}

func (c *RedisCatalogCache) GetSettings(ctx context.Context) (*domain.Settings, bool, error) {
	val, err := c.client.Get(ctx, settingsKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var settings domain.Settings
	if err := json.Unmarshal([]byte(val), &settings); err != nil {
		return nil, false, err
	}
	return &settings, true, nil
}

func (c *RedisCatalogCache) SetSettings(ctx context.Context, settings *domain.Settings, ttl time.Duration) error {
	if settings == nil {
		return nil
	}
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, settingsKey, payload, ttl).Err()
}

func (c *RedisCatalogCache) InvalidateSettings(ctx context.Context) error {
	return c.client.Del(ctx, settingsKey).Err()
}

func (c *RedisCatalogCache) GetProducts(ctx context.Context, storeID string) ([]domain.Product, bool, error) {
	val, err := c.client.Get(ctx, productsKeyPrefix+storeID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var products []domain.Product
	if err := json.Unmarshal([]byte(val), &products); err != nil {
		return nil, false, err
	}
	return products, true, nil
}

func (c *RedisCatalogCache) SetProducts(ctx context.Context, storeID string, products []domain.Product, ttl time.Duration) error {
	payload, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, productsKeyPrefix+storeID, payload, ttl).Err()
}

func (c *RedisCatalogCache) InvalidateProducts(ctx context.Context, storeID string) error {
	return c.client.Del(ctx, productsKeyPrefix+storeID).Err()
}
