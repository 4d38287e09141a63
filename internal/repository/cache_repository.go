package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/redis/go-redis/v9"
)

// CacheRepository keeps recently read guest links close to the dispatcher.
// It is never authoritative: the registry's Save rejects stale copies.
type CacheRepository interface {
	Get(ctx context.Context, id string) (*models.GuestLink, error)
	Set(ctx context.Context, link *models.GuestLink, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type cacheRepository struct {
	redis *RedisDB
}

func NewCacheRepository(redis *RedisDB) CacheRepository {
	return &cacheRepository{redis: redis}
}

func (r *cacheRepository) Get(ctx context.Context, id string) (*models.GuestLink, error) {
	data, err := r.redis.Client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var link models.GuestLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guest link: %w", err)
	}

	return &link, nil
}

func (r *cacheRepository) Set(ctx context.Context, link *models.GuestLink, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal guest link: %w", err)
	}

	return r.redis.Client.Set(ctx, r.key(link.ID), data, ttl).Err()
}

func (r *cacheRepository) Delete(ctx context.Context, id string) error {
	return r.redis.Client.Del(ctx, r.key(id)).Err()
}

func (r *cacheRepository) key(id string) string {
	return "guest_link:" + id
}

type noopCache struct{}

// NewNoopCache is used when Redis is not configured.
func NewNoopCache() CacheRepository {
	return noopCache{}
}

func (noopCache) Get(context.Context, string) (*models.GuestLink, error) {
	return nil, ErrCacheMiss
}

func (noopCache) Set(context.Context, *models.GuestLink, time.Duration) error {
	return nil
}

func (noopCache) Delete(context.Context, string) error {
	return nil
}
