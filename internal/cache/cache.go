package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/driftai/driftd/pkg/models"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error

	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)

	SetExportProgress(ctx context.Context, progress models.ExportProgress, ttl time.Duration) error
	GetExportProgress(ctx context.Context, exportID string) (*models.ExportProgress, bool, error)
	MarkExportCancelled(ctx context.Context, exportID string, ttl time.Duration) error
	ExportCancelled(ctx context.Context, exportID string) (bool, error)

	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error {
	return c.client.Set(ctx, JobStatusKey(jobID), status, ttl).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error) {
	val, err := c.client.Get(ctx, JobStatusKey(jobID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetExportProgress stores the progress record as JSON so the progress
// endpoint can serve it without touching postgres.
func (c *RedisCache) SetExportProgress(ctx context.Context, progress models.ExportProgress, ttl time.Duration) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, ExportProgressKey(progress.ExportID), data, ttl).Err()
}

func (c *RedisCache) GetExportProgress(ctx context.Context, exportID string) (*models.ExportProgress, bool, error) {
	val, err := c.client.Get(ctx, ExportProgressKey(exportID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var progress models.ExportProgress
	if err := json.Unmarshal(val, &progress); err != nil {
		return nil, false, err
	}
	return &progress, true, nil
}

// MarkExportCancelled sets the cancellation flag that the export worker
// checks between pages.
func (c *RedisCache) MarkExportCancelled(ctx context.Context, exportID string, ttl time.Duration) error {
	return c.client.Set(ctx, ExportCancelKey(exportID), "1", ttl).Err()
}

func (c *RedisCache) ExportCancelled(ctx context.Context, exportID string) (bool, error) {
	_, err := c.client.Get(ctx, ExportCancelKey(exportID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
