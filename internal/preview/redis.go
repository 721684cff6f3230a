package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cellscan/internal/logging"
)

// Cache abstracts the Redis operations used by RedisStore to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// RedisCache is a concrete Cache backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// Del removes a key from Redis.
func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// RedisStore keeps previews in Redis with a TTL, so previews that are never
// released still disappear.
type RedisStore struct {
	cache          Cache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisStore constructs a store whose entries expire after ttl.
func NewRedisStore(cache Cache, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		cache:          cache,
		ttl:            ttl,
		logger:         logger.Named("preview_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func previewKey(id string) string {
	return fmt.Sprintf("preview:%s", id)
}

// Put stores img under a fresh id.
func (s *RedisStore) Put(ctx context.Context, img Image) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(img)
	if err != nil {
		return "", logging.NewOperationError("preview.put", id, err)
	}
	if err := s.withRetry(ctx, id, "preview.put", func() error {
		return s.cache.Set(ctx, previewKey(id), string(payload), s.ttl)
	}); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the preview stored under id, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (*Image, error) {
	var raw string
	err := s.withRetry(ctx, id, "preview.get", func() error {
		value, err := s.cache.Get(ctx, previewKey(id))
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var img Image
	if err := json.Unmarshal([]byte(raw), &img); err != nil {
		logging.WithOperation(s.logger, "preview.get", id).Warn("failed to decode stored preview", zap.Error(err))
		return nil, ErrNotFound
	}
	return &img, nil
}

// Release deletes the preview. Unknown ids are ignored.
func (s *RedisStore) Release(ctx context.Context, id string) error {
	return s.withRetry(ctx, id, "preview.release", func() error {
		return s.cache.Del(ctx, previewKey(id))
	})
}

func (s *RedisStore) withRetry(ctx context.Context, id, operation string, fn func() error) error {
	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, id)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, id, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, id, err)
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, id, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, id, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
