package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/integration-sync/internal/config"
)

//go:generate mockgen -destination=mocks/mock_cache.go -package=mocks github.com/stacklok/integration-sync/internal/health Cache

const (
	defaultKeyPrefix = "integration-sync:"
	dashboardKey     = "health:dashboard"
)

// Cache stores the most recently computed dashboard
type Cache interface {
	// Get returns the cached dashboard, or nil on a miss
	Get(ctx context.Context) (*Dashboard, error)
	// Set stores the dashboard for ttl
	Set(ctx context.Context, d *Dashboard, ttl time.Duration) error
	// Close releases any connection held by the cache
	Close() error
}

// NewCache returns a redis cache when cfg names an address and a process-local cache otherwise
func NewCache(cfg *config.CacheConfig) (Cache, error) {
	if cfg == nil || cfg.RedisAddr == "" {
		return NewMemoryCache(), nil
	}
	opt := &redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.DB,
	}
	if cfg.PasswordEnv != "" {
		opt.Password = os.Getenv(cfg.PasswordEnv)
	}
	return NewRedisCache(redis.NewClient(opt), cfg.KeyPrefix), nil
}

type memoryCache struct {
	mu        sync.RWMutex
	dashboard *Dashboard
	expires   time.Time
	now       func() time.Time
}

// NewMemoryCache returns a Cache held in process memory
func NewMemoryCache() Cache {
	return &memoryCache{now: time.Now}
}

func (c *memoryCache) Get(_ context.Context) (*Dashboard, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.dashboard == nil || !c.now().Before(c.expires) {
		return nil, nil
	}
	return c.dashboard, nil
}

func (c *memoryCache) Set(_ context.Context, d *Dashboard, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dashboard = d
	c.expires = c.now().Add(ttl)
	return nil
}

func (*memoryCache) Close() error {
	return nil
}

// RedisCache shares the dashboard between replicas through redis
type RedisCache struct {
	client *redis.Client
	key    string
}

// NewRedisCache returns a Cache backed by client. Keys are namespaced by prefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, key: prefix + dashboardKey}
}

// Get returns nil when the key is absent
func (c *RedisCache) Get(ctx context.Context) (*Dashboard, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached dashboard: %w", err)
	}
	var d Dashboard
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to decode cached dashboard: %w", err)
	}
	return &d, nil
}

// Set writes the dashboard as JSON with ttl
func (c *RedisCache) Set(ctx context.Context, d *Dashboard, ttl time.Duration) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode dashboard: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache dashboard: %w", err)
	}
	return nil
}

// Close closes the redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var (
	_ Cache = (*memoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
