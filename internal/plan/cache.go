package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/callgate/internal/domain"
)

// Cache is an expiring store of plan projections keyed by tenant.
type Cache interface {
	Get(ctx context.Context, tenantID uuid.UUID) (domain.Plan, bool, error)
	Set(ctx context.Context, tenantID uuid.UUID, p domain.Plan) error
	Delete(ctx context.Context, tenantID uuid.UUID) error
}

type memoryEntry struct {
	plan      domain.Plan
	expiresAt time.Time
}

// MemoryCache is an in-process Cache for single-instance deployments.
type MemoryCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time
	m   map[uuid.UUID]memoryEntry
}

// NewMemoryCache creates an in-process cache with a fixed entry TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, m: make(map[uuid.UUID]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, tenantID uuid.UUID) (domain.Plan, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[tenantID]
	if !ok || !c.now().Before(e.expiresAt) {
		return domain.Plan{}, false, nil
	}
	return e.plan, true, nil
}

func (c *MemoryCache) Set(_ context.Context, tenantID uuid.UUID, p domain.Plan) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[tenantID] = memoryEntry{plan: p, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, tenantID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, tenantID)
	return nil
}

// RedisCache stores plans as JSON with a TTL so every instance shares one view.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache creates a Redis backed cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "callgate:plan:"}
}

func (c *RedisCache) key(tenantID uuid.UUID) string {
	return c.prefix + tenantID.String()
}

func (c *RedisCache) Get(ctx context.Context, tenantID uuid.UUID) (domain.Plan, bool, error) {
	raw, err := c.client.Get(ctx, c.key(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Plan{}, false, nil
	}
	if err != nil {
		return domain.Plan{}, false, fmt.Errorf("plan cache get: %w", err)
	}
	var p domain.Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Plan{}, false, fmt.Errorf("plan cache decode: %w", err)
	}
	return p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, tenantID uuid.UUID, p domain.Plan) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(tenantID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("plan cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, tenantID uuid.UUID) error {
	if err := c.client.Del(ctx, c.key(tenantID)).Err(); err != nil {
		return fmt.Errorf("plan cache delete: %w", err)
	}
	return nil
}
