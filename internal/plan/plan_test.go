package plan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/repository/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog("")
	require.NoError(t, err)
	return c
}

func TestCatalog_Embedded(t *testing.T) {
	c := testCatalog(t)

	def := c.Default()
	assert.Equal(t, "free", def.Tier)
	assert.Equal(t, 1, def.ConcurrencyMax)
	assert.Equal(t, 0, def.PoolMinutes)
	assert.False(t, def.OverageEnabled)

	growth, ok := c.Plan("Growth")
	require.True(t, ok)
	assert.Equal(t, 5, growth.ConcurrencyMax)

	_, ok = c.Plan("enterprise")
	assert.False(t, ok)
}

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_tier: basic\ntiers:\n  basic:\n    pool_minutes: 10\n    concurrency_max: 3\n"), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, domain.Plan{Tier: "basic", PoolMinutes: 10, ConcurrencyMax: 3}, c.Default())
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing default": "default_tier: gold\ntiers:\n  free:\n    concurrency_max: 1\n",
		"negative limit":  "default_tier: free\ntiers:\n  free:\n    concurrency_max: -1\n",
		"not yaml":        "default_tier: [",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }
	tenantID := uuid.New()

	require.NoError(t, c.Set(context.Background(), tenantID, domain.Plan{Tier: "growth"}))
	p, ok, err := c.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "growth", p.Tier)

	now = now.Add(time.Minute)
	_, ok, err = c.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisCache(client, time.Minute)
	tenantID := uuid.New()
	want := domain.Plan{Tier: "scale", PoolMinutes: 6000, ConcurrencyMax: 20, PeriodUsage: 12, OverageEnabled: true}

	_, ok, err := c.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(context.Background(), tenantID, want))
	got, ok, err := c.Get(context.Background(), tenantID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, time.Minute, mr.TTL("callgate:plan:"+tenantID.String()))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(context.Background(), tenantID, want))
	require.NoError(t, c.Delete(context.Background(), tenantID))
	_, ok, err = c.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingCache struct{}

func (failingCache) Get(context.Context, uuid.UUID) (domain.Plan, bool, error) {
	return domain.Plan{}, false, errors.New("connection refused")
}
func (failingCache) Set(context.Context, uuid.UUID, domain.Plan) error {
	return errors.New("connection refused")
}
func (failingCache) Delete(context.Context, uuid.UUID) error { return nil }

func TestService_GetPlan(t *testing.T) {
	tenantID := uuid.New()
	subs := memory.NewSubscriptions()
	_, err := subs.ApplySnapshot(context.Background(), &domain.Subscription{
		TenantID: tenantID, Status: domain.SubscriptionStatusActive, Tier: "growth",
		PoolMinutes: 1500, ConcurrencyMax: 5, OverageEnabled: true,
	})
	require.NoError(t, err)

	t.Run("miss reads durable record and fills cache", func(t *testing.T) {
		cache := NewMemoryCache(time.Minute)
		svc := NewService(testLogger(), cache, subs, testCatalog(t))

		p, err := svc.GetPlan(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, 5, p.ConcurrencyMax)

		cached, ok, _ := cache.Get(context.Background(), tenantID)
		assert.True(t, ok)
		assert.Equal(t, p, cached)
	})

	t.Run("hit is served from cache", func(t *testing.T) {
		cache := NewMemoryCache(time.Minute)
		require.NoError(t, cache.Set(context.Background(), tenantID, domain.Plan{Tier: "scale", ConcurrencyMax: 20}))
		svc := NewService(testLogger(), cache, subs, testCatalog(t))

		p, err := svc.GetPlan(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, 20, p.ConcurrencyMax)
	})

	t.Run("cache failure falls back to durable record", func(t *testing.T) {
		svc := NewService(testLogger(), failingCache{}, subs, testCatalog(t))
		p, err := svc.GetPlan(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, "growth", p.Tier)
	})

	t.Run("no subscription gets default tier", func(t *testing.T) {
		svc := NewService(testLogger(), NewMemoryCache(time.Minute), subs, testCatalog(t))
		p, err := svc.GetPlan(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Equal(t, "free", p.Tier)
	})
}

func TestService_PutOverwritesAndInvalidate(t *testing.T) {
	tenantID := uuid.New()
	cache := NewMemoryCache(time.Minute)
	svc := NewService(testLogger(), cache, memory.NewSubscriptions(), testCatalog(t))

	require.NoError(t, svc.Put(context.Background(), tenantID, domain.Plan{Tier: "scale", ConcurrencyMax: 20}))
	require.NoError(t, svc.Put(context.Background(), tenantID, domain.Plan{Tier: "starter", ConcurrencyMax: 2}))

	p, err := svc.GetPlan(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, "starter", p.Tier)

	require.NoError(t, svc.Invalidate(context.Background(), tenantID))
	p, err = svc.GetPlan(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, "free", p.Tier)
}
