// Package plan serves each tenant's admission limits from an expiring cache backed by
// the durable subscription record.
package plan

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/metrics"
)

// SubscriptionReader reads the durable subscription record.
type SubscriptionReader interface {
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error)
}

// Service is the plan and concurrency cache.
type Service struct {
	logger  *slog.Logger
	cache   Cache
	subs    SubscriptionReader
	catalog *Catalog
}

// NewService creates a new plan service.
func NewService(logger *slog.Logger, cache Cache, subs SubscriptionReader, catalog *Catalog) *Service {
	return &Service{
		logger:  logger.With("component", "plan"),
		cache:   cache,
		subs:    subs,
		catalog: catalog,
	}
}

// Catalog returns the tier catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// GetPlan returns the tenant's plan. A cache miss, expiry or cache failure falls
// back to the durable record, and a tenant without one gets the default tier.
func (s *Service) GetPlan(ctx context.Context, tenantID uuid.UUID) (domain.Plan, error) {
	p, ok, err := s.cache.Get(ctx, tenantID)
	switch {
	case err != nil:
		metrics.PlanCacheLookups.WithLabelValues("error").Inc()
		s.logger.WarnContext(ctx, "plan cache read failed", "tenant_id", tenantID, "error", err)
	case ok:
		metrics.PlanCacheLookups.WithLabelValues("hit").Inc()
		return p, nil
	default:
		metrics.PlanCacheLookups.WithLabelValues("miss").Inc()
	}
	return s.Refresh(ctx, tenantID)
}

// Refresh reloads the plan from the durable record and overwrites the cache entry.
func (s *Service) Refresh(ctx context.Context, tenantID uuid.UUID) (domain.Plan, error) {
	var p domain.Plan
	sub, err := s.subs.GetByTenant(ctx, tenantID)
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		p = s.catalog.Default()
	case err != nil:
		return domain.Plan{}, err
	default:
		p = sub.Plan()
	}

	if err := s.cache.Set(ctx, tenantID, p); err != nil {
		s.logger.WarnContext(ctx, "plan cache write failed", "tenant_id", tenantID, "error", err)
	}
	return p, nil
}

// Put overwrites the cached plan with a snapshot already persisted durably.
func (s *Service) Put(ctx context.Context, tenantID uuid.UUID, p domain.Plan) error {
	return s.cache.Set(ctx, tenantID, p)
}

// Invalidate drops the cached plan.
func (s *Service) Invalidate(ctx context.Context, tenantID uuid.UUID) error {
	return s.cache.Delete(ctx, tenantID)
}
