package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
)

const subscriptionColumns = `
	tenant_id, billing_subscription_id, status, tier, pool_minutes, concurrency_max,
	overage_enabled, period_usage_minutes, period_start, period_end, last_event_at, updated_at
`

// SubscriptionsRepository handles the durable subscription record.
type SubscriptionsRepository struct {
	db *sql.DB
}

// NewSubscriptionsRepository creates a new subscriptions repository.
func NewSubscriptionsRepository(db *sql.DB) *SubscriptionsRepository {
	return &SubscriptionsRepository{db: db}
}

// GetByTenant retrieves a tenant's subscription record.
func (r *SubscriptionsRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tenant_id = $1`
	return scanSubscription(r.db.QueryRowContext(ctx, query, tenantID))
}

// ApplySnapshot overwrites the limits with the billing snapshot and returns the stored record.
// Period usage resets to zero only when the snapshot starts a later billing period;
// a snapshot from an earlier period never moves the period backwards.
func (r *SubscriptionsRepository) ApplySnapshot(ctx context.Context, s *domain.Subscription) (*domain.Subscription, error) {
	query := `
		INSERT INTO subscriptions (tenant_id, billing_subscription_id, status, tier, pool_minutes,
			concurrency_max, overage_enabled, period_usage_minutes, period_start, period_end,
			last_event_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			billing_subscription_id = EXCLUDED.billing_subscription_id,
			status = EXCLUDED.status,
			tier = EXCLUDED.tier,
			pool_minutes = EXCLUDED.pool_minutes,
			concurrency_max = EXCLUDED.concurrency_max,
			overage_enabled = EXCLUDED.overage_enabled,
			period_usage_minutes = CASE
				WHEN EXCLUDED.period_start IS NOT NULL
				     AND (subscriptions.period_start IS NULL OR EXCLUDED.period_start > subscriptions.period_start)
				THEN 0
				ELSE subscriptions.period_usage_minutes
			END,
			period_start = GREATEST(subscriptions.period_start, EXCLUDED.period_start),
			period_end = GREATEST(subscriptions.period_end, EXCLUDED.period_end),
			last_event_at = EXCLUDED.last_event_at,
			updated_at = NOW()
		RETURNING ` + subscriptionColumns
	return scanSubscription(r.db.QueryRowContext(ctx, query,
		s.TenantID, s.BillingSubscriptionID, s.Status, s.Tier, s.PoolMinutes,
		s.ConcurrencyMax, s.OverageEnabled, s.PeriodStart, s.PeriodEnd, s.LastEventAt,
	))
}

// AddUsage adds consumed minutes to the current period.
func (r *SubscriptionsRepository) AddUsage(ctx context.Context, tenantID uuid.UUID, minutes int) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET period_usage_minutes = period_usage_minutes + $1, updated_at = NOW()
		WHERE tenant_id = $2
		RETURNING ` + subscriptionColumns
	return scanSubscription(r.db.QueryRowContext(ctx, query, minutes, tenantID))
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	s := &domain.Subscription{}
	err := row.Scan(
		&s.TenantID, &s.BillingSubscriptionID, &s.Status, &s.Tier, &s.PoolMinutes,
		&s.ConcurrencyMax, &s.OverageEnabled, &s.PeriodUsageMinutes, &s.PeriodStart,
		&s.PeriodEnd, &s.LastEventAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
