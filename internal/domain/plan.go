package domain

import (
	"time"

	"github.com/google/uuid"
)

// Plan is the admission-relevant projection of a tenant's subscription.
type Plan struct {
	Tier           string `json:"tier"`
	PoolMinutes    int    `json:"pool_minutes"`
	ConcurrencyMax int    `json:"concurrency_max"`
	PeriodUsage    int    `json:"period_usage"`
	OverageEnabled bool   `json:"overage_enabled"`
}

// PoolExhausted reports whether period usage has gone past the pooled allotment.
// Usage equal to the allotment is still within the pool.
func (p Plan) PoolExhausted() bool {
	return p.PeriodUsage > p.PoolMinutes
}

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription is the durable subscription record. It owns PeriodUsageMinutes.
type Subscription struct {
	TenantID              uuid.UUID
	BillingSubscriptionID string
	Status                string
	Tier                  string
	PoolMinutes           int
	ConcurrencyMax        int
	OverageEnabled        bool
	PeriodUsageMinutes    int
	PeriodStart           *time.Time
	PeriodEnd             *time.Time
	LastEventAt           time.Time
	UpdatedAt             time.Time
}

// Plan projects the subscription into the cached admission view.
func (s *Subscription) Plan() Plan {
	return Plan{
		Tier:           s.Tier,
		PoolMinutes:    s.PoolMinutes,
		ConcurrencyMax: s.ConcurrencyMax,
		PeriodUsage:    s.PeriodUsageMinutes,
		OverageEnabled: s.OverageEnabled,
	}
}

// IsPaid reports whether the subscription is in a paying state.
func (s *Subscription) IsPaid() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}
