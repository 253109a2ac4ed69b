package admission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
)

// CallEnder closes call attempts.
type CallEnder interface {
	MarkEnded(ctx context.Context, providerCallID string, status domain.CallStatus, durationSeconds int, endedAt time.Time) (*domain.CallAttempt, bool, error)
}

// UsageRecorder adds consumed minutes to the durable subscription record.
type UsageRecorder interface {
	AddUsage(ctx context.Context, tenantID uuid.UUID, minutes int) (*domain.Subscription, error)
}

// PlanWriter overwrites the cached plan.
type PlanWriter interface {
	Put(ctx context.Context, tenantID uuid.UUID, p domain.Plan) error
}

// Tracker frees concurrency slots and charges pooled minutes when calls end.
type Tracker struct {
	logger *slog.Logger
	calls  CallEnder
	usage  UsageRecorder
	plans  PlanWriter
}

// NewTracker creates a new call tracker.
func NewTracker(logger *slog.Logger, calls CallEnder, usage UsageRecorder, plans PlanWriter) *Tracker {
	return &Tracker{
		logger: logger.With("component", "tracker"),
		calls:  calls,
		usage:  usage,
		plans:  plans,
	}
}

// Complete marks the call ended. Repeated end signals for the same call are no-ops,
// so the provider status callback and the voice runtime event may both arrive.
func (t *Tracker) Complete(ctx context.Context, providerCallID string, status domain.CallStatus, durationSeconds int, endedAt time.Time) error {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	attempt, applied, err := t.calls.MarkEnded(ctx, providerCallID, status, durationSeconds, endedAt)
	if err != nil {
		return err
	}
	if !applied {
		t.logger.DebugContext(ctx, "call already ended", "provider_call_id", providerCallID)
		return nil
	}

	minutes := attempt.BilledMinutes()
	t.logger.InfoContext(ctx, "call ended", "tenant_id", attempt.TenantID, "provider_call_id", providerCallID, "status", status, "minutes", minutes)
	if minutes == 0 {
		return nil
	}

	sub, err := t.usage.AddUsage(ctx, attempt.TenantID, minutes)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.logger.WarnContext(ctx, "usage not recorded, tenant has no subscription", "tenant_id", attempt.TenantID, "minutes", minutes)
		return nil
	}
	if err != nil {
		return err
	}
	return t.plans.Put(ctx, attempt.TenantID, sub.Plan())
}
