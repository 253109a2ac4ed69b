// Package admission decides whether an outbound call may be placed, places admitted
// calls and closes them out when they end.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
)

// DefaultMaxCallDuration bounds how long an unfinished call attempt counts as in flight.
const DefaultMaxCallDuration = 4 * time.Hour

// NumberReader reads a tenant's phone numbers.
type NumberReader interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error)
}

// InFlightCounter counts a tenant's active call attempts.
type InFlightCounter interface {
	CountInFlight(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error)
}

// PlanReader returns a tenant's current limits.
type PlanReader interface {
	GetPlan(ctx context.Context, tenantID uuid.UUID) (domain.Plan, error)
}

// Gate runs the admission checks in order: caller id usable, concurrency, pool.
//
// The in-flight count is read before the call is placed, so a burst of concurrent
// requests for one tenant can exceed ConcurrencyMax by the size of the burst.
type Gate struct {
	logger          *slog.Logger
	numbers         NumberReader
	calls           InFlightCounter
	plans           PlanReader
	maxCallDuration time.Duration
	now             func() time.Time
}

// NewGate creates a new admission gate.
func NewGate(logger *slog.Logger, numbers NumberReader, calls InFlightCounter, plans PlanReader, maxCallDuration time.Duration) *Gate {
	if maxCallDuration <= 0 {
		maxCallDuration = DefaultMaxCallDuration
	}
	return &Gate{
		logger:          logger.With("component", "admission"),
		numbers:         numbers,
		calls:           calls,
		plans:           plans,
		maxCallDuration: maxCallDuration,
		now:             time.Now,
	}
}

// Admit evaluates whether tenantID may call toNumber from fromNumberID.
func (g *Gate) Admit(ctx context.Context, tenantID, fromNumberID uuid.UUID, toNumber string) (domain.Decision, error) {
	d, _, err := g.evaluate(ctx, tenantID, fromNumberID, toNumber)
	return d, err
}

func (g *Gate) evaluate(ctx context.Context, tenantID, fromNumberID uuid.UUID, toNumber string) (domain.Decision, *domain.PhoneNumber, error) {
	if err := domain.ValidateE164(toNumber); err != nil {
		return domain.Decision{}, nil, err
	}

	from, err := g.numbers.GetByID(ctx, tenantID, fromNumberID)
	if errors.Is(err, domain.ErrPhoneNumberNotFound) {
		return domain.Deny(domain.ReasonNumberNotVerified), nil, nil
	}
	if err != nil {
		return domain.Decision{}, nil, err
	}
	if !from.UsableForOutbound() {
		return domain.Deny(domain.ReasonNumberNotVerified), from, nil
	}

	plan, err := g.plans.GetPlan(ctx, tenantID)
	if err != nil {
		return domain.Decision{}, from, err
	}

	inFlight, err := g.calls.CountInFlight(ctx, tenantID, g.now().Add(-g.maxCallDuration))
	if err != nil {
		return domain.Decision{}, from, err
	}
	if inFlight >= plan.ConcurrencyMax {
		g.logger.InfoContext(ctx, "concurrency limit reached", "tenant_id", tenantID, "in_flight", inFlight, "concurrency_max", plan.ConcurrencyMax)
		return domain.Deny(domain.ReasonConcurrencyExceeded), from, nil
	}

	if !plan.OverageEnabled && plan.PoolExhausted() {
		return domain.Deny(domain.ReasonPoolExhausted), from, nil
	}

	return domain.Allow(), from, nil
}
