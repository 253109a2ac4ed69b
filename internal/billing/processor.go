// Package billing reconciles billing processor webhooks into the durable
// subscription record and the plan cache.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/events"
	"github.com/tendant/callgate/internal/metrics"
	"github.com/tendant/callgate/internal/plan"
	"github.com/tendant/callgate/internal/telephony"
)

// Event types handled by the processor.
const (
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaid             = "invoice.paid"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// SubscriptionStore is the durable subscription record.
type SubscriptionStore interface {
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error)
	ApplySnapshot(ctx context.Context, s *domain.Subscription) (*domain.Subscription, error)
}

// TenantStore resolves tenants and records their billing customer.
type TenantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	SetBillingCustomer(ctx context.Context, id uuid.UUID, customerID string) error
}

// SubIdentityEnsurer provisions the tenant's telephony sub-identity.
type SubIdentityEnsurer interface {
	EnsureSubIdentity(ctx context.Context, tenantID uuid.UUID, tenantName string) (telephony.Credentials, error)
}

// PlanWriter overwrites the cached plan.
type PlanWriter interface {
	Put(ctx context.Context, tenantID uuid.UUID, p domain.Plan) error
}

// Processor verifies and applies billing webhooks. Every event is treated as a full
// snapshot of the tenant's limits, so delivery order does not matter.
type Processor struct {
	logger    *slog.Logger
	secret    string
	tolerance time.Duration
	subs      SubscriptionStore
	tenants   TenantStore
	registry  SubIdentityEnsurer
	plans     PlanWriter
	catalog   *plan.Catalog
	publisher events.Publisher
}

// NewProcessor creates a new webhook processor.
func NewProcessor(logger *slog.Logger, secret string, subs SubscriptionStore, tenants TenantStore, registry SubIdentityEnsurer, plans PlanWriter, catalog *plan.Catalog, publisher events.Publisher) *Processor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Processor{
		logger:    logger.With("component", "billing"),
		secret:    secret,
		tolerance: 5 * time.Minute,
		subs:      subs,
		tenants:   tenants,
		registry:  registry,
		plans:     plans,
		catalog:   catalog,
		publisher: publisher,
	}
}

// Handle verifies the signature header and applies the event. Events that cannot be
// attributed to a tenant are acknowledged without effect. Errors are returned only for
// bad signatures and for failures to persist the new limits.
func (p *Processor) Handle(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		metrics.BillingEvents.WithLabelValues("unknown", "bad_signature").Inc()
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return fmt.Errorf("%w: event has no data", domain.ErrInvalidInput)
	}

	eventType := string(event.Type)
	occurredAt := time.Unix(event.Created, 0).UTC()
	logger := p.logger.With("event_id", event.ID, "event_type", eventType)

	var snap *snapshot
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub subscriptionObject
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: decode subscription: %v", domain.ErrInvalidInput, err)
		}
		snap = p.fromSubscription(eventType, &sub)
	case EventInvoicePaid, EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var inv invoiceObject
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("%w: decode invoice: %v", domain.ErrInvalidInput, err)
		}
		snap = p.fromInvoice(ctx, eventType, &inv)
	default:
		metrics.BillingEvents.WithLabelValues(eventType, "ignored").Inc()
		logger.DebugContext(ctx, "ignoring billing event")
		return nil
	}

	if snap == nil {
		metrics.BillingEvents.WithLabelValues(eventType, "no_tenant").Inc()
		logger.WarnContext(ctx, "billing event has no team_id")
		return nil
	}

	tenant, err := p.tenants.GetByID(ctx, snap.tenantID)
	if errors.Is(err, domain.ErrTenantNotFound) {
		metrics.BillingEvents.WithLabelValues(eventType, "no_tenant").Inc()
		logger.WarnContext(ctx, "billing event for unknown tenant", "tenant_id", snap.tenantID)
		return nil
	}
	if err != nil {
		return err
	}

	snap.sub.LastEventAt = occurredAt
	if err := p.apply(ctx, eventType, tenant, snap); err != nil {
		metrics.BillingEvents.WithLabelValues(eventType, "error").Inc()
		logger.ErrorContext(ctx, "failed to apply billing event", "tenant_id", tenant.ID, "error", err)
		return err
	}
	metrics.BillingEvents.WithLabelValues(eventType, "applied").Inc()
	return nil
}

type snapshot struct {
	tenantID   uuid.UUID
	customerID string
	sub        domain.Subscription
}

func (p *Processor) apply(ctx context.Context, eventType string, tenant *domain.Tenant, snap *snapshot) error {
	stored, err := p.subs.ApplySnapshot(ctx, &snap.sub)
	if err != nil {
		return fmt.Errorf("persist subscription: %w", err)
	}
	planSnapshot := stored.Plan()
	if err := p.plans.Put(ctx, tenant.ID, planSnapshot); err != nil {
		return fmt.Errorf("update plan cache: %w", err)
	}

	p.logger.InfoContext(ctx, "plan updated",
		"tenant_id", tenant.ID,
		"event_type", eventType,
		"tier", planSnapshot.Tier,
		"concurrency_max", planSnapshot.ConcurrencyMax,
		"pool_minutes", planSnapshot.PoolMinutes,
		"status", stored.Status,
	)
	p.publisher.Publish(ctx, events.SubjectPlanUpdated, events.PlanUpdated{
		TenantID:  tenant.ID.String(),
		EventType: eventType,
		Plan:      planSnapshot,
	})

	if snap.customerID != "" && (tenant.BillingCustomerID == nil || *tenant.BillingCustomerID != snap.customerID) {
		if err := p.tenants.SetBillingCustomer(ctx, tenant.ID, snap.customerID); err != nil {
			p.logger.WarnContext(ctx, "failed to sync billing customer", "tenant_id", tenant.ID, "error", err)
		}
	}

	if stored.IsPaid() && !tenant.HasSubIdentity() && p.registry != nil {
		if _, err := p.registry.EnsureSubIdentity(ctx, tenant.ID, tenant.Name); err != nil {
			p.logger.WarnContext(ctx, "failed to bootstrap telephony sub-identity", "tenant_id", tenant.ID, "error", err)
		}
	}
	return nil
}

func (p *Processor) fromSubscription(eventType string, obj *subscriptionObject) *snapshot {
	tenantID, ok := parseTeamID(obj.Metadata)
	if !ok {
		return nil
	}

	sub := domain.Subscription{
		TenantID:              tenantID,
		BillingSubscriptionID: obj.ID,
		Status:                normalizeStatus(obj.Status),
		PeriodStart:           unixPtr(obj.CurrentPeriodStart),
		PeriodEnd:             unixPtr(obj.CurrentPeriodEnd),
	}

	if eventType == EventSubscriptionDeleted || sub.Status == domain.SubscriptionStatusCanceled {
		sub.Status = domain.SubscriptionStatusCanceled
		setLimits(&sub, p.catalog.Default())
	} else {
		layers := append(priceLayers(obj.price()), obj.Metadata)
		setLimits(&sub, p.resolveLimits(layers, ""))
	}

	return &snapshot{tenantID: tenantID, customerID: obj.Customer.ID, sub: sub}
}

func (p *Processor) fromInvoice(ctx context.Context, eventType string, obj *invoiceObject) *snapshot {
	tenantID, ok := parseTeamID(obj.SubscriptionDetails.Metadata)
	if !ok {
		tenantID, ok = parseTeamID(obj.Subscription.Metadata)
	}
	if !ok {
		return nil
	}

	// Invoices may omit the tier; keep the tenant's current tier in that case.
	fallbackTier := ""
	if existing, err := p.subs.GetByTenant(ctx, tenantID); err == nil {
		fallbackTier = existing.Tier
	}

	layers := append(priceLayers(obj.price()), obj.SubscriptionDetails.Metadata, obj.Subscription.Metadata)
	start, end := obj.period()
	sub := domain.Subscription{
		TenantID:              tenantID,
		BillingSubscriptionID: obj.Subscription.ID,
		Status:                domain.SubscriptionStatusActive,
		PeriodStart:           start,
		PeriodEnd:             end,
	}
	limits := p.resolveLimits(layers, fallbackTier)
	if eventType == EventInvoicePaymentFailed {
		sub.Status = domain.SubscriptionStatusPastDue
		limits.OverageEnabled = false
	}
	setLimits(&sub, limits)

	return &snapshot{tenantID: tenantID, customerID: obj.Customer.ID, sub: sub}
}

// resolveLimits reads limits from metadata, filling gaps from the catalog entry for
// the tier. The tier comes from metadata, then fallbackTier, then the catalog default.
func (p *Processor) resolveLimits(layers metaLayers, fallbackTier string) domain.Plan {
	tier, ok := layers.get(MetaTier)
	if !ok {
		tier = fallbackTier
	}
	limits, known := p.catalog.Plan(tier)
	if !known {
		limits = p.catalog.Default()
		if tier != "" {
			limits.Tier = strings.ToLower(tier)
		}
	}

	if v, ok := layers.int(MetaPoolMinutes); ok {
		limits.PoolMinutes = v
	}
	if v, ok := layers.int(MetaConcurrencyMax); ok {
		limits.ConcurrencyMax = v
	}
	if v, ok := layers.bool(MetaOverage); ok {
		limits.OverageEnabled = v
	}
	return limits
}

func setLimits(sub *domain.Subscription, limits domain.Plan) {
	sub.Tier = limits.Tier
	sub.PoolMinutes = limits.PoolMinutes
	sub.ConcurrencyMax = limits.ConcurrencyMax
	sub.OverageEnabled = limits.OverageEnabled
}

func parseTeamID(meta map[string]string) (uuid.UUID, bool) {
	raw, ok := meta[MetaTeamID]
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func normalizeStatus(s string) string {
	switch s {
	case domain.SubscriptionStatusActive, domain.SubscriptionStatusTrialing, domain.SubscriptionStatusPastDue:
		return s
	case "unpaid", "incomplete":
		return domain.SubscriptionStatusPastDue
	case "":
		return domain.SubscriptionStatusActive
	default:
		return domain.SubscriptionStatusCanceled
	}
}
