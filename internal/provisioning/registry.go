// Package provisioning owns each tenant's telephony sub-identity and the numbers
// acquired under it.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/secrets"
	"github.com/tendant/callgate/internal/telephony"
)

// TenantStore is the tenant persistence used by the registry.
type TenantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	SetSubIdentityIfAbsent(ctx context.Context, id uuid.UUID, subaccountID string, sealedSecret []byte) (bool, error)
}

// Registry lazily creates one telephony sub-identity per tenant.
type Registry struct {
	logger   *slog.Logger
	tenants  TenantStore
	provider telephony.Provider
	sealer   *secrets.Sealer
}

// NewRegistry creates a new tenant telephony registry.
func NewRegistry(logger *slog.Logger, tenants TenantStore, provider telephony.Provider, sealer *secrets.Sealer) *Registry {
	return &Registry{
		logger:   logger.With("component", "registry"),
		tenants:  tenants,
		provider: provider,
		sealer:   sealer,
	}
}

// EnsureSubIdentity returns the tenant's sub-identity credentials, creating them on
// first use. Concurrent callers may each create a subaccount at the provider, but only
// the first persisted pair is kept; the others are closed and the stored pair returned.
func (r *Registry) EnsureSubIdentity(ctx context.Context, tenantID uuid.UUID, tenantName string) (telephony.Credentials, error) {
	tenant, err := r.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return telephony.Credentials{}, err
	}
	if tenant.HasSubIdentity() {
		return r.open(tenant)
	}

	sub, err := r.provider.CreateSubaccount(ctx, subaccountName(tenantName, tenantID))
	if err != nil {
		return telephony.Credentials{}, fmt.Errorf("create sub-identity: %w", err)
	}

	sealed, err := r.sealer.Seal([]byte(sub.Secret), tenantID[:])
	if err != nil {
		return telephony.Credentials{}, err
	}

	stored, err := r.tenants.SetSubIdentityIfAbsent(ctx, tenantID, sub.ID, sealed)
	if err != nil {
		return telephony.Credentials{}, err
	}
	if stored {
		r.logger.InfoContext(ctx, "telephony sub-identity created", "tenant_id", tenantID, "subaccount_id", sub.ID)
		return telephony.Credentials{AccountID: sub.ID, Secret: sub.Secret}, nil
	}

	// Lost the race: another request persisted first.
	if err := r.provider.CloseSubaccount(ctx, sub.ID); err != nil {
		r.logger.WarnContext(ctx, "failed to close duplicate sub-identity", "tenant_id", tenantID, "subaccount_id", sub.ID, "error", err)
	}
	tenant, err = r.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return telephony.Credentials{}, err
	}
	if !tenant.HasSubIdentity() {
		return telephony.Credentials{}, errors.New("sub-identity missing after concurrent create")
	}
	return r.open(tenant)
}

// Resolve returns credentials for the tenant, provisioning them if needed.
func (r *Registry) Resolve(ctx context.Context, tenantID uuid.UUID) (telephony.Credentials, error) {
	tenant, err := r.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return telephony.Credentials{}, err
	}
	if tenant.HasSubIdentity() {
		return r.open(tenant)
	}
	return r.EnsureSubIdentity(ctx, tenant.ID, tenant.Name)
}

func (r *Registry) open(tenant *domain.Tenant) (telephony.Credentials, error) {
	secret, err := r.sealer.Open(tenant.TelephonySecretSealed, tenant.ID[:])
	if err != nil {
		return telephony.Credentials{}, fmt.Errorf("open sub-identity secret: %w", err)
	}
	return telephony.Credentials{AccountID: *tenant.TelephonySubaccountID, Secret: string(secret)}, nil
}

func subaccountName(tenantName string, tenantID uuid.UUID) string {
	if tenantName == "" {
		return "tenant-" + tenantID.String()
	}
	return tenantName + " (" + tenantID.String()[:8] + ")"
}
