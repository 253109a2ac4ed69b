package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
)

// TenantsRepository handles tenant persistence.
type TenantsRepository struct {
	db *sql.DB
}

// NewTenantsRepository creates a new tenants repository.
func NewTenantsRepository(db *sql.DB) *TenantsRepository {
	return &TenantsRepository{db: db}
}

// Create creates a new tenant.
func (r *TenantsRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, tenant.ID, tenant.Name, tenant.CreatedAt, tenant.UpdatedAt)
	return err
}

// GetByID retrieves a tenant by ID.
func (r *TenantsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	query := `
		SELECT id, name, telephony_subaccount_id, telephony_secret_sealed, billing_customer_id,
		       created_at, updated_at
		FROM tenants
		WHERE id = $1
	`
	var tenant domain.Tenant
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.TelephonySubaccountID,
		&tenant.TelephonySecretSealed,
		&tenant.BillingCustomerID,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// SetSubIdentityIfAbsent stores telephony credentials only when none are stored yet.
// It returns false when another writer already persisted a credential pair.
func (r *TenantsRepository) SetSubIdentityIfAbsent(ctx context.Context, id uuid.UUID, subaccountID string, sealedSecret []byte) (bool, error) {
	query := `
		UPDATE tenants
		SET telephony_subaccount_id = $1, telephony_secret_sealed = $2, updated_at = NOW()
		WHERE id = $3 AND telephony_subaccount_id IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, subaccountID, sealedSecret, id)
	if err != nil {
		return false, err
	}
	rows, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// SetBillingCustomer records the billing processor customer reference.
func (r *TenantsRepository) SetBillingCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	query := `
		UPDATE tenants
		SET billing_customer_id = $1, updated_at = NOW()
		WHERE id = $2
	`
	result, err := r.db.ExecContext(ctx, query, customerID, id)
	if err != nil {
		return err
	}
	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}
