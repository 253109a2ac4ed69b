package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
)

const phoneNumberColumns = `
	id, tenant_id, number, label, type, verification_status, verification_session_id,
	validation_code, provider_number_id, is_default, created_at, updated_at
`

// PhoneNumbersRepository handles phone number persistence.
type PhoneNumbersRepository struct {
	db *sql.DB
}

// NewPhoneNumbersRepository creates a new phone numbers repository.
func NewPhoneNumbersRepository(db *sql.DB) *PhoneNumbersRepository {
	return &PhoneNumbersRepository{db: db}
}

// Create inserts a phone number. A duplicate (tenant, number) pair yields ErrPhoneNumberExists.
func (r *PhoneNumbersRepository) Create(ctx context.Context, n *domain.PhoneNumber) error {
	query := `
		INSERT INTO phone_numbers (id, tenant_id, number, label, type, verification_status,
			verification_session_id, validation_code, provider_number_id, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.TenantID, n.Number, n.Label, n.Type, n.VerificationStatus,
		n.VerificationSessionID, n.ValidationCode, n.ProviderNumberID, n.IsDefault,
		n.CreatedAt, n.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrPhoneNumberExists
	}
	return err
}

// GetByID retrieves a tenant's phone number by ID.
func (r *PhoneNumbersRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error) {
	query := `SELECT ` + phoneNumberColumns + ` FROM phone_numbers WHERE tenant_id = $1 AND id = $2`
	return scanPhoneNumber(r.db.QueryRowContext(ctx, query, tenantID, id), domain.ErrPhoneNumberNotFound)
}

// GetByNumber retrieves a tenant's phone number by its E.164 string.
func (r *PhoneNumbersRepository) GetByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*domain.PhoneNumber, error) {
	query := `SELECT ` + phoneNumberColumns + ` FROM phone_numbers WHERE tenant_id = $1 AND number = $2`
	return scanPhoneNumber(r.db.QueryRowContext(ctx, query, tenantID, number), domain.ErrPhoneNumberNotFound)
}

// GetBySessionID retrieves the phone number owning a provider verification session.
func (r *PhoneNumbersRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.PhoneNumber, error) {
	query := `SELECT ` + phoneNumberColumns + ` FROM phone_numbers WHERE verification_session_id = $1`
	return scanPhoneNumber(r.db.QueryRowContext(ctx, query, sessionID), domain.ErrVerificationSessionNotFound)
}

// ListByTenant lists a tenant's phone numbers, default first.
func (r *PhoneNumbersRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.PhoneNumber, error) {
	query := `SELECT ` + phoneNumberColumns + `
		FROM phone_numbers
		WHERE tenant_id = $1
		ORDER BY is_default DESC, created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []*domain.PhoneNumber
	for rows.Next() {
		n, err := scanPhoneNumber(rows, nil)
		if err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// BeginVerification moves a number from fromStatus to pending with a fresh session and code.
// It returns false when the number was no longer in fromStatus.
func (r *PhoneNumbersRepository) BeginVerification(ctx context.Context, id uuid.UUID, fromStatus domain.VerificationStatus, sessionID, code string) (bool, error) {
	query := `
		UPDATE phone_numbers
		SET verification_status = 'pending', verification_session_id = $1, validation_code = $2, updated_at = NOW()
		WHERE id = $3 AND type = 'verified_caller_id' AND verification_status = $4
	`
	return r.execCAS(ctx, query, sessionID, code, id, fromStatus)
}

// CompleteVerification applies a terminal status to the session only if it is still pending.
// A false result means another writer already applied a terminal status.
func (r *PhoneNumbersRepository) CompleteVerification(ctx context.Context, sessionID string, status domain.VerificationStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %q is not a terminal status", domain.ErrInvalidInput, status)
	}
	query := `
		UPDATE phone_numbers
		SET verification_status = $1, validation_code = NULL, updated_at = NOW()
		WHERE verification_session_id = $2 AND verification_status = 'pending'
	`
	return r.execCAS(ctx, query, status, sessionID)
}

// MarkFailed fails a pending number whose verification call could not be started.
func (r *PhoneNumbersRepository) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE phone_numbers
		SET verification_status = 'failed', validation_code = NULL, updated_at = NOW()
		WHERE id = $1 AND verification_status = 'pending'
	`
	return r.execCAS(ctx, query, id)
}

// Delete removes a verified caller id. Purchased numbers are never matched.
func (r *PhoneNumbersRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `
		DELETE FROM phone_numbers
		WHERE tenant_id = $1 AND id = $2 AND type = 'verified_caller_id'
	`
	applied, err := r.execCAS(ctx, query, tenantID, id)
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrPhoneNumberNotFound
	}
	return nil
}

// SetDefault makes id the tenant's only default outbound number.
func (r *PhoneNumbersRepository) SetDefault(ctx context.Context, tenantID, id uuid.UUID) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		clear := `UPDATE phone_numbers SET is_default = FALSE, updated_at = NOW() WHERE tenant_id = $1 AND is_default`
		if _, err := tx.ExecContext(ctx, clear, tenantID); err != nil {
			return fmt.Errorf("clear default: %w", err)
		}
		set := `UPDATE phone_numbers SET is_default = TRUE, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`
		result, err := tx.ExecContext(ctx, set, tenantID, id)
		if err != nil {
			return fmt.Errorf("set default: %w", err)
		}
		rows, err := rowsAffected(result)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrPhoneNumberNotFound
		}
		return nil
	})
}

func (r *PhoneNumbersRepository) execCAS(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rows, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoneNumber(row rowScanner, notFound error) (*domain.PhoneNumber, error) {
	n := &domain.PhoneNumber{}
	err := row.Scan(
		&n.ID, &n.TenantID, &n.Number, &n.Label, &n.Type, &n.VerificationStatus,
		&n.VerificationSessionID, &n.ValidationCode, &n.ProviderNumberID, &n.IsDefault,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) && notFound != nil {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}
