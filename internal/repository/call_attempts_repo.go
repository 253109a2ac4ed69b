package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
)

const callAttemptColumns = `
	id, tenant_id, phone_number_id, from_number, to_number, source, lead_id,
	provider_call_id, status, started_at, ended_at, duration_seconds
`

// CallAttemptsRepository persists outbound call attempts. Rows without ended_at are in flight.
type CallAttemptsRepository struct {
	db *sql.DB
}

// NewCallAttemptsRepository creates a new call attempts repository.
func NewCallAttemptsRepository(db *sql.DB) *CallAttemptsRepository {
	return &CallAttemptsRepository{db: db}
}

// Create inserts a new call attempt.
func (r *CallAttemptsRepository) Create(ctx context.Context, c *domain.CallAttempt) error {
	query := `
		INSERT INTO call_attempts (id, tenant_id, phone_number_id, from_number, to_number, source,
			lead_id, provider_call_id, status, started_at, ended_at, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.TenantID, c.PhoneNumberID, c.FromNumber, c.ToNumber, c.Source,
		c.LeadID, c.ProviderCallID, c.Status, c.StartedAt, c.EndedAt, c.DurationSeconds,
	)
	return err
}

// CountInFlight counts a tenant's unfinished calls started after since.
// Calls older than since are treated as abandoned so a lost end signal cannot pin a slot forever.
func (r *CallAttemptsRepository) CountInFlight(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM call_attempts
		WHERE tenant_id = $1 AND ended_at IS NULL AND started_at > $2
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, tenantID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// MarkEnded closes an in-flight attempt. The boolean is false when it had already ended.
func (r *CallAttemptsRepository) MarkEnded(ctx context.Context, providerCallID string, status domain.CallStatus, durationSeconds int, endedAt time.Time) (*domain.CallAttempt, bool, error) {
	query := `
		UPDATE call_attempts
		SET status = $1, duration_seconds = $2, ended_at = $3
		WHERE provider_call_id = $4 AND ended_at IS NULL
		RETURNING ` + callAttemptColumns
	c, err := scanCallAttempt(r.db.QueryRowContext(ctx, query, status, durationSeconds, endedAt, providerCallID))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, domain.ErrCallAttemptNotFound) {
		return nil, false, err
	}

	existing, err := r.GetByProviderCallID(ctx, providerCallID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByProviderCallID retrieves an attempt by the provider's call identifier.
func (r *CallAttemptsRepository) GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.CallAttempt, error) {
	query := `SELECT ` + callAttemptColumns + ` FROM call_attempts WHERE provider_call_id = $1`
	return scanCallAttempt(r.db.QueryRowContext(ctx, query, providerCallID))
}

func scanCallAttempt(row rowScanner) (*domain.CallAttempt, error) {
	c := &domain.CallAttempt{}
	err := row.Scan(
		&c.ID, &c.TenantID, &c.PhoneNumberID, &c.FromNumber, &c.ToNumber, &c.Source,
		&c.LeadID, &c.ProviderCallID, &c.Status, &c.StartedAt, &c.EndedAt, &c.DurationSeconds,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCallAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
