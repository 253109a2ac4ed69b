package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/callgate/internal/domain"
)

// AgentsRepository reads voice agent configuration.
type AgentsRepository struct {
	db *sql.DB
}

// NewAgentsRepository creates a new agents repository.
func NewAgentsRepository(db *sql.DB) *AgentsRepository {
	return &AgentsRepository{db: db}
}

// GetByID retrieves a tenant's agent.
func (r *AgentsRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Agent, error) {
	query := `
		SELECT id, tenant_id, name, phone_number_id
		FROM agents
		WHERE tenant_id = $1 AND id = $2
	`
	a := &domain.Agent{}
	err := r.db.QueryRowContext(ctx, query, tenantID, id).Scan(&a.ID, &a.TenantID, &a.Name, &a.PhoneNumberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// WidgetFormsRepository reads embeddable form configuration.
type WidgetFormsRepository struct {
	db *sql.DB
}

// NewWidgetFormsRepository creates a new widget forms repository.
func NewWidgetFormsRepository(db *sql.DB) *WidgetFormsRepository {
	return &WidgetFormsRepository{db: db}
}

// GetByID retrieves a form by ID. Widget traffic has no tenant context until the form is known.
func (r *WidgetFormsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WidgetForm, error) {
	query := `
		SELECT id, tenant_id, agent_id, name, allowed_domains
		FROM widget_forms
		WHERE id = $1
	`
	f := &domain.WidgetForm{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.TenantID, &f.AgentID, &f.Name, pq.Array(&f.AllowedDomains),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrFormNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// LeadsRepository persists inbound leads.
type LeadsRepository struct {
	db *sql.DB
}

// NewLeadsRepository creates a new leads repository.
func NewLeadsRepository(db *sql.DB) *LeadsRepository {
	return &LeadsRepository{db: db}
}

// Create inserts a new lead.
func (r *LeadsRepository) Create(ctx context.Context, l *domain.Lead) error {
	query := `
		INSERT INTO leads (id, tenant_id, form_id, name, phone, email, notes, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.TenantID, l.FormID, l.Name, l.Phone, l.Email, l.Notes, l.Source, l.CreatedAt,
	)
	return err
}
