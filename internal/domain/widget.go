package domain

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a voice agent configuration with its bound outbound number.
type Agent struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Name          string
	PhoneNumberID *uuid.UUID
}

// WidgetForm is an embeddable lead form linked to one agent.
type WidgetForm struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	AgentID        uuid.UUID
	Name           string
	AllowedDomains []string
}

const LeadSourceWidget = "widget"

// Lead is an inbound contact captured from a form.
type Lead struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	FormID    *uuid.UUID
	Name      string
	Phone     string
	Email     *string
	Notes     *string
	Source    string
	CreatedAt time.Time
}
