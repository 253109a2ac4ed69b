// Package events publishes domain events to NATS and consumes call lifecycle
// events from the voice runtime.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tendant/callgate/internal/domain"
)

// Subjects.
const (
	SubjectCallStarted           = "callgate.calls.started"
	SubjectVerificationCompleted = "callgate.verification.completed"
	SubjectPlanUpdated           = "callgate.plans.updated"
	SubjectCallEnded             = "voice.calls.ended"
)

// CallStarted is published after a call attempt is recorded.
type CallStarted struct {
	TenantID       string            `json:"tenant_id"`
	CallAttemptID  string            `json:"call_attempt_id"`
	ProviderCallID string            `json:"provider_call_id"`
	From           string            `json:"from"`
	To             string            `json:"to"`
	Source         domain.CallSource `json:"source"`
	LeadID         string            `json:"lead_id,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
}

// VerificationCompleted is published when a verification reaches a terminal status.
type VerificationCompleted struct {
	TenantID      string                    `json:"tenant_id"`
	PhoneNumberID string                    `json:"phone_number_id"`
	Number        string                    `json:"number"`
	Status        domain.VerificationStatus `json:"status"`
	Via           string                    `json:"via"`
}

// PlanUpdated is published after a billing event rewrites a tenant's plan.
type PlanUpdated struct {
	TenantID  string      `json:"tenant_id"`
	EventType string      `json:"event_type"`
	Plan      domain.Plan `json:"plan"`
}

// CallEnded is emitted by the voice runtime when a call finishes.
type CallEnded struct {
	ProviderCallID  string            `json:"provider_call_id"`
	Status          domain.CallStatus `json:"status"`
	DurationSeconds int               `json:"duration_seconds"`
	EndedAt         time.Time         `json:"ended_at"`
}

// Publisher publishes events. Failures are logged and never returned.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any)
}

// NATSPublisher publishes JSON payloads on a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher creates a publisher on nc.
func NewNATSPublisher(nc *nats.Conn, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, logger: logger.With("component", "events")}
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode event", "subject", subject, "error", err)
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.WarnContext(ctx, "failed to publish event", "subject", subject, "error", err)
	}
}

// Nop discards events. Used when NATS is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) {}

// Message is an event captured by Recorder.
type Message struct {
	Subject string
	Payload any
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Publish(_ context.Context, subject string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Subject: subject, Payload: payload})
}

// Messages returns the events published on subject.
func (r *Recorder) Messages(subject string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}
