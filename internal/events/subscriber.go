package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tendant/callgate/internal/domain"
)

// CallCompleter records the end of a call.
type CallCompleter interface {
	Complete(ctx context.Context, providerCallID string, status domain.CallStatus, durationSeconds int, endedAt time.Time) error
}

// CallEndedSubscriber consumes call end events from the voice runtime.
type CallEndedSubscriber struct {
	nc        *nats.Conn
	completer CallCompleter
	logger    *slog.Logger
	timeout   time.Duration
}

// NewCallEndedSubscriber creates a subscriber that forwards events to completer.
func NewCallEndedSubscriber(nc *nats.Conn, completer CallCompleter, logger *slog.Logger) *CallEndedSubscriber {
	return &CallEndedSubscriber{
		nc:        nc,
		completer: completer,
		logger:    logger.With("component", "call_ended_subscriber"),
		timeout:   10 * time.Second,
	}
}

// Start subscribes and blocks until ctx is cancelled.
func (s *CallEndedSubscriber) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe(SubjectCallEnded, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectCallEnded, err)
	}
	s.logger.Info("subscribed", "subject", SubjectCallEnded)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		s.logger.Warn("unsubscribe failed", "subject", SubjectCallEnded, "error", err)
	}
	return ctx.Err()
}

func (s *CallEndedSubscriber) handle(msg *nats.Msg) {
	var ev CallEnded
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Error("failed to decode call ended event", "error", err)
		return
	}
	if ev.ProviderCallID == "" {
		s.logger.Warn("call ended event without provider call id")
		return
	}
	if ev.Status == "" {
		ev.Status = domain.CallStatusCompleted
	}
	if ev.EndedAt.IsZero() {
		ev.EndedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.completer.Complete(ctx, ev.ProviderCallID, ev.Status, ev.DurationSeconds, ev.EndedAt); err != nil {
		s.logger.Error("failed to complete call", "provider_call_id", ev.ProviderCallID, "error", err)
	}
}
