package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type CallSource string

const (
	CallSourceDashboard CallSource = "dashboard"
	CallSourceWidget    CallSource = "widget"
)

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusCompleted CallStatus = "completed"
	CallStatusBusy      CallStatus = "busy"
	CallStatusNoAnswer  CallStatus = "no-answer"
	CallStatusFailed    CallStatus = "failed"
	CallStatusCanceled  CallStatus = "canceled"
)

// CallAttempt records one outbound call placed through admission.
// A row with a nil EndedAt counts as an in-flight call.
type CallAttempt struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	PhoneNumberID   uuid.UUID
	FromNumber      string
	ToNumber        string
	Source          CallSource
	LeadID          *uuid.UUID
	ProviderCallID  string
	Status          CallStatus
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds int
}

// BilledMinutes rounds the call duration up to whole minutes.
func (c *CallAttempt) BilledMinutes() int {
	if c.DurationSeconds <= 0 {
		return 0
	}
	return (c.DurationSeconds + 59) / 60
}

type DenyReason string

const (
	ReasonNumberNotVerified   DenyReason = "number_not_verified"
	ReasonConcurrencyExceeded DenyReason = "concurrency_exceeded"
	ReasonPoolExhausted       DenyReason = "pool_exhausted"
)

// Decision is the outcome of an admission check. It is never persisted.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason DenyReason) Decision { return Decision{Reason: reason} }

var ErrAdmissionDenied = errors.New("admission denied")

// AdmissionDeniedError is a business decision, not a system fault.
type AdmissionDeniedError struct {
	Reason DenyReason
}

func (e *AdmissionDeniedError) Error() string {
	return "admission denied: " + string(e.Reason)
}

func (e *AdmissionDeniedError) Is(target error) bool {
	return target == ErrAdmissionDenied
}
