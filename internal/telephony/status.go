package telephony

import (
	"strings"

	"github.com/tendant/callgate/internal/domain"
)

// ParseCallStatus maps a provider call status to a domain status. terminal is
// false for queued, ringing and in-progress calls.
func ParseCallStatus(s string) (status domain.CallStatus, terminal bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed":
		return domain.CallStatusCompleted, true
	case "busy":
		return domain.CallStatusBusy, true
	case "no-answer", "no_answer":
		return domain.CallStatusNoAnswer, true
	case "failed":
		return domain.CallStatusFailed, true
	case "canceled", "cancelled":
		return domain.CallStatusCanceled, true
	default:
		return domain.CallStatusInitiated, false
	}
}
