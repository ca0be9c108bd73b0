package settlement

import (
	"errors"

	"github.com/meetpay/meetpay/internal/meeting"
)

var (
	// ErrMeetingNotFound reports that the meeting id resolved to nothing.
	ErrMeetingNotFound = errors.New("meeting_not_found")
	// ErrInvalidMeetingState reports a settlement attempt from a state
	// other than NEEDS_PAYMENT or PAYMENT_TROUBLE. Settlement is refused
	// outright, never silently retried from another state.
	ErrInvalidMeetingState = errors.New("invalid_meeting_state")
)

// Outcome classifies a finished settlement attempt. Partial means the
// charge succeeded but one or more post-charge audit writes failed; money
// moved, bookkeeping is incomplete.
type Outcome string

const (
	OutcomeSettled Outcome = "settled"
	OutcomeFailed  Outcome = "failed"
	OutcomePartial Outcome = "partial"
)

// Result is the caller-facing settlement outcome. Meeting is populated as
// soon as the meeting was located, even when a later step fails, so
// operators can always reach the settling log.
type Result struct {
	Outcome Outcome          `json:"outcome"`
	Meeting *meeting.Meeting `json:"meeting,omitempty"`
	Cause   string           `json:"cause,omitempty"`
}

// Settled reports full success.
func (r *Result) Settled() bool { return r != nil && r.Outcome == OutcomeSettled }
