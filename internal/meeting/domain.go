package meeting

import (
	"errors"
	"time"

	"github.com/meetpay/meetpay/internal/store"
	"github.com/meetpay/meetpay/pkg/id"
)

// ErrUnknownUpdate reports an update payload the service does not handle.
var ErrUnknownUpdate = errors.New("unknown_update")

// State is the meeting lifecycle, including the settlement sub-states.
type State string

const (
	StatePendingReceiverConfirm State = "PENDING_RECEIVER_CONFIRM"
	StatePendingPayerConfirm    State = "PENDING_PAYER_CONFIRM"
	StatePlanned                State = "PLANNED"
	StateOngoing                State = "ONGOING"
	StateEndedNoFeedback        State = "ENDED_NO_FEEDBACK"
	StateNeedsPayment           State = "NEEDS_PAYMENT"
	StatePaymentTrouble         State = "PAYMENT_TROUBLE"
	StatePaymentSettled         State = "PAYMENT_SETTLED"
	StateCancelled              State = "CANCELLED"
)

var allStates = map[State]struct{}{
	StatePendingReceiverConfirm: {},
	StatePendingPayerConfirm:    {},
	StatePlanned:                {},
	StateOngoing:                {},
	StateEndedNoFeedback:        {},
	StateNeedsPayment:           {},
	StatePaymentTrouble:         {},
	StatePaymentSettled:         {},
	StateCancelled:              {},
}

// Valid reports whether the state is a member of the lifecycle.
func (s State) Valid() bool {
	_, ok := allStates[s]
	return ok
}

// Settleable reports whether a settlement attempt may start from this
// state. PAYMENT_TROUBLE is included so a failed attempt can be retried.
func (s State) Settleable() bool {
	return s == StateNeedsPayment || s == StatePaymentTrouble
}

// Participant references one party of the meeting by owner id. Ledgers are
// resolved from this reference at settlement time, never embedded.
type Participant struct {
	OwnerID string `json:"ownerId"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
}

// LogEntry is one general activity entry.
type LogEntry struct {
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Instigator string    `json:"instigator,omitempty"`
}

// SettleEntry is one entry of the append-only settling log. The settling
// log is the audit trail of settlement attempts, distinct from Logs.
type SettleEntry struct {
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// Meeting is the scheduled session between a payer and a receiver.
// StartTime is a unix timestamp in seconds, Duration is in seconds, Rate
// is minor units per minute.
type Meeting struct {
	ID          id.ID         `json:"id,omitempty"`
	Payer       Participant   `json:"payer"`
	Receiver    Participant   `json:"receiver"`
	StartTime   int64         `json:"startTime"`
	Duration    int64         `json:"duration"`
	Rate        int64         `json:"rate"`
	State       State         `json:"state"`
	Logs        []LogEntry    `json:"logs,omitempty"`
	SettlingLog []SettleEntry `json:"settlingLog,omitempty"`
}

// Amount is the charge total in minor units.
func (m *Meeting) Amount() int64 {
	return m.Duration / 60 * m.Rate
}

// EndTime is the scheduled end as a unix timestamp in seconds.
func (m *Meeting) EndTime() int64 {
	return m.StartTime + m.Duration
}

// Validate is the create-time hook run by the store.
func Validate(m *Meeting) *store.Refusal {
	if m.Payer.OwnerID == "" || m.Receiver.OwnerID == "" {
		return &store.Refusal{Reason: "payer and receiver are required"}
	}
	if m.Duration <= 0 {
		return &store.Refusal{Reason: "duration must be positive"}
	}
	if m.Rate <= 0 {
		return &store.Refusal{Reason: "rate must be positive"}
	}
	if m.State == "" {
		return &store.Refusal{Reason: "state is required"}
	}
	if !m.State.Valid() {
		return &store.Refusal{Reason: "unknown state " + string(m.State)}
	}
	return nil
}
