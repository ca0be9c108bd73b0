package ledger

import (
	"errors"
	"time"

	"github.com/meetpay/meetpay/internal/store"
	"github.com/meetpay/meetpay/pkg/id"
)

var (
	// ErrNotFound reports that an owner has no ledger.
	ErrNotFound = errors.New("ledger_not_found")
	// ErrAmbiguousLedger reports more than one ledger for one owner, a
	// structural invariant violation that is never worked around.
	ErrAmbiguousLedger = errors.New("ambiguous_ledger")
	// ErrAlreadyExists reports an attempt to create a second ledger for an
	// owner.
	ErrAlreadyExists = errors.New("ledger_already_exists")
)

// Role distinguishes the money-receiving party from the money-paying one.
// The role decides which kind of provider identity backs the ledger: a
// connected account for receivers, a chargeable customer for payers.
type Role string

const (
	RoleReceiver Role = "RECEIVER"
	RolePayer    Role = "PAYER"
)

// State tracks the ledger lifecycle. Ledgers are never hard-deleted while
// any history references them; owner deletion orphans them instead.
type State string

const (
	StateActive   State = "ACTIVE"
	StateOrphaned State = "ORPHANED"
)

// Event is one append-only settlement audit entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Ledger is the per-owner settlement record: the provider identity on one
// side, the event log on the other.
type Ledger struct {
	ID                id.ID   `json:"id,omitempty"`
	OwnerID           string  `json:"ownerId"`
	Role              Role    `json:"role"`
	ExternalAccountID string  `json:"externalAccountId,omitempty"`
	Currency          string  `json:"currency"`
	State             State   `json:"state"`
	Events            []Event `json:"events,omitempty"`
}

// Validate is the create-time hook run by the store.
func Validate(l *Ledger) *store.Refusal {
	if l.OwnerID == "" {
		return &store.Refusal{Reason: "ownerId is required"}
	}
	if l.Role != RoleReceiver && l.Role != RolePayer {
		return &store.Refusal{Reason: "role must be RECEIVER or PAYER"}
	}
	if l.Currency == "" {
		return &store.Refusal{Reason: "currency is required"}
	}
	return nil
}
