package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/meetpay/meetpay/internal/clock"
	"github.com/meetpay/meetpay/internal/gateway"
	"github.com/meetpay/meetpay/internal/store"
	"go.uber.org/zap"
)

// CreateParams describes a new ledger plus the material needed to
// provision its provider identity.
type CreateParams struct {
	OwnerID     string
	Role        Role
	Currency    string
	Email       string
	Country     string
	SourceToken string
}

// Service owns ledger lifecycle and the settlement event log.
type Service struct {
	ledgers  *store.Collection[Ledger]
	accounts gateway.Accounts
	clock    clock.Clock
	log      *zap.Logger
}

// NewService builds the ledger service.
func NewService(ledgers *store.Collection[Ledger], accounts gateway.Accounts, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		ledgers:  ledgers,
		accounts: accounts,
		clock:    clk,
		log:      log.Named("ledger"),
	}
}

// FindByOwner resolves the single ledger for an owner. Zero matches is
// ErrNotFound; more than one is ErrAmbiguousLedger and indicates a
// data-integrity bug upstream.
func (s *Service) FindByOwner(ctx context.Context, ownerID string) (*Ledger, error) {
	matches, err := s.ledgers.Find(ctx, store.Query{Fields: map[string]any{"ownerId": ownerID}})
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: owner %s", ErrNotFound, ownerID)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: owner %s has %d ledgers", ErrAmbiguousLedger, ownerID, len(matches))
	}
}

// Create provisions the provider identity for the owner's role and inserts
// the ledger. A second ledger for the same owner is refused.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Ledger, error) {
	if _, err := s.FindByOwner(ctx, params.OwnerID); err == nil {
		return nil, fmt.Errorf("%w: owner %s", ErrAlreadyExists, params.OwnerID)
	} else if !isNotFound(err) {
		return nil, err
	}

	currency := params.Currency
	if currency == "" {
		currency = "usd"
	}

	var externalID string
	var err error
	switch params.Role {
	case RoleReceiver:
		externalID, err = s.accounts.CreateReceiverAccount(ctx, gateway.ReceiverAccountRequest{
			Email:   params.Email,
			Country: params.Country,
		})
	case RolePayer:
		externalID, err = s.accounts.CreatePayerCustomer(ctx, gateway.PayerCustomerRequest{
			Email:       params.Email,
			SourceToken: params.SourceToken,
		})
	default:
		return nil, fmt.Errorf("unknown ledger role %q", params.Role)
	}
	if err != nil {
		return nil, err
	}

	entry := &Ledger{
		OwnerID:           params.OwnerID,
		Role:              params.Role,
		ExternalAccountID: externalID,
		Currency:          currency,
		State:             StateActive,
	}
	res, err := s.ledgers.Create(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !res.Accepted {
		return nil, fmt.Errorf("ledger refused: %s", res.Reason)
	}
	s.log.Info("ledger created",
		zap.String("owner_id", params.OwnerID),
		zap.String("role", string(params.Role)),
	)
	return entry, nil
}

// Orphan marks the owner's ledger orphaned on account deletion. Payer
// customers are closed at the provider; receiver accounts cannot be
// closed once money has flowed through them, so only the record is marked.
func (s *Service) Orphan(ctx context.Context, ownerID string) error {
	entry, err := s.FindByOwner(ctx, ownerID)
	if err != nil {
		return err
	}

	if entry.Role == RolePayer {
		if err := s.accounts.CloseCustomer(ctx, entry.ExternalAccountID); err != nil {
			return err
		}
	} else {
		s.log.Warn("external receiver account left open on orphan",
			zap.String("owner_id", ownerID),
		)
	}

	if _, err := s.ledgers.PushToArray(ctx, entry.ID.String(), "events", Event{
		Timestamp: s.clock.Now(),
		Message:   "ledger orphaned due to owner account deletion",
	}); err != nil {
		return err
	}
	_, err = s.ledgers.SetField(ctx, entry.ID.String(), "state", StateOrphaned)
	return err
}

// AppendSettlementEvent appends one audit entry to the owner's ledger.
// Callers in the settlement path treat a failure here as degrading, not
// fatal: it never reverses a completed charge.
func (s *Service) AppendSettlementEvent(ctx context.Context, ownerID, message string) error {
	entry, err := s.FindByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	_, err = s.ledgers.PushToArray(ctx, entry.ID.String(), "events", Event{
		Timestamp: s.clock.Now(),
		Message:   message,
	})
	return err
}

// MarkPaymentSent records that the payer was charged for the meeting.
func (s *Service) MarkPaymentSent(ctx context.Context, ownerID, meetingID string) error {
	return s.AppendSettlementEvent(ctx, ownerID,
		fmt.Sprintf("Payer charged for meeting %s", meetingID))
}

// MarkPaymentReceived records that the receiver was paid for the meeting.
func (s *Service) MarkPaymentReceived(ctx context.Context, ownerID, meetingID string) error {
	return s.AppendSettlementEvent(ctx, ownerID,
		fmt.Sprintf("Receiver received money for meeting %s", meetingID))
}

// MarkPaymentFailed records a failed charge with its cause.
func (s *Service) MarkPaymentFailed(ctx context.Context, ownerID, meetingID, cause string) error {
	return s.AppendSettlementEvent(ctx, ownerID,
		fmt.Sprintf("Failed to charge payer for meeting %s because of %s", meetingID, cause))
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
