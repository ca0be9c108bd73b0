package gateway

import (
	"context"
	"fmt"
)

// ErrorKind classifies provider failures into the categories settlement
// cares about. CardDeclined and InvalidRequest are terminal for the
// attempt; ConnectionError and ProviderInternal may succeed on retry;
// AuthError means our own credentials are bad.
type ErrorKind string

const (
	KindCardDeclined     ErrorKind = "card_declined"
	KindInvalidRequest   ErrorKind = "invalid_request"
	KindProviderInternal ErrorKind = "provider_internal"
	KindConnectionError  ErrorKind = "connection_error"
	KindAuthError        ErrorKind = "auth_error"
)

// Error is the normalized provider error. Settlement branches on Kind and
// records Message in the failure log.
type Error struct {
	Kind      ErrorKind
	Message   string
	RequestID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

// ChargeRequest describes one destination charge: the payer's customer is
// debited, the platform cut is retained, the rest lands on the receiver's
// connected account.
type ChargeRequest struct {
	Amount               int64 // minor units
	Currency             string
	PayerCustomerID      string
	ReceiverAccountID    string
	ApplicationFeeAmount int64 // minor units retained by the platform
	MeetingID            string
	Description          string
}

// Charge is the provider's view of a completed charge.
type Charge struct {
	ProviderChargeID string
	Amount           int64
	Currency         string
	Paid             bool
}

// Gateway creates charges against the external payment provider.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

// ReceiverAccountRequest provisions a connected account able to receive
// transfers.
type ReceiverAccountRequest struct {
	Email   string
	Country string
}

// PayerCustomerRequest provisions a customer with a chargeable source.
type PayerCustomerRequest struct {
	Email       string
	SourceToken string
}

// Accounts provisions and retires the provider-side identities backing a
// ledger.
type Accounts interface {
	CreateReceiverAccount(ctx context.Context, req ReceiverAccountRequest) (string, error)
	CreatePayerCustomer(ctx context.Context, req PayerCustomerRequest) (string, error)
	CloseCustomer(ctx context.Context, customerID string) error
}
