package stripe

import (
	"context"
	"errors"
	"net/http"

	"github.com/meetpay/meetpay/internal/gateway"
	"github.com/meetpay/meetpay/internal/observability/tracing"
	stripelib "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// Config carries the provider credentials.
type Config struct {
	SecretKey string
}

// Client implements gateway.Gateway and gateway.Accounts on Stripe.
// Charges are destination charges: the payer's customer is debited, the
// application fee stays on the platform, the remainder is transferred to
// the receiver's connected account.
type Client struct {
	api *client.API
	log *zap.Logger
}

// New builds a Stripe-backed gateway. The HTTP client is wrapped so every
// provider call carries a span.
func New(cfg Config, log *zap.Logger) *Client {
	httpClient := tracing.WrapHTTPClient(&http.Client{})
	api := &client.API{}
	api.Init(cfg.SecretKey, &stripelib.Backends{
		API: stripelib.GetBackendWithConfig(stripelib.APIBackend, &stripelib.BackendConfig{
			HTTPClient:        httpClient,
			LeveledLogger:     &stripelib.LeveledLogger{Level: stripelib.LevelError},
			MaxNetworkRetries: stripelib.Int64(0),
		}),
	})
	return &Client{api: api, log: log.Named("gateway.stripe")}
}

// CreateCharge issues one destination charge and normalizes any provider
// failure into a gateway.Error.
func (c *Client) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	params := &stripelib.ChargeParams{
		Params:               stripelib.Params{Context: ctx},
		Amount:               stripelib.Int64(req.Amount),
		Currency:             stripelib.String(req.Currency),
		Customer:             stripelib.String(req.PayerCustomerID),
		ApplicationFeeAmount: stripelib.Int64(req.ApplicationFeeAmount),
		Destination: &stripelib.ChargeDestinationParams{
			Account: stripelib.String(req.ReceiverAccountID),
		},
	}
	if req.Description != "" {
		params.Description = stripelib.String(req.Description)
	}
	params.AddMetadata("meeting_id", req.MeetingID)

	charge, err := c.api.Charges.New(params)
	if err != nil {
		mapped := mapError(err)
		c.log.Warn("charge failed",
			zap.String("meeting_id", req.MeetingID),
			zap.String("kind", string(mapped.Kind)),
		)
		return nil, mapped
	}
	return &gateway.Charge{
		ProviderChargeID: charge.ID,
		Amount:           charge.Amount,
		Currency:         string(charge.Currency),
		Paid:             charge.Paid,
	}, nil
}

// CreateReceiverAccount provisions an express connected account.
func (c *Client) CreateReceiverAccount(ctx context.Context, req gateway.ReceiverAccountRequest) (string, error) {
	params := &stripelib.AccountParams{
		Params: stripelib.Params{Context: ctx},
		Type:   stripelib.String(string(stripelib.AccountTypeExpress)),
	}
	if req.Email != "" {
		params.Email = stripelib.String(req.Email)
	}
	if req.Country != "" {
		params.Country = stripelib.String(req.Country)
	}
	account, err := c.api.Accounts.New(params)
	if err != nil {
		return "", mapError(err)
	}
	return account.ID, nil
}

// CreatePayerCustomer provisions a customer carrying the chargeable source.
func (c *Client) CreatePayerCustomer(ctx context.Context, req gateway.PayerCustomerRequest) (string, error) {
	params := &stripelib.CustomerParams{
		Params: stripelib.Params{Context: ctx},
	}
	if req.Email != "" {
		params.Email = stripelib.String(req.Email)
	}
	if req.SourceToken != "" {
		params.Source = stripelib.String(req.SourceToken)
	}
	customer, err := c.api.Customers.New(params)
	if err != nil {
		return "", mapError(err)
	}
	return customer.ID, nil
}

// CloseCustomer deletes the provider-side customer when a ledger is
// orphaned.
func (c *Client) CloseCustomer(ctx context.Context, customerID string) error {
	if _, err := c.api.Customers.Del(customerID, &stripelib.CustomerParams{
		Params: stripelib.Params{Context: ctx},
	}); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError folds the provider's error taxonomy into ours. Stripe reports
// authentication failures as invalid_request with a 401, so the status
// code decides between the two kinds. Anything that never produced a
// provider response, timeouts included, is a connection error.
func mapError(err error) *gateway.Error {
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		kind := gateway.KindProviderInternal
		switch stripeErr.Type {
		case stripelib.ErrorTypeCard:
			kind = gateway.KindCardDeclined
		case stripelib.ErrorTypeInvalidRequest, stripelib.ErrorTypeIdempotency:
			kind = gateway.KindInvalidRequest
			if stripeErr.HTTPStatusCode == http.StatusUnauthorized {
				kind = gateway.KindAuthError
			}
		case stripelib.ErrorTypeAPI:
			kind = gateway.KindProviderInternal
		}
		return &gateway.Error{
			Kind:      kind,
			Message:   stripeErr.Msg,
			RequestID: stripeErr.RequestID,
		}
	}
	return &gateway.Error{Kind: gateway.KindConnectionError, Message: err.Error()}
}
