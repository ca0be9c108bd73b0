package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/meetpay/meetpay/internal/events"
	"github.com/meetpay/meetpay/internal/gateway"
	"github.com/meetpay/meetpay/internal/ledger"
	"github.com/meetpay/meetpay/internal/meeting"
	"github.com/meetpay/meetpay/internal/observability/metrics"
	"github.com/meetpay/meetpay/internal/observability/tracing"
	"github.com/meetpay/meetpay/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config bounds the gateway call and fixes the platform's cut of every
// charge.
type Config struct {
	PlatformCut    float64
	GatewayTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PlatformCut <= 0 {
		c.PlatformCut = 0.1
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 30 * time.Second
	}
	return c
}

// Service runs the settlement workflow: validate, audit, charge, record.
// The steps chain independently-failing operations with no distributed
// transaction; the settling log written before the charge is what keeps
// the system diagnosable when a later step dies.
type Service struct {
	meetings *meeting.Service
	ledgers  *ledger.Service
	gw       gateway.Gateway
	metrics  *metrics.SettlementMetrics
	outbox   *events.Outbox
	tracer   trace.Tracer
	log      *zap.Logger
	cfg      Config
}

// NewService builds the orchestrator.
func NewService(meetings *meeting.Service, ledgers *ledger.Service, gw gateway.Gateway, m *metrics.SettlementMetrics, outbox *events.Outbox, log *zap.Logger, cfg Config) *Service {
	return &Service{
		meetings: meetings,
		ledgers:  ledgers,
		gw:       gw,
		metrics:  m,
		outbox:   outbox,
		tracer:   otel.Tracer("meetpay/settlement"),
		log:      log.Named("settlement"),
		cfg:      cfg.withDefaults(),
	}
}

// Settle runs one settlement attempt for the meeting. Once the meeting is
// located it is carried in the result, success or not. A gateway failure
// is reported in the result, not as an error; errors are reserved for
// preconditions and for store failures that kept the attempt from
// producing an outcome.
func (s *Service) Settle(ctx context.Context, meetingID string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "settlement.settle")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("meeting_id", meetingID),
	)...)

	result, err := s.settle(ctx, meetingID)
	if result != nil && result.Outcome != "" {
		span.SetAttributes(tracing.SafeAttributes(
			attribute.String("outcome", string(result.Outcome)),
		)...)
	}
	if err != nil {
		span.SetStatus(codes.Error, "settlement not completed")
	}
	return result, err
}

func (s *Service) settle(ctx context.Context, meetingID string) (*Result, error) {
	m, err := s.meetings.FindByID(ctx, meetingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMeetingNotFound, meetingID)
		}
		return nil, err
	}

	if !m.State.Settleable() {
		s.metrics.ObserveAttempt("refused")
		return &Result{Meeting: m}, fmt.Errorf("%w: meeting %s is %s", ErrInvalidMeetingState, meetingID, m.State)
	}

	// The start entry must land before the gateway is invoked. Once it is
	// durable, a crash after the charge is still diagnosable from the
	// stored log.
	if err := s.meetings.LogStartSettleProcess(ctx, meetingID); err != nil {
		return &Result{Meeting: m}, fmt.Errorf("record settlement start: %w", err)
	}

	var receiverLedger, payerLedger *ledger.Ledger
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		receiverLedger, err = s.ledgers.FindByOwner(gctx, m.Receiver.OwnerID)
		return err
	})
	g.Go(func() error {
		var err error
		payerLedger, err = s.ledgers.FindByOwner(gctx, m.Payer.OwnerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return &Result{Meeting: m}, err
	}

	charge, chargeErr := s.createCharge(ctx, m, payerLedger, receiverLedger)
	if chargeErr != nil {
		return s.recordFailure(ctx, m, chargeErr)
	}

	s.log.Info("charge created",
		zap.String("meeting_id", meetingID),
		zap.String("provider_charge_id", charge.ProviderChargeID),
		zap.Int64("amount", charge.Amount),
	)
	return s.recordSuccess(ctx, m)
}

func (s *Service) createCharge(ctx context.Context, m *meeting.Meeting, payerLedger, receiverLedger *ledger.Ledger) (*gateway.Charge, error) {
	amount := m.Amount()
	fee := int64(math.Floor(float64(amount) * s.cfg.PlatformCut))
	currency := payerLedger.Currency
	if currency == "" {
		currency = "usd"
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	charge, err := s.gw.CreateCharge(ctx, gateway.ChargeRequest{
		Amount:               amount,
		Currency:             currency,
		PayerCustomerID:      payerLedger.ExternalAccountID,
		ReceiverAccountID:    receiverLedger.ExternalAccountID,
		ApplicationFeeAmount: fee,
		MeetingID:            m.ID.String(),
		Description:          chargeDescription(m),
	})
	s.metrics.ObserveGatewayCall(time.Since(start))
	return charge, err
}

// recordSuccess runs the three independent post-charge writes in parallel.
// None of them can reverse the completed charge, so their failures degrade
// the outcome to partial instead of failing the settlement.
func (s *Service) recordSuccess(ctx context.Context, m *meeting.Meeting) (*Result, error) {
	// The charge is already live. A caller disconnect must not abandon the
	// meeting in a settleable state, or a re-trigger charges again.
	ctx = context.WithoutCancel(ctx)
	meetingID := m.ID.String()

	var sentErr, receivedErr, doneErr error
	var updated *meeting.Meeting
	var g errgroup.Group
	g.Go(func() error {
		sentErr = s.ledgers.MarkPaymentSent(ctx, m.Payer.OwnerID, meetingID)
		return nil
	})
	g.Go(func() error {
		receivedErr = s.ledgers.MarkPaymentReceived(ctx, m.Receiver.OwnerID, meetingID)
		return nil
	})
	g.Go(func() error {
		updated, doneErr = s.meetings.LogSettleAsDone(ctx, meetingID)
		return nil
	})
	_ = g.Wait()

	result := &Result{Outcome: OutcomeSettled, Meeting: m}
	if updated != nil {
		result.Meeting = updated
	}

	if sentErr != nil || receivedErr != nil || doneErr != nil {
		for _, err := range []error{sentErr, receivedErr, doneErr} {
			if err != nil {
				s.log.Error("post-charge write failed", zap.String("meeting_id", meetingID), zap.Error(err))
				result.Cause = err.Error()
			}
		}
		result.Outcome = OutcomePartial
		s.metrics.ObserveAttempt("partial")
		s.publishOutcome(ctx, result)
		return result, nil
	}

	s.metrics.ObserveAttempt("settled")
	s.publishOutcome(ctx, result)
	return result, nil
}

// recordFailure runs the two failure writes in parallel and reports the
// gateway's cause in the result. Even an ambiguous gateway response drives
// the meeting into PAYMENT_TROUBLE so an operator cannot re-trigger a
// double charge from NEEDS_PAYMENT.
func (s *Service) recordFailure(ctx context.Context, m *meeting.Meeting, chargeErr error) (*Result, error) {
	// The gateway call was issued. Its outcome is recorded even when the
	// caller has gone away.
	ctx = context.WithoutCancel(ctx)
	meetingID := m.ID.String()
	cause := causeOf(chargeErr)
	s.log.Error("charge failed", zap.String("meeting_id", meetingID), zap.String("cause", cause))

	var ledgerErr, meetingErr error
	var updated *meeting.Meeting
	var g errgroup.Group
	g.Go(func() error {
		ledgerErr = s.ledgers.MarkPaymentFailed(ctx, m.Payer.OwnerID, meetingID, cause)
		return nil
	})
	g.Go(func() error {
		updated, meetingErr = s.meetings.LogSettleAsFailed(ctx, meetingID, cause)
		return nil
	})
	_ = g.Wait()

	for _, err := range []error{ledgerErr, meetingErr} {
		if err != nil {
			s.log.Error("failure path write failed", zap.String("meeting_id", meetingID), zap.Error(err))
		}
	}

	result := &Result{Outcome: OutcomeFailed, Meeting: m, Cause: cause}
	if updated != nil {
		result.Meeting = updated
	}
	s.metrics.ObserveAttempt("failed")
	s.publishOutcome(ctx, result)
	return result, nil
}

// publishOutcome records the attempt in the settlement event outbox for
// downstream consumers. Best effort: a full outbox never blocks the
// settlement result.
func (s *Service) publishOutcome(ctx context.Context, result *Result) {
	if s.outbox == nil || result.Meeting == nil {
		return
	}
	meetingID := result.Meeting.ID.String()
	eventType := map[Outcome]string{
		OutcomeSettled: events.EventSettlementSettled,
		OutcomeFailed:  events.EventSettlementFailed,
		OutcomePartial: events.EventSettlementPartial,
	}[result.Outcome]

	// Settled and failed outcomes carry the post-transition settling log,
	// so its length distinguishes attempts. A partial outcome may hold the
	// stale pre-attempt log, so it gets an attempt-unique suffix instead
	// of risking two distinct partials colliding on one key.
	dedupe := fmt.Sprintf("%s:%s:%d", meetingID, result.Outcome, len(result.Meeting.SettlingLog))
	if result.Outcome == OutcomePartial {
		dedupe = fmt.Sprintf("%s:%d", dedupe, time.Now().UnixNano())
	}

	err := s.outbox.Publish(ctx, events.Event{
		MeetingID: meetingID,
		Type:      eventType,
		Payload: events.SettlementPayload{
			MeetingID: meetingID,
			Outcome:   string(result.Outcome),
			Cause:     result.Cause,
		}.ToMap(),
		DedupeKey: dedupe,
	})
	if err != nil {
		s.log.Warn("outbox publish failed", zap.String("meeting_id", meetingID), zap.Error(err))
	}
}

func chargeDescription(m *meeting.Meeting) string {
	day := time.Unix(m.StartTime, 0).UTC()
	return "Payment for meeting on " + day.Format("2.1.2006")
}

func causeOf(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "gateway call timed out"
	}
	return err.Error()
}
