package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/meetpay/meetpay/internal/clock"
	"github.com/meetpay/meetpay/internal/events"
	"github.com/meetpay/meetpay/internal/gateway"
	"github.com/meetpay/meetpay/internal/ledger"
	"github.com/meetpay/meetpay/internal/meeting"
	"github.com/meetpay/meetpay/internal/observability/metrics"
	"github.com/meetpay/meetpay/internal/store"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeGateway struct {
	calls    int
	lastReq  gateway.ChargeRequest
	err      error
	block    bool
	onCharge func()
}

func (f *fakeGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	f.calls++
	f.lastReq = req
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.onCharge != nil {
		f.onCharge()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Charge{
		ProviderChargeID: "ch_1",
		Amount:           req.Amount,
		Currency:         req.Currency,
		Paid:             true,
	}, nil
}

type fakeAccounts struct{}

func (fakeAccounts) CreateReceiverAccount(ctx context.Context, req gateway.ReceiverAccountRequest) (string, error) {
	return "acct_receiver", nil
}

func (fakeAccounts) CreatePayerCustomer(ctx context.Context, req gateway.PayerCustomerRequest) (string, error) {
	return "cus_payer", nil
}

func (fakeAccounts) CloseCustomer(ctx context.Context, customerID string) error { return nil }

type nopNotifier struct{}

func (nopNotifier) MessageReceived(ctx context.Context, m *meeting.Meeting)    {}
func (nopNotifier) MeetingTimeChanged(ctx context.Context, m *meeting.Meeting) {}

func storeCollection[T any](t *testing.T, db *gorm.DB, node *snowflake.Node, log *zap.Logger, name string, validate func(*T) *store.Refusal) *store.Collection[T] {
	t.Helper()
	col := store.NewCollection[T](db, node, log, name, store.WithValidator(validate))
	if err := col.EnsureTable(context.Background()); err != nil {
		t.Fatalf("ensure table %s: %v", name, err)
	}
	return col
}

type harness struct {
	svc      *Service
	meetings *meeting.Service
	ledgers  *ledger.Service
	gw       *fakeGateway
	db       *gorm.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	log := zap.NewNop()
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	meetingCol := storeCollection[meeting.Meeting](t, db, node, log, "meetings", meeting.Validate)
	ledgerCol := storeCollection[ledger.Ledger](t, db, node, log, "ledgers", ledger.Validate)

	meetings := meeting.NewService(meetingCol, nopNotifier{}, fake, log)
	ledgers := ledger.NewService(ledgerCol, fakeAccounts{}, fake, log)
	gw := &fakeGateway{}

	outbox := events.NewOutbox(db, node)
	if err := outbox.EnsureTable(context.Background()); err != nil {
		t.Fatalf("ensure outbox table: %v", err)
	}

	svc := NewService(meetings, ledgers, gw,
		metrics.Settlement(metrics.Config{ServiceName: "meetpay-test"}),
		outbox,
		log,
		Config{PlatformCut: 0.1, GatewayTimeout: 100 * time.Millisecond},
	)
	return &harness{svc: svc, meetings: meetings, ledgers: ledgers, gw: gw, db: db}
}

func (h *harness) countOutboxEvents(t *testing.T, eventType string) int {
	t.Helper()
	var count int64
	err := h.db.Raw(`SELECT COUNT(*) FROM settlement_events WHERE event_type = ?`, eventType).Scan(&count).Error
	if err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	return int(count)
}

func (h *harness) seedMeeting(t *testing.T, state meeting.State) *meeting.Meeting {
	t.Helper()
	m := &meeting.Meeting{
		Payer:     meeting.Participant{OwnerID: "0000000000000aaa"},
		Receiver:  meeting.Participant{OwnerID: "0000000000000bbb"},
		StartTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix(),
		Duration:  3600,
		Rate:      100,
		State:     state,
	}
	res, err := h.meetings.Create(context.Background(), m)
	if err != nil || !res.Accepted {
		t.Fatalf("seed meeting: %v %+v", err, res)
	}
	return m
}

func (h *harness) seedLedgers(t *testing.T) {
	t.Helper()
	for _, params := range []ledger.CreateParams{
		{OwnerID: "0000000000000aaa", Role: ledger.RolePayer},
		{OwnerID: "0000000000000bbb", Role: ledger.RoleReceiver},
	} {
		if _, err := h.ledgers.Create(context.Background(), params); err != nil {
			t.Fatalf("seed ledger for %s: %v", params.OwnerID, err)
		}
	}
}

func TestSettleSuccess(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StateNeedsPayment)
	h.seedLedgers(t)

	result, err := h.svc.Settle(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !result.Settled() {
		t.Fatalf("expected settled outcome, got %+v", result)
	}
	if result.Meeting.State != meeting.StatePaymentSettled {
		t.Fatalf("expected PAYMENT_SETTLED, got %s", result.Meeting.State)
	}

	if h.gw.calls != 1 {
		t.Fatalf("expected 1 gateway call, got %d", h.gw.calls)
	}
	if h.gw.lastReq.Amount != 6000 {
		t.Fatalf("expected amount 6000, got %d", h.gw.lastReq.Amount)
	}
	if h.gw.lastReq.ApplicationFeeAmount != 600 {
		t.Fatalf("expected platform cut 600, got %d", h.gw.lastReq.ApplicationFeeAmount)
	}
	if h.gw.lastReq.PayerCustomerID != "cus_payer" || h.gw.lastReq.ReceiverAccountID != "acct_receiver" {
		t.Fatalf("wrong accounts on charge: %+v", h.gw.lastReq)
	}
	if h.gw.lastReq.MeetingID != m.ID.String() {
		t.Fatalf("meeting id missing from charge metadata: %+v", h.gw.lastReq)
	}

	sl := result.Meeting.SettlingLog
	if len(sl) != 2 {
		t.Fatalf("expected started+settled entries, got %+v", sl)
	}
	if sl[0].Message != "Meeting settle process started" || sl[1].Message != "Meeting settled" {
		t.Fatalf("unexpected settling log: %+v", sl)
	}

	payerLedger, err := h.ledgers.FindByOwner(context.Background(), "0000000000000aaa")
	if err != nil {
		t.Fatalf("payer ledger: %v", err)
	}
	if len(payerLedger.Events) != 1 || !strings.Contains(payerLedger.Events[0].Message, "Payer charged") {
		t.Fatalf("payer event missing: %+v", payerLedger.Events)
	}
	receiverLedger, err := h.ledgers.FindByOwner(context.Background(), "0000000000000bbb")
	if err != nil {
		t.Fatalf("receiver ledger: %v", err)
	}
	if len(receiverLedger.Events) != 1 || !strings.Contains(receiverLedger.Events[0].Message, "received money") {
		t.Fatalf("receiver event missing: %+v", receiverLedger.Events)
	}
	if got := h.countOutboxEvents(t, events.EventSettlementSettled); got != 1 {
		t.Fatalf("expected 1 settled outbox event, got %d", got)
	}
}

func TestSettleCardDeclined(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StateNeedsPayment)
	h.seedLedgers(t)
	h.gw.err = &gateway.Error{Kind: gateway.KindCardDeclined, Message: "Your card was declined."}

	result, err := h.svc.Settle(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %+v", result)
	}
	if result.Meeting.State != meeting.StatePaymentTrouble {
		t.Fatalf("expected PAYMENT_TROUBLE, got %s", result.Meeting.State)
	}
	if !strings.Contains(result.Cause, "declined") {
		t.Fatalf("cause must carry the decline text, got %q", result.Cause)
	}

	sl := result.Meeting.SettlingLog
	if len(sl) != 2 || !strings.Contains(sl[1].Message, "declined") {
		t.Fatalf("settling log must record the cause: %+v", sl)
	}

	payerLedger, err := h.ledgers.FindByOwner(context.Background(), "0000000000000aaa")
	if err != nil {
		t.Fatalf("payer ledger: %v", err)
	}
	if len(payerLedger.Events) != 1 || !strings.Contains(payerLedger.Events[0].Message, "declined") {
		t.Fatalf("payer failure event missing: %+v", payerLedger.Events)
	}
	if got := h.countOutboxEvents(t, events.EventSettlementFailed); got != 1 {
		t.Fatalf("expected 1 failed outbox event, got %d", got)
	}
}

func TestSettleRefusedFromPlannedState(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StatePlanned)
	h.seedLedgers(t)

	result, err := h.svc.Settle(context.Background(), m.ID.String())
	if !errors.Is(err, ErrInvalidMeetingState) {
		t.Fatalf("expected ErrInvalidMeetingState, got %v", err)
	}
	if h.gw.calls != 0 {
		t.Fatalf("gateway must not be called, got %d calls", h.gw.calls)
	}
	if result == nil || result.Meeting == nil {
		t.Fatal("result must carry the meeting reference")
	}

	got, err := h.meetings.FindByID(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("reload meeting: %v", err)
	}
	if got.State != meeting.StatePlanned || len(got.SettlingLog) != 0 {
		t.Fatalf("refused settle must not mutate the meeting: %+v", got)
	}
}

func TestSettleMissingPayerLedger(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StateNeedsPayment)
	if _, err := h.ledgers.Create(context.Background(), ledger.CreateParams{
		OwnerID: "0000000000000bbb",
		Role:    ledger.RoleReceiver,
	}); err != nil {
		t.Fatalf("seed receiver ledger: %v", err)
	}

	result, err := h.svc.Settle(context.Background(), m.ID.String())
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ledger not found, got %v", err)
	}
	if h.gw.calls != 0 {
		t.Fatalf("gateway must not be called, got %d calls", h.gw.calls)
	}
	if result == nil || result.Meeting == nil {
		t.Fatal("result must carry the meeting reference")
	}
}

func TestSettleMissingMeeting(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Settle(context.Background(), "00000000000000ff")
	if !errors.Is(err, ErrMeetingNotFound) {
		t.Fatalf("expected ErrMeetingNotFound, got %v", err)
	}
	if h.gw.calls != 0 {
		t.Fatalf("gateway must not be called, got %d calls", h.gw.calls)
	}
}

func TestSettleIdempotenceAfterSuccess(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StateNeedsPayment)
	h.seedLedgers(t)

	if _, err := h.svc.Settle(context.Background(), m.ID.String()); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	_, err := h.svc.Settle(context.Background(), m.ID.String())
	if !errors.Is(err, ErrInvalidMeetingState) {
		t.Fatalf("second settle must be refused, got %v", err)
	}
	if h.gw.calls != 1 {
		t.Fatalf("expected exactly 1 charge, got %d", h.gw.calls)
	}
}

func TestSettleRetryAfterTrouble(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StateNeedsPayment)
	h.seedLedgers(t)

	h.gw.err = &gateway.Error{Kind: gateway.KindProviderInternal, Message: "provider internal error"}
	result, err := h.svc.Settle(context.Background(), m.ID.String())
	if err != nil || result.Outcome != OutcomeFailed {
		t.Fatalf("first settle: %v %+v", err, result)
	}

	h.gw.err = nil
	result, err = h.svc.Settle(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("retry settle: %v", err)
	}
	if !result.Settled() {
		t.Fatalf("retry from PAYMENT_TROUBLE must be allowed, got %+v", result)
	}
	if h.gw.calls != 2 {
		t.Fatalf("expected 2 charges, got %d", h.gw.calls)
	}
}

func TestSettleGatewayTimeoutMovesToTrouble(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StateNeedsPayment)
	h.seedLedgers(t)
	h.gw.block = true

	result, err := h.svc.Settle(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("timeout must be a failure, got %+v", result)
	}
	if result.Meeting.State != meeting.StatePaymentTrouble {
		t.Fatalf("ambiguous gateway outcome must land in PAYMENT_TROUBLE, got %s", result.Meeting.State)
	}
	if !strings.Contains(result.Cause, "timed out") {
		t.Fatalf("expected timeout cause, got %q", result.Cause)
	}
}

func TestSettleRecordsOutcomeWhenCallerGoesAway(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StateNeedsPayment)
	h.seedLedgers(t)

	// The caller disconnects the instant the charge completes. The money
	// has moved, so the bookkeeping must still land.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.gw.onCharge = cancel

	result, err := h.svc.Settle(ctx, m.ID.String())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !result.Settled() {
		t.Fatalf("expected settled outcome, got %+v", result)
	}

	got, err := h.meetings.FindByID(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("reload meeting: %v", err)
	}
	if got.State != meeting.StatePaymentSettled {
		t.Fatalf("expected PAYMENT_SETTLED, got %s", got.State)
	}
	if len(got.SettlingLog) != 2 {
		t.Fatalf("expected started+settled entries, got %+v", got.SettlingLog)
	}

	_, err = h.svc.Settle(context.Background(), m.ID.String())
	if !errors.Is(err, ErrInvalidMeetingState) {
		t.Fatalf("re-trigger must be refused, got %v", err)
	}
	if h.gw.calls != 1 {
		t.Fatalf("expected exactly 1 charge, got %d", h.gw.calls)
	}
}

func TestSettleRecordsFailureWhenCallerGoesAway(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StateNeedsPayment)
	h.seedLedgers(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.gw.onCharge = cancel
	h.gw.err = &gateway.Error{Kind: gateway.KindCardDeclined, Message: "Your card was declined."}

	result, err := h.svc.Settle(ctx, m.ID.String())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %+v", result)
	}

	got, err := h.meetings.FindByID(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("reload meeting: %v", err)
	}
	if got.State != meeting.StatePaymentTrouble {
		t.Fatalf("expected PAYMENT_TROUBLE, got %s", got.State)
	}
}

func TestPublishOutcomeKeepsDistinctPartials(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StateNeedsPayment)

	// Two degraded attempts can carry the same stale settling log. Both
	// must survive the dedupe, each names its own cause.
	for _, cause := range []string{"ledger write failed", "state write failed"} {
		h.svc.publishOutcome(context.Background(), &Result{
			Outcome: OutcomePartial,
			Meeting: m,
			Cause:   cause,
		})
	}

	if got := h.countOutboxEvents(t, events.EventSettlementPartial); got != 2 {
		t.Fatalf("expected 2 partial outbox events, got %d", got)
	}
}

func TestSettleDegradedSuccessWhenStateRaceLost(t *testing.T) {
	h := newHarness(t)
	m := h.seedMeeting(t, meeting.StateNeedsPayment)
	h.seedLedgers(t)

	// A concurrent settle wins between our charge and our state write.
	h.gw.onCharge = func() {
		if _, err := h.meetings.LogSettleAsDone(context.Background(), m.ID.String()); err != nil {
			t.Errorf("concurrent settle transition: %v", err)
		}
	}

	result, err := h.svc.Settle(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.Outcome != OutcomePartial {
		t.Fatalf("charge succeeded but bookkeeping was incomplete, expected partial, got %+v", result)
	}
	if result.Meeting == nil {
		t.Fatal("result must carry the meeting reference")
	}
	if result.Cause == "" {
		t.Fatal("partial outcome must say what went wrong")
	}
}
