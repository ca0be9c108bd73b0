package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/meetpay/meetpay/internal/clock"
	"github.com/meetpay/meetpay/internal/config"
	"github.com/meetpay/meetpay/internal/gateway"
	"github.com/meetpay/meetpay/internal/ledger"
	"github.com/meetpay/meetpay/internal/meeting"
	"github.com/meetpay/meetpay/internal/observability/metrics"
	"github.com/meetpay/meetpay/internal/settlement"
	"github.com/meetpay/meetpay/internal/store"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeGateway struct {
	calls int
	err   error
}

func (f *fakeGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Charge{ProviderChargeID: "ch_1", Amount: req.Amount, Paid: true}, nil
}

type fakeAccounts struct{}

func (fakeAccounts) CreateReceiverAccount(ctx context.Context, req gateway.ReceiverAccountRequest) (string, error) {
	return "acct_r", nil
}

func (fakeAccounts) CreatePayerCustomer(ctx context.Context, req gateway.PayerCustomerRequest) (string, error) {
	return "cus_p", nil
}

func (fakeAccounts) CloseCustomer(ctx context.Context, customerID string) error { return nil }

type nopNotifier struct{}

func (nopNotifier) MessageReceived(ctx context.Context, m *meeting.Meeting)    {}
func (nopNotifier) MeetingTimeChanged(ctx context.Context, m *meeting.Meeting) {}

type testEnv struct {
	router   *gin.Engine
	meetings *meeting.Service
	ledgers  *ledger.Service
	gw       *fakeGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	meetingCol := store.NewCollection[meeting.Meeting](db, node, log, "meetings", store.WithValidator(meeting.Validate))
	ledgerCol := store.NewCollection[ledger.Ledger](db, node, log, "ledgers", store.WithValidator(ledger.Validate))
	for _, ensure := range []func(context.Context) error{meetingCol.EnsureTable, ledgerCol.EnsureTable} {
		if err := ensure(context.Background()); err != nil {
			t.Fatalf("ensure table: %v", err)
		}
	}

	meetings := meeting.NewService(meetingCol, nopNotifier{}, fake, log)
	ledgers := ledger.NewService(ledgerCol, fakeAccounts{}, fake, log)
	gw := &fakeGateway{}
	settlementSvc := settlement.NewService(meetings, ledgers, gw,
		metrics.Settlement(metrics.Config{ServiceName: "meetpay-test"}),
		nil, log,
		settlement.Config{PlatformCut: 0.1, GatewayTimeout: time.Second},
	)

	cfg := config.Config{Environment: "test", AdminToken: "secret"}
	srv := NewServer(cfg, log, meetings, ledgers, settlementSvc)
	return &testEnv{router: srv.Router(), meetings: meetings, ledgers: ledgers, gw: gw}
}

func (e *testEnv) request(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedSettleable(t *testing.T) *meeting.Meeting {
	t.Helper()
	for _, params := range []ledger.CreateParams{
		{OwnerID: "0000000000000aaa", Role: ledger.RolePayer},
		{OwnerID: "0000000000000bbb", Role: ledger.RoleReceiver},
	} {
		if _, err := e.ledgers.Create(context.Background(), params); err != nil {
			t.Fatalf("seed ledger: %v", err)
		}
	}
	m := &meeting.Meeting{
		Payer:     meeting.Participant{OwnerID: "0000000000000aaa"},
		Receiver:  meeting.Participant{OwnerID: "0000000000000bbb"},
		StartTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix(),
		Duration:  3600,
		Rate:      100,
		State:     meeting.StateNeedsPayment,
	}
	res, err := e.meetings.Create(context.Background(), m)
	if err != nil || !res.Accepted {
		t.Fatalf("seed meeting: %v %+v", err, res)
	}
	return m
}

func TestSettleRequiresAdminToken(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedSettleable(t)

	w := env.request(t, http.MethodPost, "/admin/api/meetings/"+m.ID.String()+"/settle", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if env.gw.calls != 0 {
		t.Fatalf("gateway must not be called, got %d", env.gw.calls)
	}
}

func TestSettleEndpointSuccess(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedSettleable(t)

	w := env.request(t, http.MethodPost, "/admin/api/meetings/"+m.ID.String()+"/settle", "",
		map[string]string{"X-Admin-Token": "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Meeting struct {
			State string `json:"state"`
		} `json:"meeting"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Meeting.State != string(meeting.StatePaymentSettled) {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}
}

func TestSettleEndpointRefusedStateCarriesMeeting(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedSettleable(t)
	if _, err := env.meetings.Apply(context.Background(), m.ID.String(), meeting.StateChange{State: meeting.StatePlanned}); err != nil {
		t.Fatalf("move to planned: %v", err)
	}

	w := env.request(t, http.MethodPost, "/admin/api/meetings/"+m.ID.String()+"/settle", "",
		map[string]string{"X-Admin-Token": "secret"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "\"meeting\"") {
		t.Fatalf("response must carry the meeting reference: %s", w.Body.String())
	}
	if env.gw.calls != 0 {
		t.Fatalf("gateway must not be called, got %d", env.gw.calls)
	}
}

func TestGetMeetingInvalidID(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/meetings/not-hex", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetMeetingMissing(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/meetings/00000000000000ff", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateAndFetchLedger(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/owners/0000000000000aaa/ledger",
		`{"role":"payer","sourceToken":"tok_visa"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.request(t, http.MethodGet, "/api/owners/0000000000000aaa/ledger", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "\"PAYER\"") {
		t.Fatalf("unexpected ledger body: %s", w.Body.String())
	}

	w = env.request(t, http.MethodPost, "/api/owners/0000000000000aaa/ledger",
		`{"role":"payer"}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second ledger must conflict, got %d", w.Code)
	}
}

func TestUpdateMeetingUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedSettleable(t)

	w := env.request(t, http.MethodPut, "/api/meetings/"+m.ID.String(), `{"kind":"mystery"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateMeetingValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/meetings",
		`{"payerOwnerId":"0000000000000aaa","receiverOwnerId":"0000000000000bbb","startTime":1767225600,"duration":0,"rate":100}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero duration, got %d: %s", w.Code, w.Body.String())
	}

	w = env.request(t, http.MethodPost, "/api/meetings",
		`{"payerOwnerId":"0000000000000aaa","receiverOwnerId":"0000000000000bbb","startTime":1767225600,"duration":3600,"rate":100}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
