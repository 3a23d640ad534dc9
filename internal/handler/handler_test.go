package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/virtual-bank/internal/auction"
	"github.com/mmeshcher/virtual-bank/internal/economy"
	"github.com/mmeshcher/virtual-bank/internal/exchange"
	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/loan"
	"github.com/mmeshcher/virtual-bank/internal/metrics"
	"github.com/mmeshcher/virtual-bank/internal/middleware"
	"github.com/mmeshcher/virtual-bank/internal/model"
	"github.com/mmeshcher/virtual-bank/internal/repository"
	"github.com/mmeshcher/virtual-bank/internal/service"
)

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: model.ErrInsufficientHoldings, want: http.StatusPaymentRequired},
		{err: model.ErrInvalidPolicy, want: http.StatusBadRequest},
		{err: model.ErrLotNotFound, want: http.StatusNotFound},
		{err: model.ErrRequestAlreadyPending, want: http.StatusConflict},
		{err: model.ErrAdminRequired, want: http.StatusForbidden},
		{err: model.ErrAuctionNotActive, want: http.StatusGone},
		{err: model.ErrBidTooLow, want: http.StatusUnprocessableEntity},
		{err: errors.New("persist state: disk full"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

type stubService struct {
	Service
	authAcc *model.Account
	authErr error
}

func (s *stubService) Authenticate(ctx context.Context, login, password string) (*model.Account, error) {
	return s.authAcc, s.authErr
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{name: "bad credentials", err: model.ErrInvalidCredential, body: `{"login":"u","password":"p"}`, want: http.StatusUnauthorized},
		{name: "blocked", err: model.ErrBlockedAccount, body: `{"login":"u","password":"p"}`, want: http.StatusForbidden},
		{name: "internal", err: context.DeadlineExceeded, body: `{"login":"u","password":"p"}`, want: http.StatusInternalServerError},
		{name: "empty password", body: `{"login":"u"}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&stubService{authErr: tt.err}, zap.NewNop(), middleware.NewAuthMiddleware("test-secret"), nil)

			req := httptest.NewRequest(http.MethodPost, "/api/user/login", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.Login(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(rec.Result().Cookies()) != 0 {
				t.Fatalf("cookie must not be set on failure")
			}
		})
	}
}

func TestLogin_SetsCookie(t *testing.T) {
	h := NewHandler(&stubService{authAcc: &model.Account{ID: "admin", IsAdmin: true}}, zap.NewNop(),
		middleware.NewAuthMiddleware("test-secret"), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", strings.NewReader(`{"login":"admin","password":"p"}`))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.JSONEq(t, `{"id":"admin","isAdmin":true}`, rec.Body.String())
}

// testBank поднимает HTTP-сервер поверх реального стека в памяти.
type testBank struct {
	t      *testing.T
	server *httptest.Server
	clock  *time.Time
	ledger *ledger.Ledger
}

func newTestBank(t *testing.T) *testBank {
	t.Helper()
	ctx := context.Background()

	clock := testNow
	l, err := ledger.New(ctx, repository.NewMemoryStore(), nil, nil,
		ledger.WithClock(func() time.Time { return clock }))
	require.NoError(t, err)

	m := metrics.NewCollector()
	svc := service.NewService(service.Engines{
		Ledger:   l,
		Auctions: auction.New(l, nil),
		Loans:    loan.New(l, nil),
		Economy:  economy.New(l, nil, economy.WithRand(rand.New(rand.NewPCG(7, 7)))),
		Exchange: exchange.New(l, rand.New(rand.NewPCG(7, 7)), m),
	}, nil, m, service.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, svc.Bootstrap(ctx, "admin123"))

	h := NewHandler(svc, zap.NewNop(), middleware.NewAuthMiddleware("test-secret"), m.Handler())
	srv := httptest.NewServer(h.SetupRouter())
	t.Cleanup(srv.Close)

	return &testBank{t: t, server: srv, clock: &clock, ledger: l}
}

func (b *testBank) client(login, password string, register bool) *http.Client {
	b.t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(b.t, err)
	c := &http.Client{Jar: jar}

	path := "/api/user/login"
	if register {
		path = "/api/user/register"
	}
	res := b.do(c, http.MethodPost, path, credentialsRequest{Login: login, Password: password})
	require.Equal(b.t, http.StatusOK, res.StatusCode, path)
	return c
}

func (b *testBank) do(c *http.Client, method, path string, body any) *http.Response {
	b.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, b.server.URL+path, r)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.Do(req)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { res.Body.Close() })
	return res
}

func (b *testBank) account(c *http.Client) accountResponse {
	b.t.Helper()
	res := b.do(c, http.MethodGet, "/api/user/account", nil)
	require.Equal(b.t, http.StatusOK, res.StatusCode)
	var acc accountResponse
	require.NoError(b.t, json.NewDecoder(res.Body).Decode(&acc))
	return acc
}

func TestAPI_RegisterLoginAndAccount(t *testing.T) {
	b := newTestBank(t)

	alice := b.client("alice", "pw", true)
	acc := b.account(alice)
	assert.Equal(t, "alice", acc.ID)
	assert.Equal(t, 100.0, acc.Balance)
	assert.False(t, acc.IsAdmin)

	again := b.client("alice", "pw", false)
	assert.Equal(t, "alice", b.account(again).ID)

	res := b.do(http.DefaultClient, http.MethodPost, "/api/user/register", credentialsRequest{Login: "alice", Password: "x"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res = b.do(http.DefaultClient, http.MethodGet, "/api/user/account", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestAPI_Transfer(t *testing.T) {
	b := newTestBank(t)
	alice := b.client("alice", "pw", true)
	bob := b.client("bob", "pw", true)

	tests := []struct {
		name string
		body transferRequest
		want int
	}{
		{name: "ok", body: transferRequest{To: "bob", Amount: 40, Comment: "lunch"}, want: http.StatusOK},
		{name: "insufficient", body: transferRequest{To: "bob", Amount: 1000}, want: http.StatusPaymentRequired},
		{name: "unknown recipient", body: transferRequest{To: "carol", Amount: 1}, want: http.StatusNotFound},
		{name: "to admin", body: transferRequest{To: "admin", Amount: 1}, want: http.StatusNotFound},
		{name: "self", body: transferRequest{To: "alice", Amount: 1}, want: http.StatusUnprocessableEntity},
		{name: "zero", body: transferRequest{To: "bob", Amount: 0}, want: http.StatusBadRequest},
		{name: "sub cent", body: transferRequest{To: "bob", Amount: 0.001}, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := b.do(alice, http.MethodPost, "/api/user/transfer", tt.body)
			assert.Equal(t, tt.want, res.StatusCode)
		})
	}

	assert.Equal(t, 60.0, b.account(alice).Balance)
	bobAcc := b.account(bob)
	assert.Equal(t, 140.0, bobAcc.Balance)
	assert.Equal(t, 1, bobAcc.UnreadNotifications)

	res := b.do(bob, http.MethodPost, "/api/user/notifications/read", nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Zero(t, b.account(bob).UnreadNotifications)
}

func TestAPI_AdminLedgerCorrections(t *testing.T) {
	b := newTestBank(t)
	admin := b.client("admin", "admin123", false)
	alice := b.client("alice", "pw", true)
	bob := b.client("bob", "pw", true)
	b.client("carol", "pw", true)

	res := b.do(alice, http.MethodPost, "/api/user/transfer", transferRequest{To: "bob", Amount: 40})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var tr transferView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&tr))

	res = b.do(alice, http.MethodPost, "/api/admin/transfers/"+tr.SenderTxID+"/revoke", nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = b.do(admin, http.MethodPost, "/api/admin/transfers/"+tr.SenderTxID+"/revoke", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var rv revokeView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&rv))
	assert.Equal(t, revokeView{SenderID: "alice", RecipientID: "bob", Amount: 40}, rv)
	assert.Equal(t, 100.0, b.account(alice).Balance)
	assert.Equal(t, 100.0, b.account(bob).Balance)

	res = b.do(admin, http.MethodPost, "/api/admin/transfers/"+tr.SenderTxID+"/revoke", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	res = b.do(admin, http.MethodPost, "/api/admin/transfers/"+tr.RecipientTxID+"/revoke", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = b.do(admin, http.MethodPost, "/api/admin/accounts/alice/adjust", adjustmentRequest{Amount: -150, Comment: "penalty"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, -50.0, b.account(alice).Balance)
	res = b.do(admin, http.MethodPost, "/api/admin/accounts/alice/adjust", adjustmentRequest{Amount: 10})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = b.do(admin, http.MethodPost, "/api/admin/accounts/adjust", adjustmentRequest{
		AccountIDs: []string{"alice", "bob"},
		Amount:     25,
		Comment:    "team prize",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, -25.0, b.account(alice).Balance)
	assert.Equal(t, 125.0, b.account(bob).Balance)

	assert.Equal(t, http.StatusUnprocessableEntity, b.do(admin, http.MethodDelete, "/api/admin/accounts/admin", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, b.do(admin, http.MethodDelete, "/api/admin/accounts/carol", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, b.do(admin, http.MethodDelete, "/api/admin/accounts/carol", nil).StatusCode)
}

func TestAPI_UpsertAsset(t *testing.T) {
	b := newTestBank(t)
	admin := b.client("admin", "admin123", false)
	alice := b.client("alice", "pw", true)

	res := b.do(admin, http.MethodPut, "/api/admin/exchange/assets", assetRequest{Ticker: "gld", Name: "Gold", Type: model.AssetStock, Price: 20})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var a assetView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&a))
	assert.Equal(t, "GLD", a.Ticker)

	res = b.do(admin, http.MethodPut, "/api/admin/exchange/assets", assetRequest{Ticker: "GLD", Name: "Gold", Type: "bond", Price: 20})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = b.do(alice, http.MethodPost, "/api/user/exchange/buy", tradeRequest{Ticker: "GLD", Quantity: decimal.RequireFromString("0.5")})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var trade tradeView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&trade))
	assert.Equal(t, 10.0, trade.Total)

	acc := b.account(alice)
	assert.Equal(t, 90.0, acc.Balance)
	assert.Equal(t, "0.5", acc.Holdings["GLD"].String())
}

func TestAPI_AdminRoutesRequireAdmin(t *testing.T) {
	b := newTestBank(t)
	alice := b.client("alice", "pw", true)

	res := b.do(alice, http.MethodGet, "/api/admin/accounts", nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = b.do(http.DefaultClient, http.MethodGet, "/api/admin/accounts", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	admin := b.client("admin", "admin123", false)
	res = b.do(admin, http.MethodGet, "/api/admin/accounts", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var accounts []accountResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&accounts))
	assert.Len(t, accounts, 2)
}

func TestAPI_AuctionFlow(t *testing.T) {
	b := newTestBank(t)
	admin := b.client("admin", "admin123", false)
	alice := b.client("alice", "pw", true)
	bob := b.client("bob", "pw", true)

	res := b.do(alice, http.MethodPost, "/api/user/auction/bids", amountRequest{Amount: 10})
	assert.Equal(t, http.StatusGone, res.StatusCode)

	res = b.do(admin, http.MethodPost, "/api/admin/auction/activate", activateAuctionRequest{EndsAt: testNow.Add(time.Hour)})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res = b.do(admin, http.MethodPost, "/api/admin/auction/activate", activateAuctionRequest{EndsAt: testNow.Add(time.Hour)})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	require.Equal(t, http.StatusOK, b.do(alice, http.MethodPost, "/api/user/auction/bids", amountRequest{Amount: 20}).StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, b.do(bob, http.MethodPost, "/api/user/auction/bids", amountRequest{Amount: 20}).StatusCode)
	require.Equal(t, http.StatusOK, b.do(bob, http.MethodPost, "/api/user/auction/bids", amountRequest{Amount: 25.5}).StatusCode)

	res = b.do(admin, http.MethodPost, "/api/admin/auction/settle", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var settled struct {
		Winner *bidView `json:"winner"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&settled))
	require.NotNil(t, settled.Winner)
	assert.Equal(t, "bob", settled.Winner.AccountID)
	assert.Equal(t, 25.5, settled.Winner.Amount)

	assert.Equal(t, 100.0, b.account(alice).Balance)
	bobAcc := b.account(bob)
	assert.Equal(t, 74.5, bobAcc.Balance)
	require.Len(t, bobAcc.WonLots, 1)
}

func TestAPI_LoanFlow(t *testing.T) {
	b := newTestBank(t)
	admin := b.client("admin", "admin123", false)
	alice := b.client("alice", "pw", true)

	res := b.do(admin, http.MethodPut, "/api/admin/loans/policy", loanPolicyRequest{
		InterestRatePercent:          5,
		MaxAmount:                    500,
		AutoApprove:                  false,
		Term:                         "48h",
		CreditCrisisThresholdPercent: 50,
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = b.do(alice, http.MethodPost, "/api/user/loan/request", amountRequest{Amount: 600})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	res = b.do(alice, http.MethodPost, "/api/user/loan/request", amountRequest{Amount: 100})
	assert.Equal(t, http.StatusAccepted, res.StatusCode)

	res = b.do(admin, http.MethodGet, "/api/admin/loans/pending", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var pending []pendingLoanView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&pending))
	require.Len(t, pending, 1)
	assert.Equal(t, 100.0, pending[0].Amount)

	require.Equal(t, http.StatusNoContent, b.do(admin, http.MethodPost, "/api/admin/loans/alice/approve", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, b.do(admin, http.MethodPost, "/api/admin/loans/alice/approve", nil).StatusCode)

	acc := b.account(alice)
	assert.Equal(t, 200.0, acc.Balance)
	assert.Equal(t, 100.0, acc.Loan.Amount)
	assert.Equal(t, 105.0, acc.Loan.TotalDue)

	res = b.do(admin, http.MethodPost, "/api/admin/loans/alice/force-repay", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var forced map[string]float64
	require.NoError(t, json.NewDecoder(res.Body).Decode(&forced))
	assert.Equal(t, 105.0, forced["debited"])
	assert.Equal(t, 95.0, b.account(alice).Balance)
}

func TestAPI_TriggerEventRespectsInsurance(t *testing.T) {
	b := newTestBank(t)
	admin := b.client("admin", "admin123", false)
	alice := b.client("alice", "pw", true)
	b.client("bob", "pw", true)

	res := b.do(admin, http.MethodPost, "/api/admin/insurance/options", insuranceOptionRequest{Duration: "72h", Cost: 10})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var opt insuranceOptionView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&opt))

	res = b.do(alice, http.MethodPost, "/api/user/insurance", buyInsuranceRequest{OptionID: opt.ID})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = b.do(admin, http.MethodPost, "/api/admin/events/trigger", triggerEventRequest{Kind: model.EventTheft})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var report reportView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&report))

	effects := map[string]effectView{}
	for _, e := range report.Effects {
		effects[e.AccountID] = e
	}
	assert.True(t, effects["alice"].Protected)
	assert.Zero(t, effects["alice"].Amount)
	assert.Equal(t, -50.0, effects["bob"].Amount)
	assert.Equal(t, 90.0, b.account(alice).Balance)

	res = b.do(admin, http.MethodPost, "/api/admin/events/trigger", triggerEventRequest{Kind: "inflation"})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAPI_ScheduledEvents(t *testing.T) {
	b := newTestBank(t)
	admin := b.client("admin", "admin123", false)

	res := b.do(admin, http.MethodPost, "/api/admin/events", scheduleEventRequest{
		Kind:  model.EventAudit,
		Start: testNow.Add(time.Hour),
		End:   testNow,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	res = b.do(admin, http.MethodPost, "/api/admin/events", scheduleEventRequest{
		Kind:   model.EventBankRobbery,
		Params: eventParams{LossPercent: model.Ptr(15.0), BalanceThreshold: model.Ptr(500.0)},
		Start:  testNow.Add(time.Hour),
		End:    testNow.Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var ev eventView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&ev))
	assert.Equal(t, model.EventPending, ev.Status)
	require.NotNil(t, ev.Params.BalanceThreshold)
	assert.Equal(t, 500.0, *ev.Params.BalanceThreshold)
	assert.Nil(t, ev.Params.MaxFine)

	res = b.do(admin, http.MethodGet, "/api/admin/events", nil)
	var events []eventView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&events))
	require.Len(t, events, 1)

	assert.Equal(t, http.StatusNoContent, b.do(admin, http.MethodDelete, "/api/admin/events/"+ev.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, b.do(admin, http.MethodDelete, "/api/admin/events/"+ev.ID, nil).StatusCode)
}

func TestAPI_ExchangeAndDeposit(t *testing.T) {
	b := newTestBank(t)
	alice := b.client("alice", "pw", true)

	res := b.do(alice, http.MethodGet, "/api/user/exchange/assets", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var assets []assetView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&assets))
	require.NotEmpty(t, assets)

	res = b.do(alice, http.MethodPost, "/api/user/exchange/buy", tradeRequest{Ticker: "btc", Quantity: decimal.NewFromInt(1)})
	assert.Equal(t, http.StatusPaymentRequired, res.StatusCode)

	res = b.do(alice, http.MethodPost, "/api/user/exchange/sell", tradeRequest{Ticker: "TCH", Quantity: decimal.NewFromInt(1)})
	assert.Equal(t, http.StatusPaymentRequired, res.StatusCode)

	res = b.do(alice, http.MethodPost, "/api/user/deposits", amountRequest{Amount: 30})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res = b.do(alice, http.MethodPost, "/api/user/deposits", amountRequest{Amount: 30})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	acc := b.account(alice)
	assert.Equal(t, 70.0, acc.Balance)
	require.NotNil(t, acc.Deposit)
	assert.Equal(t, 30.0, acc.Deposit.Amount)
}

func TestAPI_GzipAndMetrics(t *testing.T) {
	b := newTestBank(t)
	alice := b.client("alice", "pw", true)

	req, err := http.NewRequest(http.MethodGet, b.server.URL+"/api/user/loan/policy", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	res, err := alice.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "gzip", res.Header.Get("Content-Encoding"))
	gz, err := gzip.NewReader(res.Body)
	require.NoError(t, err)
	var policy loanPolicyView
	require.NoError(t, json.NewDecoder(gz).Decode(&policy))
	assert.Equal(t, 5.0, policy.InterestRatePercent)
	assert.Equal(t, "24h0m0s", policy.Term)

	res = b.do(http.DefaultClient, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `virtualbank_operations_total{operation="register",result="ok"}`)
}
