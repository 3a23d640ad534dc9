// Package handler содержит HTTP-обработчики API виртуального банка.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/auction"
	"github.com/mmeshcher/virtual-bank/internal/economy"
	"github.com/mmeshcher/virtual-bank/internal/exchange"
	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/loan"
	"github.com/mmeshcher/virtual-bank/internal/middleware"
	"github.com/mmeshcher/virtual-bank/internal/model"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Register(ctx context.Context, login, password string) (*model.Account, error)
	Authenticate(ctx context.Context, login, password string) (*model.Account, error)
	Account(ctx context.Context, id string) (*model.Account, error)
	MarkNotificationsRead(ctx context.Context, id string) error
	Transfer(ctx context.Context, from, to string, amount int64, comment string) (ledger.TransferResult, error)
	InsuranceOptions() []model.InsuranceOption
	BuyInsurance(ctx context.Context, accountID, optionID string) (*model.Account, error)
	OpenDeposit(ctx context.Context, accountID string, amount int64) (*model.Account, error)
	GeneralAuction() model.Auction
	PlaceBid(ctx context.Context, accountID string, amount int64) error
	SpecialLots() []model.SpecialLot
	PlaceSpecialBid(ctx context.Context, lotID, accountID string, amount int64) error
	LoanPolicy() model.LoanPolicy
	RequestLoan(ctx context.Context, accountID string, amount int64) (bool, error)
	RepayLoan(ctx context.Context, accountID string, amount int64) (int64, error)
	Assets() []model.Asset
	BuyAsset(ctx context.Context, accountID, ticker string, quantity decimal.Decimal) (exchange.Trade, error)
	SellAsset(ctx context.Context, accountID, ticker string, quantity decimal.Decimal) (exchange.Trade, error)

	Accounts(actorID string) ([]*model.Account, error)
	CreateAccount(ctx context.Context, actorID, login, password string, isAdmin bool, balance int64) (*model.Account, error)
	SetBlocked(ctx context.Context, actorID, accountID string, blocked bool) error
	DeleteAccount(ctx context.Context, actorID, accountID string) error
	AdjustBalance(ctx context.Context, actorID, accountID string, delta int64, comment string) (*model.Account, error)
	BulkAdjustBalance(ctx context.Context, actorID string, accountIDs []string, delta int64, comment string) ([]*model.Account, error)
	RevokeTransfer(ctx context.Context, actorID, txID string) (ledger.RevokeResult, error)
	SendNotification(ctx context.Context, actorID, accountID, text string) error
	ActivateAuction(ctx context.Context, actorID string, endsAt time.Time) error
	SettleAuction(ctx context.Context, actorID string) (*model.Bid, error)
	PublishSpecialLot(ctx context.Context, actorID string, p auction.LotParams) (model.SpecialLot, error)
	SettleSpecialLot(ctx context.Context, actorID, lotID string) (*model.Bid, error)
	PendingLoans(actorID string) ([]loan.PendingRequest, error)
	ApproveLoan(ctx context.Context, actorID, accountID string) error
	RejectLoan(ctx context.Context, actorID, accountID string) error
	ForceRepayLoan(ctx context.Context, actorID, accountID string) (int64, error)
	UpdateLoanPolicy(ctx context.Context, actorID string, u loan.PolicyUpdate) (model.LoanPolicy, error)
	TriggerEvent(ctx context.Context, actorID string, kind model.EventKind, params model.EventParams) (economy.Report, error)
	ScheduleEvent(ctx context.Context, actorID string, kind model.EventKind, params model.EventParams, start, end time.Time) (model.EconomicEvent, error)
	DeleteEvent(ctx context.Context, actorID, eventID string) error
	Events(actorID string) ([]model.EconomicEvent, error)
	EconomySettings(actorID string) (model.EconomySettings, error)
	UpdateEconomySettings(ctx context.Context, actorID string, u economy.SettingsUpdate) (model.EconomySettings, error)
	AddInsuranceOption(ctx context.Context, actorID string, duration time.Duration, cost int64) (model.InsuranceOption, error)
	RemoveInsuranceOption(ctx context.Context, actorID, optionID string) error
	UpsertAsset(ctx context.Context, actorID string, u exchange.AssetUpdate) (model.Asset, error)
	SchedulerTick(ctx context.Context, actorID string) error
}

// Handler реализует HTTP-обработчики API виртуального банка.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// metricsHandler может быть nil, тогда /metrics не публикуется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, metricsHandler http.Handler) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        metricsHandler,
	}
}

// statusFor сопоставляет вид ошибки ядра HTTP-статусу. Неизвестные ошибки дают 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotActive):
		return http.StatusGone
	case errors.Is(err, model.ErrPolicyViolation):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("uri", r.RequestURI))
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

func principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}
	return p.AccountID, true
}

type tradeFunc func(ctx context.Context, accountID, ticker string, quantity decimal.Decimal) (exchange.Trade, error)
