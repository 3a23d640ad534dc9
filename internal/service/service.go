// Package service реализует операции виртуального банка, доступные через HTTP API.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/virtual-bank/internal/auction"
	"github.com/mmeshcher/virtual-bank/internal/economy"
	"github.com/mmeshcher/virtual-bank/internal/exchange"
	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/loan"
	"github.com/mmeshcher/virtual-bank/internal/metrics"
	"github.com/mmeshcher/virtual-bank/internal/model"
	"github.com/mmeshcher/virtual-bank/internal/validation"
)

const (
	// AdminID — логин администратора, создаваемого при первом запуске.
	AdminID = "admin"
	// StartingBalance — баланс нового пользователя.
	StartingBalance = 100 * model.CentsPerUnit
)

// ErrInvalidLogin возвращается при регистрации с недопустимым логином или пустым паролем.
var ErrInvalidLogin = &model.Error{
	Kind: model.ErrInvalidAmount,
	Msg:  "login must be 1-32 letters, digits or _-. and password must not be empty",
}

// Ticker выполняет один проход планировщика.
type Ticker interface {
	Tick(ctx context.Context, now time.Time)
}

// Engines объединяет движки, которыми управляет сервис.
type Engines struct {
	Ledger   *ledger.Ledger
	Auctions *auction.Engine
	Loans    *loan.Engine
	Economy  *economy.Engine
	Exchange *exchange.Exchange
	Ticker   Ticker
}

// Service содержит операции пользователей и администраторов.
type Service struct {
	ledger   *ledger.Ledger
	auctions *auction.Engine
	loans    *loan.Engine
	economy  *economy.Engine
	exchange *exchange.Exchange
	ticker   Ticker

	logger     *zap.Logger
	metrics    *metrics.Collector
	bcryptCost int
}

// Option настраивает Service.
type Option func(*Service)

// WithBcryptCost задаёт стоимость хеширования паролей.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

// NewService создаёт новый сервис.
func NewService(e Engines, logger *zap.Logger, m *metrics.Collector, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		ledger:     e.Ledger,
		auctions:   e.Auctions,
		loans:      e.Loans,
		economy:    e.Economy,
		exchange:   e.Exchange,
		ticker:     e.Ticker,
		logger:     logger,
		metrics:    m,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) observe(operation string, err error) error {
	s.metrics.ObserveOperation(operation, err)
	return err
}

func (s *Service) requireAdmin(actorID string) error {
	acc, err := s.ledger.Account(actorID)
	if err != nil || !acc.IsAdmin {
		return model.ErrAdminRequired
	}
	return nil
}

func (s *Service) hashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
}

// Bootstrap создаёт учётную запись администратора, если её ещё нет.
func (s *Service) Bootstrap(ctx context.Context, adminPassword string) error {
	if _, err := s.ledger.Account(AdminID); err == nil {
		return nil
	}
	if adminPassword == "" {
		return errors.New("admin password must not be empty")
	}

	hash, err := s.hashPassword(adminPassword)
	if err != nil {
		return err
	}
	if _, err := s.ledger.CreateAccount(ctx, AdminID, hash, true, 0); err != nil && !errors.Is(err, model.ErrAccountExists) {
		return err
	}
	s.logger.Info("admin account created", zap.String("account", AdminID))
	return nil
}

// Register регистрирует нового пользователя со стартовым балансом.
func (s *Service) Register(ctx context.Context, login, password string) (*model.Account, error) {
	if !validation.IsValidLogin(login) || password == "" {
		return nil, s.observe("register", ErrInvalidLogin)
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}
	acc, err := s.ledger.CreateAccount(ctx, login, hash, false, StartingBalance)
	return acc, s.observe("register", err)
}

// Authenticate проверяет логин и пароль и возвращает счёт.
func (s *Service) Authenticate(_ context.Context, login, password string) (*model.Account, error) {
	acc, err := s.ledger.Account(login)
	if err != nil {
		return nil, s.observe("login", model.ErrInvalidCredential)
	}
	if bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)) != nil {
		return nil, s.observe("login", model.ErrInvalidCredential)
	}
	if acc.IsBlocked {
		return nil, s.observe("login", model.ErrBlockedAccount)
	}
	return acc, s.observe("login", nil)
}

// Account возвращает снимок счёта.
func (s *Service) Account(_ context.Context, id string) (*model.Account, error) {
	return s.ledger.Account(id)
}

// MarkNotificationsRead отмечает уведомления счёта прочитанными.
func (s *Service) MarkNotificationsRead(ctx context.Context, id string) error {
	return s.ledger.MarkNotificationsRead(ctx, id)
}

// Transfer переводит средства между пользователями.
func (s *Service) Transfer(ctx context.Context, from, to string, amount int64, comment string) (ledger.TransferResult, error) {
	res, err := s.ledger.Transfer(ctx, from, to, amount, comment)
	return res, s.observe("transfer", err)
}

// BuyInsurance покупает страховку выбранного варианта.
func (s *Service) BuyInsurance(ctx context.Context, accountID, optionID string) (*model.Account, error) {
	acc, err := s.ledger.BuyInsurance(ctx, accountID, optionID)
	return acc, s.observe("buy_insurance", err)
}

// InsuranceOptions возвращает варианты страховки.
func (s *Service) InsuranceOptions() []model.InsuranceOption {
	return s.ledger.InsuranceOptions()
}

// OpenDeposit открывает вклад.
func (s *Service) OpenDeposit(ctx context.Context, accountID string, amount int64) (*model.Account, error) {
	acc, err := s.ledger.OpenDeposit(ctx, accountID, amount)
	return acc, s.observe("open_deposit", err)
}

// GeneralAuction возвращает состояние общего аукциона.
func (s *Service) GeneralAuction() model.Auction {
	return s.auctions.General()
}

// PlaceBid делает ставку на общем аукционе.
func (s *Service) PlaceBid(ctx context.Context, accountID string, amount int64) error {
	return s.observe("place_bid", s.auctions.PlaceBid(ctx, accountID, amount))
}

// SpecialLots возвращает все особые лоты.
func (s *Service) SpecialLots() []model.SpecialLot {
	return s.auctions.SpecialLots()
}

// PlaceSpecialBid делает ставку на особый лот.
func (s *Service) PlaceSpecialBid(ctx context.Context, lotID, accountID string, amount int64) error {
	return s.observe("place_special_bid", s.auctions.PlaceSpecialBid(ctx, lotID, accountID, amount))
}

// LoanPolicy возвращает параметры кредитования.
func (s *Service) LoanPolicy() model.LoanPolicy {
	return s.loans.Policy()
}

// RequestLoan подаёт заявку на кредит.
func (s *Service) RequestLoan(ctx context.Context, accountID string, amount int64) (bool, error) {
	approved, err := s.loans.RequestLoan(ctx, accountID, amount)
	return approved, s.observe("request_loan", err)
}

// RepayLoan погашает кредит.
func (s *Service) RepayLoan(ctx context.Context, accountID string, amount int64) (int64, error) {
	paid, err := s.loans.Repay(ctx, accountID, amount)
	return paid, s.observe("repay_loan", err)
}

// Assets возвращает инструменты биржи.
func (s *Service) Assets() []model.Asset {
	return s.exchange.Assets()
}

// BuyAsset покупает инструмент.
func (s *Service) BuyAsset(ctx context.Context, accountID, ticker string, quantity decimal.Decimal) (exchange.Trade, error) {
	t, err := s.exchange.Buy(ctx, accountID, ticker, quantity)
	return t, s.observe("buy_asset", err)
}

// SellAsset продаёт инструмент.
func (s *Service) SellAsset(ctx context.Context, accountID, ticker string, quantity decimal.Decimal) (exchange.Trade, error) {
	t, err := s.exchange.Sell(ctx, accountID, ticker, quantity)
	return t, s.observe("sell_asset", err)
}
