// Package economy применяет экономические события к счетам пользователей.
package economy

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/metrics"
	"github.com/mmeshcher/virtual-bank/internal/model"
)

// Фиксированные параметры событий в копейках и процентах.
const (
	CrisisLossPercent      = 10
	TheftLoss              = 50 * model.CentsPerUnit
	MarketCrashLossPercent = 20
	TechBoomGainPercent    = 5
	LotteryPrize           = 100 * model.CentsPerUnit
	CharityLossPercent     = 2
	CharityLoyaltyPoints   = 10

	DefaultRobberyLossPercent = 10
	DefaultRobberyThreshold   = 1000 * model.CentsPerUnit
	DefaultAuditMaxFine       = 200 * model.CentsPerUnit
	DefaultAuditChancePercent = 25

	// MaxEventAmount ограничивает денежные параметры событий.
	MaxEventAmount = 1_000_000_000 * model.CentsPerUnit
)

// Ledger описывает используемую часть хранилища состояния.
type Ledger interface {
	Update(ctx context.Context, fn func(tx *ledger.Tx) error) error
	UpdateAt(ctx context.Context, now time.Time, fn func(tx *ledger.Tx) error) error
	View(fn func(state *model.State))
}

// Option настраивает Engine.
type Option func(*Engine)

// WithRand задаёт источник случайных чисел.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = r
	}
}

// WithMetrics подключает сбор метрик.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine применяет экономические события.
type Engine struct {
	ledger  Ledger
	logger  *zap.Logger
	metrics *metrics.Collector

	mu  sync.Mutex
	rng *rand.Rand
}

// New создаёт движок экономических событий.
func New(l Ledger, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		ledger: l,
		logger: logger,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Effect — результат события для одного счёта. Amount отрицателен для потерь.
type Effect struct {
	AccountID string `json:"accountId"`
	Amount    int64  `json:"amount"`
	Protected bool   `json:"protected,omitempty"`
}

// Report описывает результат применения события.
type Report struct {
	Kind    model.EventKind `json:"kind"`
	Effects []Effect        `json:"effects"`
}

// Trigger немедленно применяет событие kind ко всем подходящим счетам.
func (e *Engine) Trigger(ctx context.Context, kind model.EventKind, params model.EventParams) (Report, error) {
	if !kind.Valid() {
		return Report{}, model.ErrUnknownEventKind
	}
	if err := validateParams(params); err != nil {
		return Report{}, err
	}

	var report Report
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		report, err = e.apply(tx, kind, params)
		return err
	})
	if err != nil {
		return Report{}, err
	}

	e.metrics.EventApplied(string(kind))
	e.logger.Info("economic event applied",
		zap.String("kind", string(kind)),
		zap.Int("affected", len(report.Effects)))
	return report, nil
}

func validateParams(p model.EventParams) error {
	if p.LossPercent != nil && !validPercent(*p.LossPercent) {
		return model.ErrInvalidAmount
	}
	if p.ChancePercent != nil && !validPercent(*p.ChancePercent) {
		return model.ErrInvalidAmount
	}
	if p.BalanceThreshold != nil && (*p.BalanceThreshold < 0 || *p.BalanceThreshold > MaxEventAmount) {
		return model.ErrInvalidAmount
	}
	if p.MaxFine != nil && (*p.MaxFine < 0 || *p.MaxFine > MaxEventAmount) {
		return model.ErrInvalidAmount
	}
	return nil
}

func validPercent(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}

// resolvedParams — параметры события с подставленными значениями по умолчанию.
type resolvedParams struct {
	lossPercent      float64
	balanceThreshold int64
	maxFine          int64
	chancePercent    float64
}

func resolve(p model.EventParams) resolvedParams {
	r := resolvedParams{
		lossPercent:      DefaultRobberyLossPercent,
		balanceThreshold: DefaultRobberyThreshold,
		maxFine:          DefaultAuditMaxFine,
		chancePercent:    DefaultAuditChancePercent,
	}
	if p.LossPercent != nil {
		r.lossPercent = *p.LossPercent
	}
	if p.BalanceThreshold != nil {
		r.balanceThreshold = *p.BalanceThreshold
	}
	if p.MaxFine != nil {
		r.maxFine = *p.MaxFine
	}
	if p.ChancePercent != nil {
		r.chancePercent = *p.ChancePercent
	}
	return r
}

var hundred = decimal.NewFromInt(100)

// percentOf возвращает percent процентов от amount, округлённые до копейки.
func percentOf(amount int64, percent float64) int64 {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(percent)).Div(hundred).Round(0).IntPart()
}

func (e *Engine) chance(percent float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()*100 < percent
}

func (e *Engine) intN(n int64) (int64, error) {
	if n <= 0 {
		return 0, model.ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Int64N(n), nil
}

func eventTitle(kind model.EventKind) string {
	switch kind {
	case model.EventCrisis:
		return "Economic crisis"
	case model.EventTheft:
		return "Theft"
	case model.EventMarketCrash:
		return "Stock market crash"
	case model.EventBankRobbery:
		return "Bank robbery"
	case model.EventTechBoom:
		return "Tech boom"
	case model.EventAudit:
		return "Tax audit"
	case model.EventGoodHarvest:
		return "Good harvest"
	case model.EventLotteryWin:
		return "Lottery win"
	case model.EventCharity:
		return "Charity contribution"
	}
	return string(kind)
}

// apply выполняет событие внутри транзакции хранилища. Счета обрабатываются независимо в порядке идентификаторов.
func (e *Engine) apply(tx *ledger.Tx, kind model.EventKind, p model.EventParams) (Report, error) {
	params := resolve(p)
	report := Report{Kind: kind}
	title := eventTitle(kind)

	switch kind {
	case model.EventGoodHarvest:
		tx.Broadcast("Good harvest! Food prices in the shop are temporarily reduced")
		return report, nil
	case model.EventLotteryWin:
		users := tx.NonAdminAccounts()
		if len(users) == 0 {
			return report, nil
		}
		i, err := e.intN(int64(len(users)))
		if err != nil {
			return Report{}, err
		}
		lucky := users[i]
		tx.Credit(lucky, LotteryPrize, model.TxLotteryPrize, title)
		tx.Notify(lucky, fmt.Sprintf("You unexpectedly won %s!", ledger.FormatAmount(LotteryPrize)))
		report.Effects = append(report.Effects, Effect{AccountID: lucky.ID, Amount: LotteryPrize})
		return report, nil
	}

	now := tx.Now()
	for _, acc := range tx.NonAdminAccounts() {
		if acc.InsuredAt(now) {
			tx.Notify(acc, fmt.Sprintf("Your insurance protected you from: %s", title))
			report.Effects = append(report.Effects, Effect{AccountID: acc.ID, Protected: true})
			continue
		}

		var loss, gain int64
		switch kind {
		case model.EventCrisis:
			loss = percentOf(acc.Balance, CrisisLossPercent)
		case model.EventTheft:
			loss = TheftLoss
		case model.EventMarketCrash:
			loss = percentOf(stockValue(tx.State(), acc), MarketCrashLossPercent)
		case model.EventBankRobbery:
			if acc.Balance > params.balanceThreshold {
				loss = percentOf(acc.Balance, params.lossPercent)
			}
		case model.EventTechBoom:
			if hasPositions(acc) {
				gain = percentOf(acc.Balance, TechBoomGainPercent)
			}
		case model.EventAudit:
			if e.chance(params.chancePercent) {
				fine, err := e.intN(params.maxFine + 1)
				if err != nil {
					return Report{}, err
				}
				loss = fine
			}
		case model.EventCharity:
			loss = percentOf(acc.Balance, CharityLossPercent)
			acc.LoyaltyPoints += CharityLoyaltyPoints
		}

		if lost := applyLoss(tx, acc, loss, title); lost > 0 {
			report.Effects = append(report.Effects, Effect{AccountID: acc.ID, Amount: -lost})
		}
		if gain > 0 {
			tx.Credit(acc, gain, model.TxEventGain, title)
			tx.Notify(acc, fmt.Sprintf("%s! You received %s", title, ledger.FormatAmount(gain)))
			report.Effects = append(report.Effects, Effect{AccountID: acc.ID, Amount: gain})
		}
	}
	return report, nil
}

// applyLoss списывает min(баланс, loss) и возвращает фактически списанную сумму.
func applyLoss(tx *ledger.Tx, acc *model.Account, loss int64, title string) int64 {
	loss = min(acc.Balance, loss)
	if loss <= 0 {
		return 0
	}
	tx.ForceDebit(acc, loss, model.TxEventLoss, title)
	tx.Notify(acc, fmt.Sprintf("%s! You lost %s because you were not insured", title, ledger.FormatAmount(loss)))
	return loss
}

// stockValue возвращает рыночную стоимость акций счёта в копейках. Криптовалюта не учитывается.
func stockValue(s *model.State, acc *model.Account) int64 {
	total := decimal.Zero
	for ticker, qty := range acc.Holdings {
		if asset := s.Asset(ticker); asset != nil && asset.Type == model.AssetStock {
			total = total.Add(decimal.NewFromInt(asset.Price).Mul(qty))
		}
	}
	return total.Round(0).IntPart()
}

func hasPositions(acc *model.Account) bool {
	for _, qty := range acc.Holdings {
		if qty.IsPositive() {
			return true
		}
	}
	return false
}
