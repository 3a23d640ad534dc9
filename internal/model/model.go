// Package model содержит доменные сущности виртуального банка.
package model

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// CentsPerUnit — количество копеек в одной денежной единице. Все суммы в ядре хранятся в копейках.
const CentsPerUnit = 100

// Account представляет счёт пользователя виртуального банка.
type Account struct {
	ID                 string                     `json:"id"`
	PasswordHash       []byte                     `json:"passwordHash,omitempty"`
	IsAdmin            bool                       `json:"isAdmin"`
	IsBlocked          bool                       `json:"isBlocked"`
	Balance            int64                      `json:"balance"`
	LoyaltyPoints      int64                      `json:"loyaltyPoints"`
	TotalSent          int64                      `json:"totalSent"`
	Loan               Loan                       `json:"loan"`
	PendingLoan        *LoanRequest               `json:"pendingLoan,omitempty"`
	IsInsured          bool                       `json:"isInsured"`
	InsuranceExpiresAt *time.Time                 `json:"insuranceExpiresAt,omitempty"`
	Deposit            *Deposit                   `json:"deposit,omitempty"`
	Holdings           map[string]decimal.Decimal `json:"holdings,omitempty"`
	Notifications      []Notification             `json:"notifications"`
	Transactions       []Transaction              `json:"transactions"`
	WonLots            []WonLot                   `json:"wonLots,omitempty"`
	CreatedAt          time.Time                  `json:"createdAt"`
}

// InsuredAt сообщает, покрывает ли страховка счёта момент now.
func (a *Account) InsuredAt(now time.Time) bool {
	return a.IsInsured && a.InsuranceExpiresAt != nil && a.InsuranceExpiresAt.After(now)
}

// UnreadNotifications возвращает количество непрочитанных уведомлений.
func (a *Account) UnreadNotifications() int {
	n := 0
	for _, item := range a.Notifications {
		if !item.Read {
			n++
		}
	}
	return n
}

// Loan описывает текущий кредит счёта. Amount == 0 означает отсутствие кредита.
type Loan struct {
	Amount              int64      `json:"amount"`
	InterestRatePercent float64    `json:"interestRatePercent"`
	TakenAt             *time.Time `json:"takenAt,omitempty"`
}

// Active сообщает, есть ли непогашенный остаток по кредиту.
func (l Loan) Active() bool {
	return l.Amount > 0
}

// LoanRequest — заявка на кредит, ожидающая решения администратора.
type LoanRequest struct {
	Amount      int64     `json:"amount"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Deposit — срочный вклад, возвращаемый с процентами по истечении срока.
type Deposit struct {
	Amount   int64     `json:"amount"`
	OpenedAt time.Time `json:"openedAt"`
	EndsAt   time.Time `json:"endsAt"`
}

// Notification — уведомление, адресованное владельцу счёта.
type Notification struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
	Read bool      `json:"read"`
}

// NotificationEvent передаётся во внешний канал доставки после фиксации изменения.
// Пустой AccountID означает широковещательное уведомление.
type NotificationEvent struct {
	AccountID string    `json:"accountId,omitempty"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Broadcast сообщает, адресовано ли событие всем пользователям.
func (e NotificationEvent) Broadcast() bool {
	return e.AccountID == ""
}

// TransactionKind — явный тип записи в журнале операций счёта.
type TransactionKind string

const (
	TxTransferOut        TransactionKind = "transfer_out"
	TxTransferIn         TransactionKind = "transfer_in"
	TxBidHold            TransactionKind = "bid_hold"
	TxBidRefund          TransactionKind = "bid_refund"
	TxLoanCredit         TransactionKind = "loan_credit"
	TxLoanRepayment      TransactionKind = "loan_repayment"
	TxLoanForceRepayment TransactionKind = "loan_force_repayment"
	TxEventLoss          TransactionKind = "event_loss"
	TxEventGain          TransactionKind = "event_gain"
	TxLotteryPrize       TransactionKind = "lottery_prize"
	TxInsurancePurchase  TransactionKind = "insurance_purchase"
	TxDepositOpen        TransactionKind = "deposit_open"
	TxDepositReturn      TransactionKind = "deposit_return"
	TxAssetBuy           TransactionKind = "asset_buy"
	TxAssetSell          TransactionKind = "asset_sell"
	TxTransferRevoke     TransactionKind = "transfer_revoke"
	TxTransferReturn     TransactionKind = "transfer_return"
	TxAdminAdjustment    TransactionKind = "admin_adjustment"
)

// Transaction — запись журнала операций. Reversed выставляется при отмене удержания или перевода
// и никогда не выводится из текста. Для переводов Counterparty и LinkedTxID указывают на вторую сторону.
type Transaction struct {
	ID           string          `json:"id"`
	Kind         TransactionKind `json:"kind"`
	Amount       int64           `json:"amount"`
	Positive     bool            `json:"positive"`
	Comment      string          `json:"comment,omitempty"`
	At           time.Time       `json:"at"`
	Reversed     bool            `json:"reversed,omitempty"`
	Counterparty string          `json:"counterparty,omitempty"`
	LinkedTxID   string          `json:"linkedTxId,omitempty"`
}

// WonLotKind различает выигрыши общего аукциона и особых лотов.
type WonLotKind string

const (
	WonLotAuction        WonLotKind = "auction"
	WonLotSpecialAuction WonLotKind = "special_auction"
)

// WonLot — запись о выигранном лоте.
type WonLot struct {
	Kind  WonLotKind `json:"kind"`
	Name  string     `json:"name"`
	Prize string     `json:"prize"`
	At    time.Time  `json:"at"`
}

// AuctionStatus — состояние аукциона.
type AuctionStatus string

const (
	AuctionInactive AuctionStatus = "inactive"
	AuctionActive   AuctionStatus = "active"
	AuctionSettling AuctionStatus = "settling"
	AuctionClosed   AuctionStatus = "closed"
)

// BidStatus — состояние ставки.
type BidStatus string

const (
	BidHeld     BidStatus = "held"
	BidRefunded BidStatus = "refunded"
	BidWon      BidStatus = "won"
)

// Bid — ставка на аукционе. Сумма удерживается со счёта записью HoldTxID до возврата или победы.
type Bid struct {
	AccountID string    `json:"accountId"`
	Amount    int64     `json:"amount"`
	PlacedAt  time.Time `json:"placedAt"`
	HoldTxID  string    `json:"holdTxId"`
	Status    BidStatus `json:"status"`
}

// Auction — общие поля общего аукциона и особого лота.
type Auction struct {
	Status    AuctionStatus `json:"status"`
	EndsAt    time.Time     `json:"endsAt"`
	Bids      []Bid         `json:"bids"`
	Winner    *Bid          `json:"winner,omitempty"`
	SettledAt *time.Time    `json:"settledAt,omitempty"`
}

// Active сообщает, принимает ли аукцион ставки в момент now.
func (a *Auction) Active(now time.Time) bool {
	return a.Status == AuctionActive && now.Before(a.EndsAt)
}

// SpecialLot — разовый лот с начальной ценой.
type SpecialLot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
	StartPrice  int64  `json:"startPrice"`
	Auction
}

// AuctionState хранит общий аукцион и историю особых лотов (активным может быть не более одного).
type AuctionState struct {
	General     Auction      `json:"general"`
	SpecialLots []SpecialLot `json:"specialLots"`
}

// ActiveSpecialLot возвращает активный особый лот или nil.
func (s *AuctionState) ActiveSpecialLot() *SpecialLot {
	for i := range s.SpecialLots {
		if s.SpecialLots[i].Status == AuctionActive {
			return &s.SpecialLots[i]
		}
	}
	return nil
}

// LoanPolicy — глобальные параметры кредитования.
type LoanPolicy struct {
	InterestRatePercent          float64       `json:"interestRatePercent"`
	MaxAmount                    int64         `json:"maxAmount"`
	AutoApprove                  bool          `json:"autoApprove"`
	TermDuration                 time.Duration `json:"termDuration"`
	CreditCrisisThresholdPercent float64       `json:"creditCrisisThresholdPercent"`
	CrisisMode                   bool          `json:"crisisMode"`
	OriginalInterestRatePercent  float64       `json:"originalInterestRatePercent,omitempty"`
}

// EconomySettings — параметры динамической экономики.
type EconomySettings struct {
	DynamicEvents             bool    `json:"dynamicEvents"`
	CrimeWaveThresholdPercent float64 `json:"crimeWaveThresholdPercent"`
	BaseTheftChancePercent    float64 `json:"baseTheftChancePercent"`
	CrimeWave                 bool    `json:"crimeWave"`
}

// AssetType различает акции и криптовалюту.
type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetCrypto AssetType = "crypto"
)

// Asset — торгуемый инструмент учебной биржи. Цена в копейках.
type Asset struct {
	Ticker  string    `json:"ticker"`
	Name    string    `json:"name"`
	Type    AssetType `json:"type"`
	Price   int64     `json:"price"`
	History []int64   `json:"history,omitempty"`
}

// InsuranceOption — вариант страхового полиса, настраиваемый администратором.
type InsuranceOption struct {
	ID       string        `json:"id"`
	Duration time.Duration `json:"duration"`
	Cost     int64         `json:"cost"`
}

// State — полный снимок состояния банка, сохраняемый целиком при каждом изменении.
type State struct {
	Accounts         map[string]*Account `json:"accounts"`
	Auctions         AuctionState        `json:"auctions"`
	LoanPolicy       LoanPolicy          `json:"loanPolicy"`
	Economy          EconomySettings     `json:"economy"`
	Events           []EconomicEvent     `json:"events"`
	Assets           []Asset             `json:"assets"`
	InsuranceOptions []InsuranceOption   `json:"insuranceOptions"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// NewState создаёт пустое состояние с параметрами по умолчанию.
func NewState() *State {
	return &State{
		Accounts: make(map[string]*Account),
		Auctions: AuctionState{
			General: Auction{Status: AuctionInactive},
		},
		LoanPolicy: LoanPolicy{
			InterestRatePercent:          5,
			MaxAmount:                    1000 * CentsPerUnit,
			AutoApprove:                  true,
			TermDuration:                 24 * time.Hour,
			CreditCrisisThresholdPercent: 50,
		},
		Economy: EconomySettings{
			DynamicEvents:             true,
			CrimeWaveThresholdPercent: 60,
			BaseTheftChancePercent:    5,
		},
		Assets: []Asset{
			{Ticker: "TCH", Name: "TechCorp", Type: AssetStock, Price: 150_00},
			{Ticker: "EFL", Name: "EcoFuel", Type: AssetStock, Price: 85_50},
			{Ticker: "BTC", Name: "Bitcoin", Type: AssetCrypto, Price: 65000_00},
			{Ticker: "ETH", Name: "Ethereum", Type: AssetCrypto, Price: 3500_00},
		},
	}
}

// AccountIDs возвращает идентификаторы счетов в отсортированном порядке.
func (s *State) AccountIDs() []string {
	return slices.Sorted(maps.Keys(s.Accounts))
}

// Asset возвращает инструмент по тикеру или nil.
func (s *State) Asset(ticker string) *Asset {
	for i := range s.Assets {
		if s.Assets[i].Ticker == ticker {
			return &s.Assets[i]
		}
	}
	return nil
}
