package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/virtual-bank/internal/economy"
	"github.com/mmeshcher/virtual-bank/internal/exchange"
	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/loan"
	"github.com/mmeshcher/virtual-bank/internal/model"
	"github.com/mmeshcher/virtual-bank/internal/validation"
)

// Суммы во всех ответах указаны в денежных единицах.

type transactionView struct {
	ID           string                `json:"id"`
	Kind         model.TransactionKind `json:"kind"`
	Amount       float64               `json:"amount"`
	Positive     bool                  `json:"positive"`
	Comment      string                `json:"comment,omitempty"`
	At           time.Time             `json:"at"`
	Reversed     bool                  `json:"reversed,omitempty"`
	Counterparty string                `json:"counterparty,omitempty"`
}

type loanView struct {
	Amount              float64    `json:"amount"`
	InterestRatePercent float64    `json:"interestRatePercent"`
	TotalDue            float64    `json:"totalDue"`
	TakenAt             *time.Time `json:"takenAt,omitempty"`
	PendingAmount       *float64   `json:"pendingAmount,omitempty"`
}

type depositView struct {
	Amount   float64   `json:"amount"`
	OpenedAt time.Time `json:"openedAt"`
	EndsAt   time.Time `json:"endsAt"`
}

type accountResponse struct {
	ID                  string                     `json:"id"`
	IsAdmin             bool                       `json:"isAdmin"`
	IsBlocked           bool                       `json:"isBlocked"`
	Balance             float64                    `json:"balance"`
	LoyaltyPoints       int64                      `json:"loyaltyPoints"`
	TotalSent           float64                    `json:"totalSent"`
	Loan                loanView                   `json:"loan"`
	IsInsured           bool                       `json:"isInsured"`
	InsuranceExpiresAt  *time.Time                 `json:"insuranceExpiresAt,omitempty"`
	Deposit             *depositView               `json:"deposit,omitempty"`
	Holdings            map[string]decimal.Decimal `json:"holdings,omitempty"`
	UnreadNotifications int                        `json:"unreadNotifications"`
	Notifications       []model.Notification       `json:"notifications"`
	Transactions        []transactionView          `json:"transactions"`
	WonLots             []model.WonLot             `json:"wonLots,omitempty"`
	CreatedAt           time.Time                  `json:"createdAt"`
}

func newAccountResponse(acc *model.Account) accountResponse {
	resp := accountResponse{
		ID:            acc.ID,
		IsAdmin:       acc.IsAdmin,
		IsBlocked:     acc.IsBlocked,
		Balance:       validation.FromCents(acc.Balance),
		LoyaltyPoints: acc.LoyaltyPoints,
		TotalSent:     validation.FromCents(acc.TotalSent),
		Loan: loanView{
			Amount:              validation.FromCents(acc.Loan.Amount),
			InterestRatePercent: acc.Loan.InterestRatePercent,
			TakenAt:             acc.Loan.TakenAt,
		},
		IsInsured:           acc.IsInsured,
		InsuranceExpiresAt:  acc.InsuranceExpiresAt,
		Holdings:            acc.Holdings,
		UnreadNotifications: acc.UnreadNotifications(),
		Notifications:       acc.Notifications,
		Transactions:        make([]transactionView, 0, len(acc.Transactions)),
		WonLots:             acc.WonLots,
		CreatedAt:           acc.CreatedAt,
	}
	if acc.Loan.Active() {
		resp.Loan.TotalDue = validation.FromCents(loan.TotalDue(acc.Loan))
	}
	if acc.PendingLoan != nil {
		v := validation.FromCents(acc.PendingLoan.Amount)
		resp.Loan.PendingAmount = &v
	}
	if acc.Deposit != nil {
		resp.Deposit = &depositView{
			Amount:   validation.FromCents(acc.Deposit.Amount),
			OpenedAt: acc.Deposit.OpenedAt,
			EndsAt:   acc.Deposit.EndsAt,
		}
	}
	if resp.Notifications == nil {
		resp.Notifications = []model.Notification{}
	}
	for _, t := range acc.Transactions {
		resp.Transactions = append(resp.Transactions, transactionView{
			ID:           t.ID,
			Kind:         t.Kind,
			Amount:       validation.FromCents(t.Amount),
			Positive:     t.Positive,
			Comment:      t.Comment,
			At:           t.At,
			Reversed:     t.Reversed,
			Counterparty: t.Counterparty,
		})
	}
	return resp
}

type bidView struct {
	AccountID string          `json:"accountId"`
	Amount    float64         `json:"amount"`
	PlacedAt  time.Time       `json:"placedAt"`
	Status    model.BidStatus `json:"status"`
}

func newBidView(b *model.Bid) *bidView {
	if b == nil {
		return nil
	}
	return &bidView{
		AccountID: b.AccountID,
		Amount:    validation.FromCents(b.Amount),
		PlacedAt:  b.PlacedAt,
		Status:    b.Status,
	}
}

type auctionView struct {
	Status    model.AuctionStatus `json:"status"`
	EndsAt    time.Time           `json:"endsAt"`
	Bids      []bidView           `json:"bids"`
	Winner    *bidView            `json:"winner,omitempty"`
	SettledAt *time.Time          `json:"settledAt,omitempty"`
}

func newAuctionView(a model.Auction) auctionView {
	v := auctionView{
		Status:    a.Status,
		EndsAt:    a.EndsAt,
		Bids:      make([]bidView, 0, len(a.Bids)),
		Winner:    newBidView(a.Winner),
		SettledAt: a.SettledAt,
	}
	for i := range a.Bids {
		v.Bids = append(v.Bids, *newBidView(&a.Bids[i]))
	}
	return v
}

type specialLotView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Image       string  `json:"image,omitempty"`
	StartPrice  float64 `json:"startPrice"`
	auctionView
}

func newSpecialLotView(lot model.SpecialLot) specialLotView {
	return specialLotView{
		ID:          lot.ID,
		Name:        lot.Name,
		Description: lot.Description,
		Image:       lot.Image,
		StartPrice:  validation.FromCents(lot.StartPrice),
		auctionView: newAuctionView(lot.Auction),
	}
}

type loanPolicyView struct {
	InterestRatePercent          float64 `json:"interestRatePercent"`
	MaxAmount                    float64 `json:"maxAmount"`
	AutoApprove                  bool    `json:"autoApprove"`
	Term                         string  `json:"term"`
	CreditCrisisThresholdPercent float64 `json:"creditCrisisThresholdPercent"`
	CrisisMode                   bool    `json:"crisisMode"`
	OriginalInterestRatePercent  float64 `json:"originalInterestRatePercent,omitempty"`
}

func newLoanPolicyView(p model.LoanPolicy) loanPolicyView {
	return loanPolicyView{
		InterestRatePercent:          p.InterestRatePercent,
		MaxAmount:                    validation.FromCents(p.MaxAmount),
		AutoApprove:                  p.AutoApprove,
		Term:                         p.TermDuration.String(),
		CreditCrisisThresholdPercent: p.CreditCrisisThresholdPercent,
		CrisisMode:                   p.CrisisMode,
		OriginalInterestRatePercent:  p.OriginalInterestRatePercent,
	}
}

type pendingLoanView struct {
	AccountID   string    `json:"accountId"`
	Amount      float64   `json:"amount"`
	RequestedAt time.Time `json:"requestedAt"`
}

func newPendingLoanViews(reqs []loan.PendingRequest) []pendingLoanView {
	out := make([]pendingLoanView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, pendingLoanView{
			AccountID:   r.AccountID,
			Amount:      validation.FromCents(r.Amount),
			RequestedAt: r.RequestedAt,
		})
	}
	return out
}

type insuranceOptionView struct {
	ID       string  `json:"id"`
	Duration string  `json:"duration"`
	Cost     float64 `json:"cost"`
}

func newInsuranceOptionView(o model.InsuranceOption) insuranceOptionView {
	return insuranceOptionView{ID: o.ID, Duration: o.Duration.String(), Cost: validation.FromCents(o.Cost)}
}

type assetView struct {
	Ticker  string          `json:"ticker"`
	Name    string          `json:"name"`
	Type    model.AssetType `json:"type"`
	Price   float64         `json:"price"`
	History []float64       `json:"history,omitempty"`
}

func newAssetView(a model.Asset) assetView {
	v := assetView{Ticker: a.Ticker, Name: a.Name, Type: a.Type, Price: validation.FromCents(a.Price)}
	for _, p := range a.History {
		v.History = append(v.History, validation.FromCents(p))
	}
	return v
}

func newAssetViews(assets []model.Asset) []assetView {
	out := make([]assetView, 0, len(assets))
	for _, a := range assets {
		out = append(out, newAssetView(a))
	}
	return out
}

type tradeView struct {
	Ticker   string          `json:"ticker"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    float64         `json:"price"`
	Total    float64         `json:"total"`
}

func newTradeView(t exchange.Trade) tradeView {
	return tradeView{
		Ticker:   t.Ticker,
		Quantity: t.Quantity,
		Price:    validation.FromCents(t.Price),
		Total:    validation.FromCents(t.Total),
	}
}

type transferView struct {
	SenderTxID     string `json:"senderTxId"`
	RecipientTxID  string `json:"recipientTxId"`
	LoyaltyAwarded int64  `json:"loyaltyAwarded"`
}

func newTransferView(r ledger.TransferResult) transferView {
	return transferView{SenderTxID: r.SenderTxID, RecipientTxID: r.RecipientTxID, LoyaltyAwarded: r.LoyaltyAwarded}
}

// eventParams — параметры события в денежных единицах. Отсутствующее поле означает значение по умолчанию.
type eventParams struct {
	LossPercent      *float64 `json:"lossPercent,omitempty"`
	BalanceThreshold *float64 `json:"balanceThreshold,omitempty"`
	MaxFine          *float64 `json:"maxFine,omitempty"`
	ChancePercent    *float64 `json:"chancePercent,omitempty"`
}

func optionalCents(v *float64) (*int64, bool) {
	if v == nil {
		return nil, true
	}
	cents, ok := validation.ToNonNegativeCents(*v)
	if !ok {
		return nil, false
	}
	return &cents, true
}

func optionalUnits(v *int64) *float64 {
	if v == nil {
		return nil
	}
	return model.Ptr(validation.FromCents(*v))
}

func (p eventParams) toModel() (model.EventParams, bool) {
	threshold, ok := optionalCents(p.BalanceThreshold)
	if !ok {
		return model.EventParams{}, false
	}
	fine, ok := optionalCents(p.MaxFine)
	if !ok {
		return model.EventParams{}, false
	}
	return model.EventParams{
		LossPercent:      p.LossPercent,
		BalanceThreshold: threshold,
		MaxFine:          fine,
		ChancePercent:    p.ChancePercent,
	}, true
}

func newEventParams(p model.EventParams) eventParams {
	return eventParams{
		LossPercent:      p.LossPercent,
		BalanceThreshold: optionalUnits(p.BalanceThreshold),
		MaxFine:          optionalUnits(p.MaxFine),
		ChancePercent:    p.ChancePercent,
	}
}

type eventView struct {
	ID             string            `json:"id"`
	Kind           model.EventKind   `json:"kind"`
	Params         eventParams       `json:"params"`
	ScheduledStart time.Time         `json:"scheduledStart"`
	ScheduledEnd   time.Time         `json:"scheduledEnd"`
	Status         model.EventStatus `json:"status"`
	AppliedAt      *time.Time        `json:"appliedAt,omitempty"`
}

func newEventView(e model.EconomicEvent) eventView {
	return eventView{
		ID:             e.ID,
		Kind:           e.Kind,
		Params:         newEventParams(e.Params),
		ScheduledStart: e.ScheduledStart,
		ScheduledEnd:   e.ScheduledEnd,
		Status:         e.Status,
		AppliedAt:      e.AppliedAt,
	}
}

type effectView struct {
	AccountID string  `json:"accountId"`
	Amount    float64 `json:"amount"`
	Protected bool    `json:"protected,omitempty"`
}

type reportView struct {
	Kind    model.EventKind `json:"kind"`
	Effects []effectView    `json:"effects"`
}

func newReportView(r economy.Report) reportView {
	v := reportView{Kind: r.Kind, Effects: make([]effectView, 0, len(r.Effects))}
	for _, e := range r.Effects {
		v.Effects = append(v.Effects, effectView{
			AccountID: e.AccountID,
			Amount:    validation.FromCents(e.Amount),
			Protected: e.Protected,
		})
	}
	return v
}
