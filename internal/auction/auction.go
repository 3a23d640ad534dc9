// Package auction реализует общий аукцион и аукционы особых лотов.
package auction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/model"
)

// Ledger описывает используемую часть хранилища состояния.
type Ledger interface {
	Update(ctx context.Context, fn func(tx *ledger.Tx) error) error
	UpdateAt(ctx context.Context, now time.Time, fn func(tx *ledger.Tx) error) error
	View(fn func(state *model.State))
}

// Engine управляет жизненным циклом аукционов.
type Engine struct {
	ledger Ledger
	logger *zap.Logger
}

// New создаёт движок аукционов.
func New(l Ledger, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{ledger: l, logger: logger}
}

// General возвращает копию общего аукциона.
func (e *Engine) General() model.Auction {
	var out model.Auction
	e.ledger.View(func(s *model.State) {
		out = s.Auctions.General.Clone()
	})
	return out
}

// Activate запускает общий аукцион до endsAt. Предыдущие ставки и победитель сбрасываются.
func (e *Engine) Activate(ctx context.Context, endsAt time.Time) error {
	return e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		auc := &tx.State().Auctions.General
		if auc.Status == model.AuctionActive {
			return model.ErrAlreadyActive
		}
		if !endsAt.After(tx.Now()) {
			return model.ErrMissingEndTime
		}

		*auc = model.Auction{Status: model.AuctionActive, EndsAt: endsAt}
		tx.Broadcast("The general auction has started! Place your bids")
		return nil
	})
}

// PlaceBid делает ставку на общем аукционе.
func (e *Engine) PlaceBid(ctx context.Context, accountID string, amount int64) error {
	return e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		return placeBid(tx, &tx.State().Auctions.General, 0, "the general auction", accountID, amount)
	})
}

// Settle досрочно завершает общий аукцион и возвращает победившую ставку.
// Повторный вызов для завершённого аукциона ничего не меняет.
func (e *Engine) Settle(ctx context.Context) (*model.Bid, error) {
	var winner *model.Bid
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		auc := &tx.State().Auctions.General
		if auc.Status != model.AuctionActive {
			winner = copyBid(auc.Winner)
			return ledger.ErrNoChange
		}
		winner = settle(tx, auc, model.AuctionInactive, model.WonLotAuction, "General auction lot", "the general auction")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return winner, nil
}

// CheckGeneral завершает общий аукцион, если его время истекло к моменту now.
func (e *Engine) CheckGeneral(ctx context.Context, now time.Time) (bool, error) {
	settled := false
	err := e.ledger.UpdateAt(ctx, now, func(tx *ledger.Tx) error {
		auc := &tx.State().Auctions.General
		if auc.Status != model.AuctionActive || auc.EndsAt.After(now) {
			return ledger.ErrNoChange
		}
		settle(tx, auc, model.AuctionInactive, model.WonLotAuction, "General auction lot", "the general auction")
		settled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if settled {
		e.logger.Info("general auction settled by scheduler")
	}
	return settled, nil
}

// SelectWinner возвращает индекс удерживаемой ставки с наибольшей суммой.
// При равных суммах побеждает более ранняя ставка. Возвращает -1, если ставок нет.
func SelectWinner(bids []model.Bid) int {
	best := -1
	for i, b := range bids {
		if b.Status != model.BidHeld {
			continue
		}
		if best < 0 || b.Amount > bids[best].Amount ||
			(b.Amount == bids[best].Amount && b.PlacedAt.Before(bids[best].PlacedAt)) {
			best = i
		}
	}
	return best
}

func highestHeld(bids []model.Bid) int64 {
	if i := SelectWinner(bids); i >= 0 {
		return bids[i].Amount
	}
	return 0
}

func copyBid(b *model.Bid) *model.Bid {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func refund(tx *ledger.Tx, bid *model.Bid, reason string) {
	bid.Status = model.BidRefunded
	acc, err := tx.Account(bid.AccountID)
	if err != nil {
		return
	}
	tx.Reverse(acc, bid.HoldTxID)
	tx.Credit(acc, bid.Amount, model.TxBidRefund, reason)
}

func placeBid(tx *ledger.Tx, auc *model.Auction, startPrice int64, label, accountID string, amount int64) error {
	now := tx.Now()
	if !auc.Active(now) {
		return model.ErrAuctionNotActive
	}
	if amount <= 0 {
		return model.ErrInvalidAmount
	}

	acc, err := tx.Account(accountID)
	if err != nil {
		return err
	}

	minimum := max(highestHeld(auc.Bids), startPrice)
	if amount <= minimum {
		return model.ErrBidTooLow
	}
	if acc.Balance < amount {
		return model.ErrInsufficientFunds
	}

	if top := SelectWinner(auc.Bids); top >= 0 && auc.Bids[top].AccountID != accountID {
		outbid := &auc.Bids[top]
		refund(tx, outbid, "Your bid was outbid")
		if other, err := tx.Account(outbid.AccountID); err == nil {
			tx.Notify(other, fmt.Sprintf("Your bid of %s on %s was outbid. Funds returned", ledger.FormatAmount(outbid.Amount), label))
		}
	}

	own := -1
	for i := range auc.Bids {
		if auc.Bids[i].AccountID == accountID {
			own = i
			break
		}
	}
	if own >= 0 && auc.Bids[own].Status == model.BidHeld {
		refund(tx, &auc.Bids[own], "Bid raised")
	}

	holdID, err := tx.Debit(acc, amount, model.TxBidHold, "Frozen for a bid on "+label)
	if err != nil {
		return err
	}

	bid := model.Bid{
		AccountID: accountID,
		Amount:    amount,
		PlacedAt:  now,
		HoldTxID:  holdID,
		Status:    model.BidHeld,
	}
	if own >= 0 {
		auc.Bids[own] = bid
	} else {
		auc.Bids = append(auc.Bids, bid)
	}
	return nil
}

// settle определяет победителя, возвращает остальные удержания и переводит аукцион в final.
func settle(tx *ledger.Tx, auc *model.Auction, final model.AuctionStatus, kind model.WonLotKind, lotName, label string) *model.Bid {
	auc.Status = model.AuctionSettling
	now := tx.Now()

	win := SelectWinner(auc.Bids)
	for i := range auc.Bids {
		if i == win || auc.Bids[i].Status != model.BidHeld {
			continue
		}
		refund(tx, &auc.Bids[i], "Auction finished")
		if acc, err := tx.Account(auc.Bids[i].AccountID); err == nil {
			tx.Notify(acc, fmt.Sprintf("Auction finished (%s). Your bid of %s was returned", label, ledger.FormatAmount(auc.Bids[i].Amount)))
		}
	}

	auc.Winner = nil
	if win >= 0 {
		auc.Bids[win].Status = model.BidWon
		w := auc.Bids[win]
		auc.Winner = &w

		if acc, err := tx.Account(w.AccountID); err == nil {
			acc.WonLots = append(acc.WonLots, model.WonLot{
				Kind:  kind,
				Name:  lotName,
				Prize: fmt.Sprintf("Won with a bid of %s", ledger.FormatAmount(w.Amount)),
				At:    now,
			})
			tx.Notify(acc, fmt.Sprintf("You won %s with a bid of %s!", label, ledger.FormatAmount(w.Amount)))
		}
		tx.Broadcast(fmt.Sprintf("Auction finished (%s)! Winner: %s with %s", label, w.AccountID, ledger.FormatAmount(w.Amount)))
	} else {
		tx.Broadcast(fmt.Sprintf("Auction finished (%s) with no winner", label))
	}

	auc.Status = final
	auc.SettledAt = &now
	return copyBid(auc.Winner)
}
