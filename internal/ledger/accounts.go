package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/virtual-bank/internal/model"
)

// CreateAccount открывает новый счёт.
func (l *Ledger) CreateAccount(ctx context.Context, id string, passwordHash []byte, isAdmin bool, balance int64) (*model.Account, error) {
	if balance < 0 {
		return nil, model.ErrInvalidAmount
	}

	var out *model.Account
	err := l.Update(ctx, func(tx *Tx) error {
		if _, exists := tx.State().Accounts[id]; exists {
			return model.ErrAccountExists
		}
		acc := &model.Account{
			ID:           id,
			PasswordHash: passwordHash,
			IsAdmin:      isAdmin,
			Balance:      balance,
			Holdings:     make(map[string]decimal.Decimal),
			CreatedAt:    tx.Now(),
		}
		tx.State().Accounts[id] = acc
		out = acc.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetBlocked блокирует или разблокирует счёт.
func (l *Ledger) SetBlocked(ctx context.Context, id string, blocked bool) error {
	return l.Update(ctx, func(tx *Tx) error {
		acc, err := tx.Account(id)
		if err != nil {
			return err
		}
		if acc.IsBlocked == blocked {
			return nil
		}
		acc.IsBlocked = blocked
		if blocked {
			tx.Notify(acc, "Your account has been blocked by the administrator")
		} else {
			tx.Notify(acc, "Your account has been unblocked")
		}
		return nil
	})
}

// MarkNotificationsRead отмечает все уведомления счёта прочитанными.
func (l *Ledger) MarkNotificationsRead(ctx context.Context, id string) error {
	_, err := l.Mutate(ctx, id, func(acc *model.Account) error {
		for i := range acc.Notifications {
			acc.Notifications[i].Read = true
		}
		return nil
	})
	return err
}

// SendNotification отправляет уведомление одному пользователю или всем, если id пуст.
func (l *Ledger) SendNotification(ctx context.Context, id, text string) error {
	return l.Update(ctx, func(tx *Tx) error {
		if id == "" {
			tx.Broadcast(text)
			return nil
		}
		acc, err := tx.Account(id)
		if err != nil {
			return err
		}
		tx.Notify(acc, text)
		return nil
	})
}

// DeleteAccount удаляет счёт пользователя. Счета администраторов и участников активных торгов не удаляются.
func (l *Ledger) DeleteAccount(ctx context.Context, id string) error {
	return l.Update(ctx, func(tx *Tx) error {
		acc, err := tx.Account(id)
		if err != nil {
			return err
		}
		if acc.IsAdmin {
			return model.ErrDeleteAdmin
		}
		if hasHeldBids(tx.State(), id) {
			return model.ErrAccountHasBids
		}
		delete(tx.State().Accounts, id)
		return nil
	})
}

func hasHeldBids(s *model.State, id string) bool {
	held := func(a model.Auction) bool {
		return a.Status == model.AuctionActive && slices.ContainsFunc(a.Bids, func(b model.Bid) bool {
			return b.AccountID == id && b.Status == model.BidHeld
		})
	}
	if held(s.Auctions.General) {
		return true
	}
	for _, lot := range s.Auctions.SpecialLots {
		if held(lot.Auction) {
			return true
		}
	}
	return false
}

// MaxAdjustment ограничивает модуль одной корректировки баланса.
const MaxAdjustment = 1_000_000_000 * model.CentsPerUnit

// AdjustBalance корректирует баланс счёта на delta копеек. Списание может сделать баланс отрицательным.
func (l *Ledger) AdjustBalance(ctx context.Context, id string, delta int64, comment string) (*model.Account, error) {
	accounts, err := l.BulkAdjustBalance(ctx, []string{id}, delta, comment)
	if err != nil {
		return nil, err
	}
	return accounts[0], nil
}

// BulkAdjustBalance атомарно корректирует балансы нескольких счетов на delta копеек.
// Если хотя бы один счёт не найден, ни один баланс не меняется.
func (l *Ledger) BulkAdjustBalance(ctx context.Context, ids []string, delta int64, comment string) ([]*model.Account, error) {
	comment = strings.TrimSpace(comment)
	if delta == 0 || delta > MaxAdjustment || delta < -MaxAdjustment || comment == "" || len(ids) == 0 {
		return nil, model.ErrInvalidAdjustment
	}
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))

	out := make([]*model.Account, 0, len(ids))
	err := l.Update(ctx, func(tx *Tx) error {
		out = out[:0]
		for _, id := range ids {
			acc, err := tx.Account(id)
			if err != nil {
				return err
			}
			if delta > 0 {
				tx.Credit(acc, delta, model.TxAdminAdjustment, comment)
				tx.Notify(acc, fmt.Sprintf("The administrator credited %s: %s", FormatAmount(delta), comment))
			} else {
				tx.ForceDebit(acc, -delta, model.TxAdminAdjustment, comment)
				tx.Notify(acc, fmt.Sprintf("The administrator debited %s: %s", FormatAmount(-delta), comment))
			}
			out = append(out, acc.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
