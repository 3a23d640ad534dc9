package ledger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/model"
)

const (
	// DepositTerm — срок вклада.
	DepositTerm = 24 * time.Hour
	// DepositReturnPercent — доходность вклада за срок.
	DepositReturnPercent = 10
)

// InsuranceOptions возвращает доступные варианты страховки.
func (l *Ledger) InsuranceOptions() []model.InsuranceOption {
	var out []model.InsuranceOption
	l.View(func(s *model.State) {
		out = slices.Clone(s.InsuranceOptions)
	})
	return out
}

// AddInsuranceOption добавляет вариант страховки.
func (l *Ledger) AddInsuranceOption(ctx context.Context, duration time.Duration, cost int64) (model.InsuranceOption, error) {
	if duration <= 0 || cost <= 0 {
		return model.InsuranceOption{}, model.ErrInvalidAmount
	}

	var opt model.InsuranceOption
	err := l.Update(ctx, func(tx *Tx) error {
		opt = model.InsuranceOption{ID: tx.NewID(), Duration: duration, Cost: cost}
		tx.State().InsuranceOptions = append(tx.State().InsuranceOptions, opt)
		return nil
	})
	return opt, err
}

// RemoveInsuranceOption удаляет вариант страховки.
func (l *Ledger) RemoveInsuranceOption(ctx context.Context, id string) error {
	return l.Update(ctx, func(tx *Tx) error {
		s := tx.State()
		i := slices.IndexFunc(s.InsuranceOptions, func(o model.InsuranceOption) bool { return o.ID == id })
		if i < 0 {
			return model.ErrInsuranceOptionNotFound
		}
		s.InsuranceOptions = slices.Delete(s.InsuranceOptions, i, i+1)
		return nil
	})
}

// BuyInsurance покупает страховку. Новый срок отсчитывается от конца действующей страховки, если она ещё не истекла.
func (l *Ledger) BuyInsurance(ctx context.Context, accountID, optionID string) (*model.Account, error) {
	var out *model.Account
	err := l.Update(ctx, func(tx *Tx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}

		s := tx.State()
		i := slices.IndexFunc(s.InsuranceOptions, func(o model.InsuranceOption) bool { return o.ID == optionID })
		if i < 0 {
			return model.ErrInsuranceOptionNotFound
		}
		opt := s.InsuranceOptions[i]

		if _, err := tx.Debit(acc, opt.Cost, model.TxInsurancePurchase, "insurance purchase"); err != nil {
			return err
		}

		from := tx.Now()
		if acc.InsuredAt(from) {
			from = *acc.InsuranceExpiresAt
		}
		expires := from.Add(opt.Duration)
		acc.IsInsured = true
		acc.InsuranceExpiresAt = &expires

		tx.Notify(acc, fmt.Sprintf("Insurance active until %s", expires.Format(time.RFC3339)))
		out = acc.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OpenDeposit открывает вклад на DepositTerm.
func (l *Ledger) OpenDeposit(ctx context.Context, accountID string, amount int64) (*model.Account, error) {
	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}

	var out *model.Account
	err := l.Update(ctx, func(tx *Tx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		if acc.Deposit != nil {
			return model.ErrDepositActive
		}
		if _, err := tx.Debit(acc, amount, model.TxDepositOpen, "deposit opened"); err != nil {
			return err
		}
		acc.Deposit = &model.Deposit{
			Amount:   amount,
			OpenedAt: tx.Now(),
			EndsAt:   tx.Now().Add(DepositTerm),
		}
		out = acc.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MatureDeposits возвращает с процентами все вклады, срок которых истёк к моменту now.
func (l *Ledger) MatureDeposits(ctx context.Context, now time.Time) (int, error) {
	matured := 0
	err := l.UpdateAt(ctx, now, func(tx *Tx) error {
		for _, id := range tx.State().AccountIDs() {
			acc := tx.State().Accounts[id]
			if acc.Deposit == nil || acc.Deposit.EndsAt.After(now) {
				continue
			}
			if acc.Deposit.Amount <= 0 {
				l.logger.Warn("skip malformed deposit", zap.String("account", id))
				acc.Deposit = nil
				continue
			}
			total := acc.Deposit.Amount + acc.Deposit.Amount*DepositReturnPercent/100
			tx.Credit(acc, total, model.TxDepositReturn, "deposit matured")
			tx.Notify(acc, fmt.Sprintf("Your deposit matured: %s returned", FormatAmount(total)))
			acc.Deposit = nil
			matured++
		}
		if matured == 0 {
			return ErrNoChange
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return matured, nil
}
