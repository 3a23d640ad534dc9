package loan

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/model"
)

// Границы параметров кредитования. Кризисная ставка может превышать MaxInterestRatePercent
// в CrisisRateMultiplier раз.
const (
	MaxInterestRatePercent = 1000
	MaxLoanAmount          = 1_000_000_000 * model.CentsPerUnit
)

// PolicyUpdate — изменяемые администратором параметры кредитования.
type PolicyUpdate struct {
	InterestRatePercent          float64
	MaxAmount                    int64
	AutoApprove                  bool
	TermDuration                 time.Duration
	CreditCrisisThresholdPercent float64
}

// UpdatePolicy меняет параметры кредитования. Во время кризиса новая ставка становится базовой,
// а действующая пересчитывается с кризисным множителем.
func (e *Engine) UpdatePolicy(ctx context.Context, u PolicyUpdate) (model.LoanPolicy, error) {
	if math.IsNaN(u.InterestRatePercent) || u.InterestRatePercent < 0 || u.InterestRatePercent > MaxInterestRatePercent ||
		u.MaxAmount <= 0 || u.MaxAmount > MaxLoanAmount || u.TermDuration <= 0 ||
		math.IsNaN(u.CreditCrisisThresholdPercent) ||
		u.CreditCrisisThresholdPercent <= 0 || u.CreditCrisisThresholdPercent > 100 {
		return model.LoanPolicy{}, model.ErrInvalidPolicy
	}

	var out model.LoanPolicy
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		p := &tx.State().LoanPolicy
		p.MaxAmount = u.MaxAmount
		p.AutoApprove = u.AutoApprove
		p.TermDuration = u.TermDuration
		p.CreditCrisisThresholdPercent = u.CreditCrisisThresholdPercent
		if p.CrisisMode {
			p.OriginalInterestRatePercent = u.InterestRatePercent
			p.InterestRatePercent = u.InterestRatePercent * CrisisRateMultiplier
		} else {
			p.InterestRatePercent = u.InterestRatePercent
		}
		out = *p
		return nil
	})
	if err != nil {
		return model.LoanPolicy{}, err
	}
	return out, nil
}

// LoanShare возвращает долю счетов пользователей с активным кредитом в процентах.
func LoanShare(accounts []*model.Account) (float64, bool) {
	if len(accounts) == 0 {
		return 0, false
	}
	withLoan := 0
	for _, acc := range accounts {
		if acc.Loan.Active() {
			withLoan++
		}
	}
	return float64(withLoan) * 100 / float64(len(accounts)), true
}

// CheckCreditCrisis включает кризисный режим, когда доля заёмщиков превышает порог,
// и выключает его, когда доля возвращается к порогу. Реагирует только на смену режима.
func (e *Engine) CheckCreditCrisis(ctx context.Context, now time.Time) (bool, error) {
	changed := false
	var share float64
	err := e.ledger.UpdateAt(ctx, now, func(tx *ledger.Tx) error {
		var ok bool
		share, ok = LoanShare(tx.NonAdminAccounts())
		if !ok {
			return ledger.ErrNoChange
		}

		p := &tx.State().LoanPolicy
		switch {
		case share > p.CreditCrisisThresholdPercent && !p.CrisisMode:
			p.OriginalInterestRatePercent = p.InterestRatePercent
			p.InterestRatePercent *= CrisisRateMultiplier
			p.CrisisMode = true
			tx.Broadcast(fmt.Sprintf("Credit crisis! Too many loans have been issued. The interest rate rises to %.2f%%", p.InterestRatePercent))
		case share <= p.CreditCrisisThresholdPercent && p.CrisisMode:
			p.InterestRatePercent = p.OriginalInterestRatePercent
			p.OriginalInterestRatePercent = 0
			p.CrisisMode = false
			tx.Broadcast(fmt.Sprintf("The credit crisis is over. The interest rate returns to %.2f%%", p.InterestRatePercent))
		default:
			return ledger.ErrNoChange
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		e.logger.Info("credit crisis mode changed", zap.Float64("loan_share_percent", share))
	}
	return changed, nil
}
