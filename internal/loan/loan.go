// Package loan реализует выдачу, погашение и принудительное взыскание кредитов.
package loan

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/model"
)

// CrisisRateMultiplier — во сколько раз растёт ставка в режиме кредитного кризиса.
const CrisisRateMultiplier = 1.5

// Ledger описывает используемую часть хранилища состояния.
type Ledger interface {
	Update(ctx context.Context, fn func(tx *ledger.Tx) error) error
	UpdateAt(ctx context.Context, now time.Time, fn func(tx *ledger.Tx) error) error
	View(fn func(state *model.State))
}

// Engine управляет кредитами всех счетов.
type Engine struct {
	ledger Ledger
	logger *zap.Logger
}

// New создаёт движок кредитов.
func New(l Ledger, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{ledger: l, logger: logger}
}

// PendingRequest — заявка на кредит в очереди администратора.
type PendingRequest struct {
	AccountID   string    `json:"accountId"`
	Amount      int64     `json:"amount"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Policy возвращает текущие параметры кредитования.
func (e *Engine) Policy() model.LoanPolicy {
	var p model.LoanPolicy
	e.ledger.View(func(s *model.State) {
		p = s.LoanPolicy
	})
	return p
}

// PendingRequests возвращает заявки, ожидающие решения, от старых к новым.
func (e *Engine) PendingRequests() []PendingRequest {
	var out []PendingRequest
	e.ledger.View(func(s *model.State) {
		for _, id := range s.AccountIDs() {
			if req := s.Accounts[id].PendingLoan; req != nil {
				out = append(out, PendingRequest{AccountID: id, Amount: req.Amount, RequestedAt: req.RequestedAt})
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// RequestLoan оформляет заявку на кредит. При автоодобрении кредит выдаётся сразу, и approved равно true.
func (e *Engine) RequestLoan(ctx context.Context, accountID string, amount int64) (approved bool, err error) {
	if amount <= 0 {
		return false, model.ErrInvalidAmount
	}

	err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		policy := tx.State().LoanPolicy
		if acc.Loan.Amount+amount > policy.MaxAmount {
			return model.ErrExceedsMax
		}
		if acc.PendingLoan != nil {
			return model.ErrRequestAlreadyPending
		}

		if policy.AutoApprove {
			open(tx, acc, amount, policy)
			approved = true
			return nil
		}

		acc.PendingLoan = &model.LoanRequest{Amount: amount, RequestedAt: tx.Now()}
		tx.Notify(acc, fmt.Sprintf("Your loan request for %s is awaiting approval", ledger.FormatAmount(amount)))
		return nil
	})
	if err != nil {
		return false, err
	}
	return approved, nil
}

// open зачисляет кредит, фиксируя текущую ставку и обновляя начало срока.
func open(tx *ledger.Tx, acc *model.Account, amount int64, policy model.LoanPolicy) {
	now := tx.Now()
	acc.Loan.Amount += amount
	acc.Loan.InterestRatePercent = policy.InterestRatePercent
	acc.Loan.TakenAt = &now
	tx.Credit(acc, amount, model.TxLoanCredit, fmt.Sprintf("Loan at %.2f%%", policy.InterestRatePercent))
	tx.Notify(acc, fmt.Sprintf("Loan of %s approved at %.2f%%", ledger.FormatAmount(amount), policy.InterestRatePercent))
}

// Approve одобряет ожидающую заявку.
func (e *Engine) Approve(ctx context.Context, accountID string) error {
	return e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		if acc.PendingLoan == nil {
			return model.ErrNoPendingRequest
		}
		amount := acc.PendingLoan.Amount
		acc.PendingLoan = nil
		open(tx, acc, amount, tx.State().LoanPolicy)
		return nil
	})
}

// Reject отклоняет ожидающую заявку.
func (e *Engine) Reject(ctx context.Context, accountID string) error {
	return e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		if acc.PendingLoan == nil {
			return model.ErrNoPendingRequest
		}
		amount := acc.PendingLoan.Amount
		acc.PendingLoan = nil
		tx.Notify(acc, fmt.Sprintf("Your loan request for %s was rejected", ledger.FormatAmount(amount)))
		return nil
	})
}

// Repay погашает кредит на min(amount, остаток) и возвращает списанную сумму.
func (e *Engine) Repay(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, model.ErrInvalidAmount
	}

	var paid int64
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		if !acc.Loan.Active() {
			return model.ErrNoActiveLoan
		}
		if amount > acc.Balance {
			return model.ErrInsufficientFunds
		}

		paid = min(amount, acc.Loan.Amount)
		if _, err := tx.Debit(acc, paid, model.TxLoanRepayment, "Loan repayment"); err != nil {
			return err
		}
		acc.Loan.Amount -= paid
		if acc.Loan.Amount == 0 {
			acc.Loan = model.Loan{}
			tx.Notify(acc, "Your loan is fully repaid")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return paid, nil
}

// TotalDue возвращает сумму к взысканию: основной долг и проценты по зафиксированной ставке.
// Результат не превышает math.MaxInt64.
func TotalDue(l model.Loan) int64 {
	interest := math.Round(float64(l.Amount) * l.InterestRatePercent / 100)
	if math.IsNaN(interest) || interest <= 0 {
		return l.Amount
	}
	if interest >= float64(math.MaxInt64-l.Amount) {
		return math.MaxInt64
	}
	return l.Amount + int64(interest)
}

// forceRepay списывает долг с процентами, даже если баланс станет отрицательным.
func forceRepay(tx *ledger.Tx, acc *model.Account, reason string) int64 {
	due := TotalDue(acc.Loan)
	tx.ForceDebit(acc, due, model.TxLoanForceRepayment, reason)
	acc.Loan = model.Loan{}
	tx.Notify(acc, fmt.Sprintf("%s: %s was debited to repay your loan", reason, ledger.FormatAmount(due)))
	return due
}

// ForceRepay принудительно взыскивает кредит и возвращает списанную сумму.
func (e *Engine) ForceRepay(ctx context.Context, accountID string) (int64, error) {
	var due int64
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		if !acc.Loan.Active() {
			return model.ErrNoActiveLoan
		}
		due = forceRepay(tx, acc, "Forced repayment by the administrator")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return due, nil
}

// CheckAutoRepayment взыскивает кредиты, срок которых истёк к моменту now.
func (e *Engine) CheckAutoRepayment(ctx context.Context, now time.Time) (int, error) {
	var repaid []string
	err := e.ledger.UpdateAt(ctx, now, func(tx *ledger.Tx) error {
		repaid = repaid[:0]
		term := tx.State().LoanPolicy.TermDuration
		for _, id := range tx.State().AccountIDs() {
			acc := tx.State().Accounts[id]
			if !acc.Loan.Active() {
				continue
			}
			if acc.Loan.TakenAt == nil {
				e.logger.Warn("active loan without start time", zap.String("account", id))
				continue
			}
			if now.Sub(*acc.Loan.TakenAt) < term {
				continue
			}
			forceRepay(tx, acc, "Loan term expired")
			repaid = append(repaid, id)
		}
		if len(repaid) == 0 {
			return ledger.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, id := range repaid {
		e.logger.Info("loan repaid automatically", zap.String("account", id))
	}
	return len(repaid), nil
}
