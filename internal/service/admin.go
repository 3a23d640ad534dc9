package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/auction"
	"github.com/mmeshcher/virtual-bank/internal/economy"
	"github.com/mmeshcher/virtual-bank/internal/exchange"
	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/loan"
	"github.com/mmeshcher/virtual-bank/internal/model"
	"github.com/mmeshcher/virtual-bank/internal/validation"
)

// Все операции этого файла требуют прав администратора у actorID.

// Accounts возвращает все счета.
func (s *Service) Accounts(actorID string) ([]*model.Account, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}
	return s.ledger.Accounts(), nil
}

// CreateAccount открывает счёт от имени администратора.
func (s *Service) CreateAccount(ctx context.Context, actorID, login, password string, isAdmin bool, balance int64) (*model.Account, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, s.observe("create_account", err)
	}
	if !validation.IsValidLogin(login) || password == "" {
		return nil, s.observe("create_account", ErrInvalidLogin)
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}
	acc, err := s.ledger.CreateAccount(ctx, login, hash, isAdmin, balance)
	if err == nil {
		s.logger.Info("account created by admin", zap.String("account", login), zap.String("admin", actorID))
	}
	return acc, s.observe("create_account", err)
}

// SetBlocked блокирует или разблокирует счёт.
func (s *Service) SetBlocked(ctx context.Context, actorID, accountID string, blocked bool) error {
	if err := s.requireAdmin(actorID); err != nil {
		return s.observe("set_blocked", err)
	}
	return s.observe("set_blocked", s.ledger.SetBlocked(ctx, accountID, blocked))
}

// DeleteAccount удаляет счёт пользователя.
func (s *Service) DeleteAccount(ctx context.Context, actorID, accountID string) error {
	if err := s.requireAdmin(actorID); err != nil {
		return s.observe("delete_account", err)
	}
	err := s.ledger.DeleteAccount(ctx, accountID)
	if err == nil {
		s.logger.Info("account deleted by admin", zap.String("account", accountID), zap.String("admin", actorID))
	}
	return s.observe("delete_account", err)
}

// AdjustBalance корректирует баланс счёта на delta копеек.
func (s *Service) AdjustBalance(ctx context.Context, actorID, accountID string, delta int64, comment string) (*model.Account, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, s.observe("adjust_balance", err)
	}
	acc, err := s.ledger.AdjustBalance(ctx, accountID, delta, comment)
	return acc, s.observe("adjust_balance", err)
}

// BulkAdjustBalance корректирует балансы группы счетов на delta копеек.
func (s *Service) BulkAdjustBalance(ctx context.Context, actorID string, accountIDs []string, delta int64, comment string) ([]*model.Account, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, s.observe("bulk_adjust_balance", err)
	}
	accounts, err := s.ledger.BulkAdjustBalance(ctx, accountIDs, delta, comment)
	return accounts, s.observe("bulk_adjust_balance", err)
}

// RevokeTransfer отменяет перевод по идентификатору записи отправителя.
func (s *Service) RevokeTransfer(ctx context.Context, actorID, txID string) (ledger.RevokeResult, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return ledger.RevokeResult{}, s.observe("revoke_transfer", err)
	}
	res, err := s.ledger.RevokeTransfer(ctx, txID)
	if err == nil {
		s.logger.Info("transfer revoked",
			zap.String("tx", txID),
			zap.String("sender", res.SenderID),
			zap.String("recipient", res.RecipientID),
			zap.String("admin", actorID))
	}
	return res, s.observe("revoke_transfer", err)
}

// SendNotification отправляет уведомление пользователю или всем, если accountID пуст.
func (s *Service) SendNotification(ctx context.Context, actorID, accountID, text string) error {
	if err := s.requireAdmin(actorID); err != nil {
		return err
	}
	if text == "" {
		return model.ErrInvalidAmount
	}
	return s.ledger.SendNotification(ctx, accountID, text)
}

// ActivateAuction запускает общий аукцион.
func (s *Service) ActivateAuction(ctx context.Context, actorID string, endsAt time.Time) error {
	if err := s.requireAdmin(actorID); err != nil {
		return s.observe("activate_auction", err)
	}
	return s.observe("activate_auction", s.auctions.Activate(ctx, endsAt))
}

// SettleAuction досрочно завершает общий аукцион.
func (s *Service) SettleAuction(ctx context.Context, actorID string) (*model.Bid, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, s.observe("settle_auction", err)
	}
	w, err := s.auctions.Settle(ctx)
	return w, s.observe("settle_auction", err)
}

// PublishSpecialLot публикует особый лот.
func (s *Service) PublishSpecialLot(ctx context.Context, actorID string, p auction.LotParams) (model.SpecialLot, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return model.SpecialLot{}, s.observe("publish_special_lot", err)
	}
	lot, err := s.auctions.PublishSpecialLot(ctx, p)
	return lot, s.observe("publish_special_lot", err)
}

// SettleSpecialLot досрочно завершает особый лот.
func (s *Service) SettleSpecialLot(ctx context.Context, actorID, lotID string) (*model.Bid, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, s.observe("settle_special_lot", err)
	}
	w, err := s.auctions.SettleSpecialLot(ctx, lotID)
	return w, s.observe("settle_special_lot", err)
}

// PendingLoans возвращает заявки на кредит, ожидающие решения.
func (s *Service) PendingLoans(actorID string) ([]loan.PendingRequest, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}
	return s.loans.PendingRequests(), nil
}

// ApproveLoan одобряет заявку на кредит.
func (s *Service) ApproveLoan(ctx context.Context, actorID, accountID string) error {
	if err := s.requireAdmin(actorID); err != nil {
		return s.observe("approve_loan", err)
	}
	return s.observe("approve_loan", s.loans.Approve(ctx, accountID))
}

// RejectLoan отклоняет заявку на кредит.
func (s *Service) RejectLoan(ctx context.Context, actorID, accountID string) error {
	if err := s.requireAdmin(actorID); err != nil {
		return s.observe("reject_loan", err)
	}
	return s.observe("reject_loan", s.loans.Reject(ctx, accountID))
}

// ForceRepayLoan принудительно погашает кредит пользователя.
func (s *Service) ForceRepayLoan(ctx context.Context, actorID, accountID string) (int64, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return 0, s.observe("force_repay_loan", err)
	}
	due, err := s.loans.ForceRepay(ctx, accountID)
	return due, s.observe("force_repay_loan", err)
}

// UpdateLoanPolicy меняет параметры кредитования.
func (s *Service) UpdateLoanPolicy(ctx context.Context, actorID string, u loan.PolicyUpdate) (model.LoanPolicy, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return model.LoanPolicy{}, s.observe("update_loan_policy", err)
	}
	p, err := s.loans.UpdatePolicy(ctx, u)
	return p, s.observe("update_loan_policy", err)
}

// TriggerEvent немедленно применяет экономическое событие.
func (s *Service) TriggerEvent(ctx context.Context, actorID string, kind model.EventKind, params model.EventParams) (economy.Report, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return economy.Report{}, s.observe("trigger_event", err)
	}
	r, err := s.economy.Trigger(ctx, kind, params)
	return r, s.observe("trigger_event", err)
}

// ScheduleEvent планирует экономическое событие.
func (s *Service) ScheduleEvent(ctx context.Context, actorID string, kind model.EventKind, params model.EventParams, start, end time.Time) (model.EconomicEvent, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return model.EconomicEvent{}, s.observe("schedule_event", err)
	}
	ev, err := s.economy.Schedule(ctx, kind, params, start, end)
	return ev, s.observe("schedule_event", err)
}

// DeleteEvent удаляет запланированное событие.
func (s *Service) DeleteEvent(ctx context.Context, actorID, eventID string) error {
	if err := s.requireAdmin(actorID); err != nil {
		return s.observe("delete_event", err)
	}
	return s.observe("delete_event", s.economy.DeleteEvent(ctx, eventID))
}

// Events возвращает запланированные и применённые события.
func (s *Service) Events(actorID string) ([]model.EconomicEvent, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}
	return s.economy.Events(), nil
}

// EconomySettings возвращает параметры динамической экономики.
func (s *Service) EconomySettings(actorID string) (model.EconomySettings, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return model.EconomySettings{}, err
	}
	return s.economy.Settings(), nil
}

// UpdateEconomySettings меняет параметры динамической экономики.
func (s *Service) UpdateEconomySettings(ctx context.Context, actorID string, u economy.SettingsUpdate) (model.EconomySettings, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return model.EconomySettings{}, s.observe("update_economy_settings", err)
	}
	st, err := s.economy.UpdateSettings(ctx, u)
	return st, s.observe("update_economy_settings", err)
}

// AddInsuranceOption добавляет вариант страховки.
func (s *Service) AddInsuranceOption(ctx context.Context, actorID string, duration time.Duration, cost int64) (model.InsuranceOption, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return model.InsuranceOption{}, err
	}
	return s.ledger.AddInsuranceOption(ctx, duration, cost)
}

// RemoveInsuranceOption удаляет вариант страховки.
func (s *Service) RemoveInsuranceOption(ctx context.Context, actorID, optionID string) error {
	if err := s.requireAdmin(actorID); err != nil {
		return err
	}
	return s.ledger.RemoveInsuranceOption(ctx, optionID)
}

// UpsertAsset добавляет или обновляет инструмент биржи.
func (s *Service) UpsertAsset(ctx context.Context, actorID string, u exchange.AssetUpdate) (model.Asset, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return model.Asset{}, s.observe("upsert_asset", err)
	}
	a, err := s.exchange.UpsertAsset(ctx, u)
	return a, s.observe("upsert_asset", err)
}

// SchedulerTick вручную запускает проход планировщика в текущий момент.
func (s *Service) SchedulerTick(ctx context.Context, actorID string) error {
	if err := s.requireAdmin(actorID); err != nil {
		return err
	}
	if s.ticker != nil {
		s.ticker.Tick(ctx, s.ledger.Now())
	}
	return nil
}
