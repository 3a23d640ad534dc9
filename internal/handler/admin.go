package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/virtual-bank/internal/auction"
	"github.com/mmeshcher/virtual-bank/internal/economy"
	"github.com/mmeshcher/virtual-bank/internal/exchange"
	"github.com/mmeshcher/virtual-bank/internal/loan"
	"github.com/mmeshcher/virtual-bank/internal/model"
	"github.com/mmeshcher/virtual-bank/internal/validation"
)

// ListAccounts возвращает все счета.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.Accounts(actor)
	if err != nil {
		h.writeError(w, r, "list accounts", err)
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, acc := range accounts {
		resp = append(resp, newAccountResponse(acc))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createAccountRequest struct {
	Login    string  `json:"login"`
	Password string  `json:"password"`
	IsAdmin  bool    `json:"isAdmin"`
	Balance  float64 `json:"balance"`
}

// CreateAccount открывает счёт от имени администратора.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req createAccountRequest
	if !decode(w, r, &req) {
		return
	}
	balance, ok := validation.ToNonNegativeCents(req.Balance)
	if !ok {
		http.Error(w, model.ErrInvalidAmount.Error(), http.StatusBadRequest)
		return
	}

	acc, err := h.service.CreateAccount(r.Context(), actor, req.Login, req.Password, req.IsAdmin, balance)
	if err != nil {
		h.writeError(w, r, "create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountResponse(acc))
}

// BlockAccount блокирует счёт.
func (h *Handler) BlockAccount(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

// UnblockAccount снимает блокировку счёта.
func (h *Handler) UnblockAccount(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *Handler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.SetBlocked(r.Context(), actor, chi.URLParam(r, "accountID"), blocked); err != nil {
		h.writeError(w, r, "set blocked", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAccount удаляет счёт пользователя.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), actor, chi.URLParam(r, "accountID")); err != nil {
		h.writeError(w, r, "delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// adjustmentRequest — корректировка баланса в денежных единицах. Отрицательная сумма означает списание.
type adjustmentRequest struct {
	AccountIDs []string `json:"accountIds,omitempty"`
	Amount     float64  `json:"amount"`
	Comment    string   `json:"comment"`
}

// delta переводит сумму корректировки в копейки или отвечает 400.
func (a adjustmentRequest) delta(w http.ResponseWriter) (int64, bool) {
	amount, sign := a.Amount, int64(1)
	if amount < 0 {
		amount, sign = -amount, -1
	}
	c, ok := validation.ToCents(amount)
	if !ok {
		http.Error(w, model.ErrInvalidAmount.Error(), http.StatusBadRequest)
		return 0, false
	}
	return sign * c, true
}

// AdjustBalance корректирует баланс одного счёта.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req adjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	delta, ok := req.delta(w)
	if !ok {
		return
	}

	acc, err := h.service.AdjustBalance(r.Context(), actor, chi.URLParam(r, "accountID"), delta, req.Comment)
	if err != nil {
		h.writeError(w, r, "adjust balance", err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(acc))
}

// BulkAdjustBalance корректирует балансы группы счетов.
func (h *Handler) BulkAdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req adjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	delta, ok := req.delta(w)
	if !ok {
		return
	}

	accounts, err := h.service.BulkAdjustBalance(r.Context(), actor, req.AccountIDs, delta, req.Comment)
	if err != nil {
		h.writeError(w, r, "bulk adjust balance", err)
		return
	}
	resp := make([]accountResponse, 0, len(accounts))
	for _, acc := range accounts {
		resp = append(resp, newAccountResponse(acc))
	}
	writeJSON(w, http.StatusOK, resp)
}

type revokeView struct {
	SenderID    string  `json:"senderId"`
	RecipientID string  `json:"recipientId"`
	Amount      float64 `json:"amount"`
}

// RevokeTransfer отменяет перевод и возвращает средства отправителю.
func (h *Handler) RevokeTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	res, err := h.service.RevokeTransfer(r.Context(), actor, chi.URLParam(r, "txID"))
	if err != nil {
		h.writeError(w, r, "revoke transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, revokeView{
		SenderID:    res.SenderID,
		RecipientID: res.RecipientID,
		Amount:      validation.FromCents(res.Amount),
	})
}

type notificationRequest struct {
	AccountID string `json:"accountId"`
	Text      string `json:"text"`
}

// SendNotification отправляет уведомление пользователю или всем.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req notificationRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.SendNotification(r.Context(), actor, req.AccountID, req.Text); err != nil {
		h.writeError(w, r, "send notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type activateAuctionRequest struct {
	EndsAt time.Time `json:"endsAt"`
}

// ActivateAuction запускает общий аукцион.
func (h *Handler) ActivateAuction(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req activateAuctionRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.ActivateAuction(r.Context(), actor, req.EndsAt); err != nil {
		h.writeError(w, r, "activate auction", err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(h.service.GeneralAuction()))
}

// SettleAuction досрочно завершает общий аукцион.
func (h *Handler) SettleAuction(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	winner, err := h.service.SettleAuction(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, "settle auction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*bidView{"winner": newBidView(winner)})
}

type specialLotRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	StartPrice  float64   `json:"startPrice"`
	EndsAt      time.Time `json:"endsAt"`
}

// PublishSpecialLot публикует особый лот.
func (h *Handler) PublishSpecialLot(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req specialLotRequest
	if !decode(w, r, &req) {
		return
	}
	start, ok := validation.ToNonNegativeCents(req.StartPrice)
	if !ok {
		http.Error(w, model.ErrInvalidLot.Error(), http.StatusBadRequest)
		return
	}

	lot, err := h.service.PublishSpecialLot(r.Context(), actor, auction.LotParams{
		Name:        req.Name,
		Description: req.Description,
		Image:       req.Image,
		StartPrice:  start,
		EndsAt:      req.EndsAt,
	})
	if err != nil {
		h.writeError(w, r, "publish special lot", err)
		return
	}
	writeJSON(w, http.StatusCreated, newSpecialLotView(lot))
}

// SettleSpecialLot досрочно завершает особый лот.
func (h *Handler) SettleSpecialLot(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	winner, err := h.service.SettleSpecialLot(r.Context(), actor, chi.URLParam(r, "lotID"))
	if err != nil {
		h.writeError(w, r, "settle special lot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*bidView{"winner": newBidView(winner)})
}

// ListPendingLoans возвращает заявки на кредит.
func (h *Handler) ListPendingLoans(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	reqs, err := h.service.PendingLoans(actor)
	if err != nil {
		h.writeError(w, r, "list pending loans", err)
		return
	}
	writeJSON(w, http.StatusOK, newPendingLoanViews(reqs))
}

// ApproveLoan одобряет заявку на кредит.
func (h *Handler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.ApproveLoan(r.Context(), actor, chi.URLParam(r, "accountID")); err != nil {
		h.writeError(w, r, "approve loan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RejectLoan отклоняет заявку на кредит.
func (h *Handler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.RejectLoan(r.Context(), actor, chi.URLParam(r, "accountID")); err != nil {
		h.writeError(w, r, "reject loan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForceRepayLoan принудительно погашает кредит.
func (h *Handler) ForceRepayLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	due, err := h.service.ForceRepayLoan(r.Context(), actor, chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, r, "force repay loan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"debited": validation.FromCents(due)})
}

type loanPolicyRequest struct {
	InterestRatePercent          float64 `json:"interestRatePercent"`
	MaxAmount                    float64 `json:"maxAmount"`
	AutoApprove                  bool    `json:"autoApprove"`
	Term                         string  `json:"term"`
	CreditCrisisThresholdPercent float64 `json:"creditCrisisThresholdPercent"`
}

// UpdateLoanPolicy меняет параметры кредитования.
func (h *Handler) UpdateLoanPolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req loanPolicyRequest
	if !decode(w, r, &req) {
		return
	}
	maxAmount, okMax := validation.ToCents(req.MaxAmount)
	term, err := time.ParseDuration(req.Term)
	if !okMax || err != nil {
		http.Error(w, model.ErrInvalidPolicy.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.service.UpdateLoanPolicy(r.Context(), actor, loan.PolicyUpdate{
		InterestRatePercent:          req.InterestRatePercent,
		MaxAmount:                    maxAmount,
		AutoApprove:                  req.AutoApprove,
		TermDuration:                 term,
		CreditCrisisThresholdPercent: req.CreditCrisisThresholdPercent,
	})
	if err != nil {
		h.writeError(w, r, "update loan policy", err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanPolicyView(p))
}

type triggerEventRequest struct {
	Kind   model.EventKind `json:"kind"`
	Params eventParams     `json:"params"`
}

// TriggerEvent немедленно применяет экономическое событие.
func (h *Handler) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req triggerEventRequest
	if !decode(w, r, &req) {
		return
	}
	params, ok := req.Params.toModel()
	if !ok {
		http.Error(w, model.ErrInvalidAmount.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.service.TriggerEvent(r.Context(), actor, req.Kind, params)
	if err != nil {
		h.writeError(w, r, "trigger event", err)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(report))
}

type scheduleEventRequest struct {
	Kind   model.EventKind `json:"kind"`
	Params eventParams     `json:"params"`
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
}

// ScheduleEvent планирует экономическое событие.
func (h *Handler) ScheduleEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req scheduleEventRequest
	if !decode(w, r, &req) {
		return
	}
	params, ok := req.Params.toModel()
	if !ok {
		http.Error(w, model.ErrInvalidAmount.Error(), http.StatusBadRequest)
		return
	}

	ev, err := h.service.ScheduleEvent(r.Context(), actor, req.Kind, params, req.Start, req.End)
	if err != nil {
		h.writeError(w, r, "schedule event", err)
		return
	}
	writeJSON(w, http.StatusCreated, newEventView(ev))
}

// ListEvents возвращает запланированные события.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	events, err := h.service.Events(actor)
	if err != nil {
		h.writeError(w, r, "list events", err)
		return
	}

	resp := make([]eventView, 0, len(events))
	for _, ev := range events {
		resp = append(resp, newEventView(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteEvent удаляет запланированное событие.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteEvent(r.Context(), actor, chi.URLParam(r, "eventID")); err != nil {
		h.writeError(w, r, "delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetEconomySettings возвращает параметры динамической экономики.
func (h *Handler) GetEconomySettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	s, err := h.service.EconomySettings(actor)
	if err != nil {
		h.writeError(w, r, "get economy settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type economySettingsRequest struct {
	DynamicEvents             bool    `json:"dynamicEvents"`
	CrimeWaveThresholdPercent float64 `json:"crimeWaveThresholdPercent"`
	BaseTheftChancePercent    float64 `json:"baseTheftChancePercent"`
}

// UpdateEconomySettings меняет параметры динамической экономики.
func (h *Handler) UpdateEconomySettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req economySettingsRequest
	if !decode(w, r, &req) {
		return
	}

	s, err := h.service.UpdateEconomySettings(r.Context(), actor, economy.SettingsUpdate{
		DynamicEvents:             req.DynamicEvents,
		CrimeWaveThresholdPercent: req.CrimeWaveThresholdPercent,
		BaseTheftChancePercent:    req.BaseTheftChancePercent,
	})
	if err != nil {
		h.writeError(w, r, "update economy settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type insuranceOptionRequest struct {
	Duration string  `json:"duration"`
	Cost     float64 `json:"cost"`
}

// AddInsuranceOption добавляет вариант страховки.
func (h *Handler) AddInsuranceOption(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req insuranceOptionRequest
	if !decode(w, r, &req) {
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	cost, okCost := validation.ToCents(req.Cost)
	if err != nil || !okCost {
		http.Error(w, model.ErrInvalidAmount.Error(), http.StatusBadRequest)
		return
	}

	opt, err := h.service.AddInsuranceOption(r.Context(), actor, duration, cost)
	if err != nil {
		h.writeError(w, r, "add insurance option", err)
		return
	}
	writeJSON(w, http.StatusCreated, newInsuranceOptionView(opt))
}

// RemoveInsuranceOption удаляет вариант страховки.
func (h *Handler) RemoveInsuranceOption(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveInsuranceOption(r.Context(), actor, chi.URLParam(r, "optionID")); err != nil {
		h.writeError(w, r, "remove insurance option", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SchedulerTick вручную запускает проход планировщика.
func (h *Handler) SchedulerTick(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.SchedulerTick(r.Context(), actor); err != nil {
		h.writeError(w, r, "scheduler tick", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assetRequest struct {
	Ticker string          `json:"ticker"`
	Name   string          `json:"name"`
	Type   model.AssetType `json:"type"`
	Price  float64         `json:"price"`
}

// UpsertAsset добавляет инструмент биржи или обновляет существующий.
func (h *Handler) UpsertAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var req assetRequest
	if !decode(w, r, &req) {
		return
	}
	price, ok := validation.ToCents(req.Price)
	if !ok {
		http.Error(w, model.ErrInvalidAmount.Error(), http.StatusBadRequest)
		return
	}

	a, err := h.service.UpsertAsset(r.Context(), actor, exchange.AssetUpdate{
		Ticker: req.Ticker,
		Name:   req.Name,
		Type:   req.Type,
		Price:  price,
	})
	if err != nil {
		h.writeError(w, r, "upsert asset", err)
		return
	}
	writeJSON(w, http.StatusOK, newAssetView(a))
}
