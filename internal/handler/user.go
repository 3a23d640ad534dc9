package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/virtual-bank/internal/middleware"
	"github.com/mmeshcher/virtual-bank/internal/model"
	"github.com/mmeshcher/virtual-bank/internal/validation"
)

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

// cents извлекает положительную сумму из запроса или отвечает 400.
func (a amountRequest) cents(w http.ResponseWriter) (int64, bool) {
	c, ok := validation.ToCents(a.Amount)
	if !ok {
		http.Error(w, model.ErrInvalidAmount.Error(), http.StatusBadRequest)
	}
	return c, ok
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	acc, err := h.service.Register(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, r, "register user", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, middleware.Principal{AccountID: acc.ID, IsAdmin: acc.IsAdmin})
	writeJSON(w, http.StatusOK, newAccountResponse(acc))
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	acc, err := h.service.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidCredential):
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		case errors.Is(err, model.ErrBlockedAccount):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			h.writeError(w, r, "login user", err)
		}
		return
	}

	h.authMiddleware.SetAuthCookie(w, middleware.Principal{AccountID: acc.ID, IsAdmin: acc.IsAdmin})
	writeJSON(w, http.StatusOK, map[string]any{"id": acc.ID, "isAdmin": acc.IsAdmin})
}

// Logout удаляет cookie авторизации.
func (h *Handler) Logout(w http.ResponseWriter, _ *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

// GetAccount возвращает снимок счёта текущего пользователя.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}

	acc, err := h.service.Account(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(acc))
}

// ReadNotifications отмечает уведомления прочитанными.
func (h *Handler) ReadNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkNotificationsRead(r.Context(), id); err != nil {
		h.writeError(w, r, "read notifications", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	To      string  `json:"to"`
	Amount  float64 `json:"amount"`
	Comment string  `json:"comment"`
}

// Transfer переводит средства другому пользователю.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := amountRequest{Amount: req.Amount}.cents(w)
	if !ok {
		return
	}

	res, err := h.service.Transfer(r.Context(), id, req.To, amount, req.Comment)
	if err != nil {
		h.writeError(w, r, "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, newTransferView(res))
}

// GetAuction возвращает состояние общего аукциона.
func (h *Handler) GetAuction(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newAuctionView(h.service.GeneralAuction()))
}

// PlaceBid делает ставку на общем аукционе.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := req.cents(w)
	if !ok {
		return
	}

	if err := h.service.PlaceBid(r.Context(), id, amount); err != nil {
		h.writeError(w, r, "place bid", err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(h.service.GeneralAuction()))
}

// GetSpecialLots возвращает все особые лоты.
func (h *Handler) GetSpecialLots(w http.ResponseWriter, _ *http.Request) {
	lots := h.service.SpecialLots()
	resp := make([]specialLotView, 0, len(lots))
	for _, lot := range lots {
		resp = append(resp, newSpecialLotView(lot))
	}
	writeJSON(w, http.StatusOK, resp)
}

// PlaceSpecialBid делает ставку на особый лот.
func (h *Handler) PlaceSpecialBid(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := req.cents(w)
	if !ok {
		return
	}

	if err := h.service.PlaceSpecialBid(r.Context(), chi.URLParam(r, "lotID"), id, amount); err != nil {
		h.writeError(w, r, "place special bid", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetLoanPolicy возвращает параметры кредитования.
func (h *Handler) GetLoanPolicy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newLoanPolicyView(h.service.LoanPolicy()))
}

// RequestLoan подаёт заявку на кредит.
func (h *Handler) RequestLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := req.cents(w)
	if !ok {
		return
	}

	approved, err := h.service.RequestLoan(r.Context(), id, amount)
	if err != nil {
		h.writeError(w, r, "request loan", err)
		return
	}

	status := http.StatusOK
	if !approved {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]bool{"approved": approved})
}

// RepayLoan погашает кредит.
func (h *Handler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := req.cents(w)
	if !ok {
		return
	}

	paid, err := h.service.RepayLoan(r.Context(), id, amount)
	if err != nil {
		h.writeError(w, r, "repay loan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"paid": validation.FromCents(paid)})
}

// GetInsuranceOptions возвращает варианты страховки.
func (h *Handler) GetInsuranceOptions(w http.ResponseWriter, _ *http.Request) {
	opts := h.service.InsuranceOptions()
	resp := make([]insuranceOptionView, 0, len(opts))
	for _, o := range opts {
		resp = append(resp, newInsuranceOptionView(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

type buyInsuranceRequest struct {
	OptionID string `json:"optionId"`
}

// BuyInsurance покупает страховку.
func (h *Handler) BuyInsurance(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}

	var req buyInsuranceRequest
	if !decode(w, r, &req) {
		return
	}

	acc, err := h.service.BuyInsurance(r.Context(), id, req.OptionID)
	if err != nil {
		h.writeError(w, r, "buy insurance", err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(acc))
}

// OpenDeposit открывает вклад.
func (h *Handler) OpenDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := req.cents(w)
	if !ok {
		return
	}

	acc, err := h.service.OpenDeposit(r.Context(), id, amount)
	if err != nil {
		h.writeError(w, r, "open deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(acc))
}

// GetAssets возвращает инструменты биржи.
func (h *Handler) GetAssets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newAssetViews(h.service.Assets()))
}

type tradeRequest struct {
	Ticker   string          `json:"ticker"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BuyAsset покупает инструмент.
func (h *Handler) BuyAsset(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "buy asset", h.service.BuyAsset)
}

// SellAsset продаёт инструмент.
func (h *Handler) SellAsset(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "sell asset", h.service.SellAsset)
}

func (h *Handler) trade(w http.ResponseWriter, r *http.Request, op string, fn tradeFunc) {
	id, ok := principal(w, r)
	if !ok {
		return
	}

	var req tradeRequest
	if !decode(w, r, &req) {
		return
	}

	t, err := fn(r.Context(), id, req.Ticker, req.Quantity)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeView(t))
}
