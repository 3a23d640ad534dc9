package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/virtual-bank/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware виртуального банка.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/account", h.GetAccount)
			r.Post("/notifications/read", h.ReadNotifications)
			r.Post("/transfer", h.Transfer)

			r.Get("/auction", h.GetAuction)
			r.Post("/auction/bids", h.PlaceBid)
			r.Get("/special-lots", h.GetSpecialLots)
			r.Post("/special-lots/{lotID}/bids", h.PlaceSpecialBid)

			r.Get("/loan/policy", h.GetLoanPolicy)
			r.Post("/loan/request", h.RequestLoan)
			r.Post("/loan/repay", h.RepayLoan)

			r.Get("/insurance/options", h.GetInsuranceOptions)
			r.Post("/insurance", h.BuyInsurance)
			r.Post("/deposits", h.OpenDeposit)

			r.Get("/exchange/assets", h.GetAssets)
			r.Post("/exchange/buy", h.BuyAsset)
			r.Post("/exchange/sell", h.SellAsset)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireAdmin)

		r.Get("/accounts", h.ListAccounts)
		r.Post("/accounts", h.CreateAccount)
		r.Post("/accounts/{accountID}/block", h.BlockAccount)
		r.Post("/accounts/{accountID}/unblock", h.UnblockAccount)
		r.Delete("/accounts/{accountID}", h.DeleteAccount)
		r.Post("/accounts/{accountID}/adjust", h.AdjustBalance)
		r.Post("/accounts/adjust", h.BulkAdjustBalance)
		r.Post("/transfers/{txID}/revoke", h.RevokeTransfer)
		r.Post("/notifications", h.SendNotification)

		r.Post("/auction/activate", h.ActivateAuction)
		r.Post("/auction/settle", h.SettleAuction)
		r.Post("/special-lots", h.PublishSpecialLot)
		r.Post("/special-lots/{lotID}/settle", h.SettleSpecialLot)

		r.Get("/loans/pending", h.ListPendingLoans)
		r.Post("/loans/{accountID}/approve", h.ApproveLoan)
		r.Post("/loans/{accountID}/reject", h.RejectLoan)
		r.Post("/loans/{accountID}/force-repay", h.ForceRepayLoan)
		r.Put("/loans/policy", h.UpdateLoanPolicy)

		r.Post("/events/trigger", h.TriggerEvent)
		r.Get("/events", h.ListEvents)
		r.Post("/events", h.ScheduleEvent)
		r.Delete("/events/{eventID}", h.DeleteEvent)
		r.Get("/economy/settings", h.GetEconomySettings)
		r.Put("/economy/settings", h.UpdateEconomySettings)

		r.Post("/insurance/options", h.AddInsuranceOption)
		r.Delete("/insurance/options/{optionID}", h.RemoveInsuranceOption)

		r.Put("/exchange/assets", h.UpsertAsset)
		r.Post("/scheduler/tick", h.SchedulerTick)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
