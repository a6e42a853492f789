package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/smm-engine/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware движка заказов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user", h.RegisterContact)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/balance", h.GetBalance)
			r.Get("/orders", h.GetOrders)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/catalog", h.GetCatalog)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/select", h.SelectService)
				r.Post("/quantity", h.SubmitQuantity)
				r.Post("/link", h.SubmitLink)
				r.Post("/input", h.SubmitInput)
				r.Post("/confirm", h.ConfirmOrder)
				r.Post("/cancel", h.CancelOrder)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.AdminMiddleware(h.adminToken))

			r.Post("/balance", h.AdjustBalance)
			r.Put("/override/{serviceID}", h.SetOverride)
			r.Delete("/override/{serviceID}", h.ResetOverride)
			r.Post("/adjust", h.BulkAdjust)
			r.Get("/bonuses", h.GetPendingBonuses)
			r.Post("/bonus/{bonusID}/approve", h.ApproveBonus)
			r.Post("/bonus/{bonusID}/decline", h.DeclineBonus)
			r.Put("/settings/{key}", h.SetSetting)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
