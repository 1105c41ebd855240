// Package api exposes the ledger over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the HTTP router
func Routes(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", h.metrics.Handler())
	if h.hub != nil {
		r.Get("/ws/balances", h.hub.Handler(websocketUser))
	}

	r.Group(func(r chi.Router) {
		// Websocket streams above are long lived; everything else gets a deadline
		r.Use(middleware.Timeout(30 * time.Second))
		routes(r, h)
	})

	return r
}

func routes(r chi.Router, h *Handlers) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)

		r.Post("/account", h.OpenAccount)
		r.Get("/account", h.GetAccount)
		r.Get("/account/entries", h.ListEntries)

		r.Post("/deposits", h.SubmitDeposit)
		r.Get("/deposits", h.ListMyDeposits)
		r.Get("/deposits/{requestID}", h.GetDeposit)
		r.Post("/deposits/{requestID}/cancel", h.CancelDeposit)

		r.Get("/exchange/items", h.ListItems)
		r.Post("/exchanges", h.RequestExchange)
		r.Get("/exchanges", h.ListMyExchanges)

		r.Get("/premium/plans", h.ListPlans)
		r.Get("/premium/membership", h.GetMembership)
		r.Post("/premium/subscriptions", h.PurchaseSubscription)
		r.Post("/premium/micro", h.PurchaseMicro)
		r.Post("/premium/requests", h.SubmitPurchaseRequest)
		r.Post("/premium/requests/{requestID}/cancel", h.CancelPurchaseRequest)
	})

	// Called by trusted services such as the storefront and chat presence tracker
	r.Route("/internal", func(r chi.Router) {
		r.Post("/credits", h.Credit)
		r.Post("/debits", h.Debit)
		r.Post("/accruals", h.Accrue)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireReviewer)

		r.Get("/deposits", h.ListDeposits)
		r.Get("/premium/requests", h.ListPurchaseRequests)
		r.Post("/reviews", h.Review)
		r.Get("/exchanges", h.ListExchanges)
		r.Post("/exchanges/{requestID}/fulfill", h.FulfillExchange)
		r.Put("/catalog/items/{itemID}", h.PutItem)
		r.Put("/catalog/plans/{planID}", h.PutPlan)
		r.Put("/catalog/exchange-settings", h.PutExchangeSettings)
		r.Get("/accounts/{userID}/reconcile", h.Reconcile)
		r.Post("/memberships/expire", h.ExpireMemberships)
		if h.audit != nil {
			r.Get("/accounts/{userID}/audit", h.SearchAudit)
		}
	})
}
