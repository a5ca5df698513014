package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the trade history under /trades
func (h *TradingHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/trades", func(r chi.Router) {
		r.Get("/", h.HandleGetTrades)
		r.Get("/{id}", h.HandleGetTrade)
	})
}
