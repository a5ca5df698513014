// Package handlers provides HTTP handlers for trade history.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/domain"
)

// TradeHistory is the read side of the trade store used by the handlers
type TradeHistory interface {
	History(limit int) ([]domain.Trade, error)
	GetByID(id int64) (*domain.Trade, error)
}

// TradingHandlers contains HTTP handlers for the trading API
type TradingHandlers struct {
	log       zerolog.Logger
	tradeRepo TradeHistory
}

// NewTradingHandlers creates a new trading handlers instance
func NewTradingHandlers(tradeRepo TradeHistory, log zerolog.Logger) *TradingHandlers {
	return &TradingHandlers{
		tradeRepo: tradeRepo,
		log:       log.With().Str("handler", "trading").Logger(),
	}
}

// HandleGetTrades returns trade history
// GET /api/trades?limit=50
func (h *TradingHandlers) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	trades, err := h.tradeRepo.History(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get trade history")
		http.Error(w, "Failed to get trade history", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

// HandleGetTrade returns one trade, including its realised PnL once closed
// GET /api/trades/{id}
func (h *TradingHandlers) HandleGetTrade(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid trade id", http.StatusBadRequest)
		return
	}

	trade, err := h.tradeRepo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Int64("trade_id", id).Msg("Failed to get trade")
		http.Error(w, "Failed to get trade", http.StatusInternalServerError)
		return
	}
	if trade == nil {
		http.Error(w, "Trade not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, trade)
}

func (h *TradingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
