package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/swingbot/internal/domain"
)

type fakeHistory struct {
	trades    []domain.Trade
	err       error
	lastLimit int
}

func (f *fakeHistory) History(limit int) ([]domain.Trade, error) {
	f.lastLimit = limit
	return f.trades, f.err
}

func (f *fakeHistory) GetByID(id int64) (*domain.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.trades {
		if f.trades[i].ID == id {
			return &f.trades[i], nil
		}
	}
	return nil, nil
}

func TestHandleGetTrades(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := &fakeHistory{trades: []domain.Trade{{ID: 1, Ticker: "AAPL", Action: domain.TradeSideBuy, Price: 100, Quantity: 1}}}
	h := NewTradingHandlers(repo, log)

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/trades/?limit=5", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, repo.lastLimit)

	var body struct {
		Trades []domain.Trade `json:"trades"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "AAPL", body.Trades[0].Ticker)
}

func TestHandleGetTrades_Error(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	h := NewTradingHandlers(&fakeHistory{err: errors.New("db down")}, log)

	w := httptest.NewRecorder()
	h.HandleGetTrades(w, httptest.NewRequest(http.MethodGet, "/trades", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleGetTrade(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := &fakeHistory{trades: []domain.Trade{{ID: 7, Ticker: "MSFT", Action: domain.TradeSideSell, Price: 300, Quantity: 2}}}
	r := chi.NewRouter()
	NewTradingHandlers(repo, log).RegisterRoutes(r)

	tests := []struct {
		path string
		code int
	}{
		{"/trades/7", http.StatusOK},
		{"/trades/8", http.StatusNotFound},
		{"/trades/abc", http.StatusBadRequest},
		{"/trades/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, w.Code)
		})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/trades/7", nil))
	var trade domain.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trade))
	assert.Equal(t, "MSFT", trade.Ticker)
}
