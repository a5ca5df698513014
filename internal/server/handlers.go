package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/marketdata"
	"github.com/aristath/swingbot/internal/models"
	"github.com/aristath/swingbot/internal/policy"
	"github.com/aristath/swingbot/pkg/formulas"
)

// handleHealth reports which strategies have a model loaded. Always 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := map[domain.Strategy]bool{}
	if s.cfg.Models != nil {
		loaded = s.cfg.Models.Ready()
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"models_loaded": loaded,
	})
}

type predictRequest struct {
	Ticker   string `json:"ticker"`
	Period   string `json:"period"`
	Strategy string `json:"strategy"`
}

// PredictResponse is the body of a successful /predict call
type PredictResponse struct {
	Ticker          string          `json:"ticker"`
	Strategy        domain.Strategy `json:"strategy"`
	Action          string          `json:"action"`
	ActionCode      int             `json:"action_code"`
	Price           float64         `json:"price"`
	BuyProbability  *float64        `json:"buy_probability,omitempty"`
	SellProbability *float64        `json:"sell_probability,omitempty"`
	marketdata.Features
	ModelVersion int `json:"model_version"`
	DataPoints   int `json:"data_points"`
}

// handlePredict runs one inference on the latest window for a ticker
// POST /predict {"ticker": "AAPL", "period": "1mo", "strategy": "sortino"}
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		s.writeError(w, http.StatusBadRequest, "ticker required")
		return
	}

	strategy := s.cfg.DefaultStrategy
	if req.Strategy != "" {
		parsed, err := domain.ParseStrategy(req.Strategy)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		strategy = parsed
	}

	period := req.Period
	if period == "" {
		period = s.cfg.Period
	}

	if s.cfg.Models == nil {
		s.writeError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}
	loaded, err := s.cfg.Models.Get(r.Context(), strategy)
	if err != nil {
		if errors.Is(err, models.ErrNotReady) {
			s.writeError(w, http.StatusServiceUnavailable, "model not loaded")
			return
		}
		s.log.Error().Err(err).Str("strategy", string(strategy)).Msg("Failed to get model")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	bars, err := s.cfg.Market.Recent(r.Context(), ticker, period)
	if err == nil {
		err = marketdata.Require(bars, s.cfg.MinRows)
	}
	if err != nil {
		s.writeDataError(w, ticker, err)
		return
	}

	obs, err := policy.LatestObservation(bars, policy.WindowSize)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "insufficient or invalid data")
		return
	}

	prediction, err := loaded.Model.Predict(obs)
	if err != nil {
		s.log.Error().Err(err).Str("ticker", ticker).Msg("Prediction failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	buy := formulas.Round(prediction.BuyProbability, 4)
	sell := formulas.Round(prediction.SellProbability, 4)

	s.writeJSON(w, http.StatusOK, PredictResponse{
		Ticker:          ticker,
		Strategy:        strategy,
		Action:          prediction.Action.String(),
		ActionCode:      int(prediction.Action),
		Price:           bars[len(bars)-1].Close,
		BuyProbability:  &buy,
		SellProbability: &sell,
		Features:        marketdata.ComputeFeatures(bars),
		ModelVersion:    loaded.Version(),
		DataPoints:      len(bars),
	})
}

func (s *Server) writeDataError(w http.ResponseWriter, ticker string, err error) {
	switch {
	case errors.Is(err, marketdata.ErrInsufficientData):
		s.writeError(w, http.StatusBadRequest, "insufficient or invalid data")
	case errors.Is(err, marketdata.ErrSourceUnavailable):
		s.log.Warn().Err(err).Str("ticker", ticker).Msg("Market data source unavailable")
		s.writeError(w, http.StatusServiceUnavailable, "market data source unavailable")
	default:
		s.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to fetch market data")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
