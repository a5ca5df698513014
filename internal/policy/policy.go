// Package policy holds the trading policy, its training environment and the learner.
package policy

import (
	"fmt"

	"github.com/aristath/swingbot/internal/domain"
)

// WindowSize is the number of daily rows in one observation
const WindowSize = 10

// FeatureCount is the number of columns per observation row: close and day-over-day change
const FeatureCount = 2

// Prediction is one inference result
type Prediction struct {
	Action          domain.Action `json:"action"`
	BuyProbability  float64       `json:"buy_probability"`
	SellProbability float64       `json:"sell_probability"`
}

// Model maps an observation window to a discrete action
type Model interface {
	Predict(obs domain.Observation) (Prediction, error)
}

// SignalFeatures computes the per-row [close, diff] features over the whole series.
// The first row has a zero diff.
func SignalFeatures(bars []domain.Bar) [][]float64 {
	out := make([][]float64, len(bars))
	for i, b := range bars {
		diff := 0.0
		if i > 0 {
			diff = b.Close - bars[i-1].Close
		}
		out[i] = []float64{b.Close, diff}
	}
	return out
}

// ObservationAt returns the window ending at tick (inclusive)
func ObservationAt(features [][]float64, tick, window int) (domain.Observation, error) {
	if tick < window-1 || tick >= len(features) {
		return nil, fmt.Errorf("tick %d out of range for window %d over %d rows", tick, window, len(features))
	}
	obs := make(domain.Observation, window)
	for i := 0; i < window; i++ {
		row := features[tick-window+1+i]
		obs[i] = append([]float64(nil), row...)
	}
	return obs, nil
}

// LatestObservation returns the most recent window of bars
func LatestObservation(bars []domain.Bar, window int) (domain.Observation, error) {
	if len(bars) < window {
		return nil, fmt.Errorf("need %d rows, got %d", window, len(bars))
	}
	return ObservationAt(SignalFeatures(bars), len(bars)-1, window)
}
