package marketdata

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/pkg/formulas"
)

// Sanitize drops rows with missing or non-positive prices, keeps the last row for a
// repeated timestamp and sorts the result by time
func Sanitize(bars []domain.Bar) []domain.Bar {
	byTime := make(map[int64]domain.Bar, len(bars))
	for _, b := range bars {
		if !valid(b) {
			continue
		}
		byTime[b.Time.Unix()] = b
	}

	out := make([]domain.Bar, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func valid(b domain.Bar) bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Volume >= 0 && !math.IsNaN(b.Volume)
}

// Require returns ErrInsufficientData when fewer than min rows are available
func Require(bars []domain.Bar, min int) error {
	if len(bars) < min {
		return fmt.Errorf("%w: %d rows, need %d", ErrInsufficientData, len(bars), min)
	}
	return nil
}

// Features are descriptive statistics returned alongside a prediction
type Features struct {
	PriceChange10dPct *float64 `json:"price_change_10d_pct,omitempty"`
	Volatility10d     *float64 `json:"volatility_10d,omitempty"`
}

// ComputeFeatures returns the 10-day rate of change in percent and the standard deviation
// of the last 10 daily returns. Either is nil when there is not enough history.
func ComputeFeatures(bars []domain.Bar) Features {
	closes := domain.Closes(bars)
	f := Features{
		PriceChange10dPct: formulas.CalculateROC(closes, 10),
		Volatility10d:     formulas.CalculateVolatility(closes, 10),
	}
	if f.PriceChange10dPct != nil {
		v := formulas.Round(*f.PriceChange10dPct, 4)
		f.PriceChange10dPct = &v
	}
	if f.Volatility10d != nil {
		v := formulas.Round(*f.Volatility10d, 6)
		f.Volatility10d = &v
	}
	return f
}
