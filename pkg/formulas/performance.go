package formulas

import "math"

// TradeMetrics summarises a list of realised trade PnLs
type TradeMetrics struct {
	WinRate      float64 // Percent of positive PnLs
	AvgPnL       float64
	SortinoRatio float64
	TotalTrades  int
}

// CalculateTradeMetrics computes win rate, mean PnL and a trade-level Sortino ratio.
//
// Sortino Formula:
//
//	Sortino = mean(PnL) / sqrt(mean(PnL² for PnL < 0))
//
// With no losing trades the ratio is the mean PnL when it is positive, else 0.
// An empty list yields all zeros.
func CalculateTradeMetrics(pnls []float64) TradeMetrics {
	if len(pnls) == 0 {
		return TradeMetrics{}
	}

	wins := 0
	var downsideSquaredSum float64
	downsideCount := 0
	for _, pnl := range pnls {
		if pnl > 0 {
			wins++
		}
		if pnl < 0 {
			downsideSquaredSum += pnl * pnl
			downsideCount++
		}
	}

	m := TradeMetrics{
		WinRate:     float64(wins) / float64(len(pnls)) * 100,
		AvgPnL:      Mean(pnls),
		TotalTrades: len(pnls),
	}

	if downsideCount > 0 {
		downsideDev := math.Sqrt(downsideSquaredSum / float64(downsideCount))
		if downsideDev > 0 {
			m.SortinoRatio = m.AvgPnL / downsideDev
		}
	} else if m.AvgPnL > 0 {
		m.SortinoRatio = m.AvgPnL
	}

	return m
}

// Round rounds v to places decimal places
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
