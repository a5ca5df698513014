package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateROC calculates the rate of change over length periods, in percent
//
// ROC Formula:
//
//	ROC = ((Close / Close[length periods ago]) - 1) * 100
//
// Returns the current value or nil if insufficient data
func CalculateROC(closes []float64, length int) *float64 {
	if length < 1 || len(closes) < length+1 {
		return nil
	}

	roc := talib.Roc(closes, length)

	if len(roc) > 0 && !isNaN(roc[len(roc)-1]) {
		result := roc[len(roc)-1]
		return &result
	}

	return nil
}
