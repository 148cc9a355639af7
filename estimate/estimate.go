// Package estimate records the per-cycle diagnostics of a twin
// experiment: root-mean-square error against the truth twin and the
// ensemble spread, per statistic (forecast, filtered, posterior).
package estimate

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Series is the cycle-indexed RMSE and spread of one statistic.
type Series struct {
	RMSE   []float64 `json:"rmse"`
	Spread []float64 `json:"spread"`
}

// NewSeries returns a Series with capacity for n cycles.
func NewSeries(n int) *Series {
	return &Series{
		RMSE:   make([]float64, 0, n),
		Spread: make([]float64, 0, n),
	}
}

// Append records one cycle.
func (s *Series) Append(rmse, spread float64) {
	s.RMSE = append(s.RMSE, rmse)
	s.Spread = append(s.Spread, spread)
}

// Len returns the number of recorded cycles.
func (s *Series) Len() int {
	return len(s.RMSE)
}

// Mean returns the RMSE and spread averages over the cycles after the
// first burn entries.
func (s *Series) Mean(burn int) (rmse, spread float64, err error) {
	if burn < 0 || burn >= len(s.RMSE) {
		return 0, 0, fmt.Errorf("invalid burn-in %d for %d recorded cycles", burn, len(s.RMSE))
	}

	n := float64(len(s.RMSE) - burn)
	return floats.Sum(s.RMSE[burn:]) / n, floats.Sum(s.Spread[burn:]) / n, nil
}
