package analysis

import (
	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"gonum.org/v1/gonum/optimize"
)

// lineFunc evaluates a scalar cost and its derivative along the current
// search direction at step alpha.
type lineFunc func(alpha float64) (cost, deriv float64)

const wolfeEvalCap = 40

// wolfeSearch finds a step satisfying the Strong Wolfe conditions for
// phi with the More-Thuente algorithm, starting from step0. It returns
// a NumericError if the direction does not descend or no admissible
// step is found within the evaluation cap.
func wolfeSearch(phi lineFunc, step0 float64) (float64, error) {
	f0, g0 := phi(0)
	if g0 >= 0 {
		return 0, da.Numericf("wolfe", "search direction is not a descent direction (slope %g)", g0)
	}

	ls := &optimize.MoreThuente{}
	ls.Init(f0, g0, step0)

	step := step0
	for iter := 0; iter < wolfeEvalCap; iter++ {
		f, g := phi(step)
		op, next, err := ls.Iterate(f, g)
		if err != nil {
			return 0, da.Numericf("wolfe", "line search failed: %v", err)
		}
		if op == optimize.MajorIteration {
			return next, nil
		}
		step = next
	}

	return 0, da.Numericf("wolfe", "no step satisfying the strong Wolfe conditions in %d evaluations", wolfeEvalCap)
}
