// Package cycle implements the sequential ensemble filter driver: one
// assimilation cycle propagates every ensemble member across the
// inter-observation interval, computes the analysis transform, updates
// the ensemble and applies inflation and, when parameter estimation is
// active, the parameter random walk.
package cycle

import (
	"golang.org/x/exp/rand"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/analysis"
	"github.com/sukhreens/DataAssimilationBenchmarks/ensemble"
	"github.com/sukhreens/DataAssimilationBenchmarks/method"
	"github.com/sukhreens/DataAssimilationBenchmarks/obsop"
	"gonum.org/v1/gonum/mat"
)

// Config carries the recognized options of the assimilation drivers.
type Config struct {
	// Method is the analysis descriptor
	Method method.Method
	// Op is the observation operator
	Op *obsop.Operator
	// Step advances one state column by one integrator step
	Step da.Stepper
	// FSteps is the number of integrator steps per inter-observation
	// interval
	FSteps int
	// StateDim is the dynamical state dimension; ensemble rows beyond
	// it are parameter samples
	StateDim int
	// StateInfl is the multiplicative state inflation
	StateInfl float64
	// ParamInfl is the multiplicative parameter inflation
	ParamInfl float64
	// ParamWlk is the relative scale of the parameter random walk
	ParamWlk float64
	// Rand drives perturbations, rotations and the parameter walk
	Rand *rand.Rand
	// Epsilon, Tol, MaxIter condition the iterative kernels
	Epsilon float64
	Tol     float64
	MaxIter int
}

// Validate reports configuration errors common to all drivers.
func (c *Config) Validate(e *mat.Dense) error {
	rows, nEns := e.Dims()
	if nEns < 2 {
		return da.Configf("ensemble must have at least 2 members, got %d", nEns)
	}
	if c.Op == nil {
		return da.Configf("missing observation operator")
	}
	if c.Step == nil {
		return da.Configf("missing integrator")
	}
	if c.FSteps <= 0 {
		return da.Configf("fsteps must be positive, got %d", c.FSteps)
	}
	if c.StateDim <= 0 || c.StateDim > rows {
		return da.Configf("state dimension %d out of range for system dimension %d", c.StateDim, rows)
	}
	if c.Op.ObsDim > c.StateDim {
		return da.Configf("observation dimension %d exceeds state dimension %d", c.Op.ObsDim, c.StateDim)
	}
	if c.Rand == nil {
		return da.Configf("missing random source")
	}
	return nil
}

// ParamEstimation reports whether the ensemble carries parameter rows.
func (c *Config) ParamEstimation(e *mat.Dense) bool {
	rows, _ := e.Dims()
	return c.StateDim < rows
}

// Options assembles the analysis options for one transform call.
func (c *Config) Options(obsWeight float64) *analysis.Options {
	return &analysis.Options{
		Op:        c.Op,
		Rand:      c.Rand,
		Tol:       c.Tol,
		MaxIter:   c.MaxIter,
		Epsilon:   c.Epsilon,
		ObsWeight: obsWeight,
	}
}

// Propagate advances every ensemble column by fSteps integrator steps
// starting at time t. When parameter estimation is active the trailing
// rows of each column are merged into the vector field before its state
// rows are stepped.
func Propagate(e *mat.Dense, cfg *Config, t float64) {
	rows, nEns := e.Dims()
	stateDim := cfg.StateDim

	ps, hasParams := cfg.Step.(da.ParamStepper)
	state := mat.NewVecDense(stateDim, nil)

	for j := 0; j < nEns; j++ {
		if hasParams && stateDim < rows {
			params := make([]float64, rows-stateDim)
			for i := range params {
				params[i] = e.At(stateDim+i, j)
			}
			ps.SetParams(params)
		}

		for i := 0; i < stateDim; i++ {
			state.SetVec(i, e.At(i, j))
		}
		tc := t
		for s := 0; s < cfg.FSteps; s++ {
			cfg.Step.Step(state, tc)
		}
		for i := 0; i < stateDim; i++ {
			e.Set(i, j, state.AtVec(i))
		}
	}
}

// ParamWalk perturbs the parameter sub-ensemble with a random walk
// whose diffusion is scaled by the current parameter mean magnitude.
func ParamWalk(e *mat.Dense, cfg *Config) {
	if cfg.ParamWlk == 0 {
		return
	}

	rows, nEns := e.Dims()
	for i := cfg.StateDim; i < rows; i++ {
		row := e.RawRowView(i)
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(nEns)

		scale := cfg.ParamWlk * mean
		for j := range row {
			row[j] += scale * cfg.Rand.NormFloat64()
		}
	}
}

// Analyze computes the transform for observation y, updates the
// ensemble in place and applies inflation and the parameter walk. It
// returns the iteration statistics of the analysis.
func Analyze(e *mat.Dense, y mat.Vector, r mat.Symmetric, cfg *Config) (da.Stats, error) {
	tr, stats, err := analysis.Transform(cfg.Method, e, y, r, cfg.Options(1))
	if err != nil {
		return stats, err
	}
	if err := ensemble.Update(e, tr); err != nil {
		return stats, err
	}

	ensemble.InflateState(e, cfg.StateInfl, cfg.StateDim)
	if cfg.ParamEstimation(e) {
		ensemble.InflateParam(e, cfg.ParamInfl, cfg.StateDim)
		ParamWalk(e, cfg)
	}

	return stats, nil
}

// Filter runs one filter analysis cycle: propagate across the
// inter-observation interval, then analyze observation y. It returns
// the iteration statistics of the analysis.
func Filter(e *mat.Dense, y mat.Vector, r mat.Symmetric, cfg *Config) (da.Stats, error) {
	if err := cfg.Validate(e); err != nil {
		return da.Stats{}, err
	}

	Propagate(e, cfg, 0)

	return Analyze(e, y, r, cfg)
}
