// Package da defines the core vocabulary shared by the analysis kernels
// and the assimilation drivers: the ensemble transform produced by an
// analysis, the integrator contract the drivers propagate with, and the
// error taxonomy.
package da

import "gonum.org/v1/gonum/mat"

// Transform is the right-acting update produced by an analysis kernel.
// Exactly one of the two representations is populated:
//   - Gamma: a single N_ens x N_ens right-multiplier (stochastic EnKF).
//   - T, W, U: a symmetric anomaly transform, mean-update weights and a
//     mean-preserving random orthogonal rotation (deterministic kernels).
type Transform struct {
	// Gamma is the stochastic right-transform, nil for deterministic kernels
	Gamma *mat.Dense
	// T is the symmetric right-transform applied to the anomalies
	T *mat.Dense
	// W is the weight vector applied to the mean
	W *mat.VecDense
	// U is a mean-preserving random orthogonal rotation
	U *mat.Dense
}

// Deterministic reports whether the transform is of the (T, w, U) kind.
func (t *Transform) Deterministic() bool {
	return t.Gamma == nil
}

// Stepper advances a single state column by one integrator step.
type Stepper interface {
	// Step advances x in place from time t by the stepper's step size
	Step(x *mat.VecDense, t float64)
}

// ParamStepper is a Stepper whose vector field depends on model
// parameters estimated alongside the state. The driver sets the
// parameter values read from the trailing ensemble rows before stepping
// each column.
type ParamStepper interface {
	Stepper
	// SetParams updates the vector-field parameters for subsequent steps
	SetParams(p []float64)
}

// Stats reports the work done by an iterative analysis.
type Stats struct {
	// Iterations is the total inner-iteration count across the cycle
	Iterations int
	// HitCap reports that the optimizer stopped on its iteration cap
	// rather than the tolerance
	HitCap bool
}
