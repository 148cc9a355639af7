// Package obsop implements the alternating observation operator used by
// the twin experiments: a deterministic row selection mapping the state
// ensemble to observation space, composed with a scalar-gamma family of
// componentwise nonlinearities.
package obsop

import (
	"math"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"gonum.org/v1/gonum/mat"
)

// Indices returns the 0-based state rows retained when observing obsDim
// components of a stateDim-dimensional state. It returns a ConfigError
// if obsDim is outside [1, stateDim].
func Indices(stateDim, obsDim int) ([]int, error) {
	if obsDim <= 0 || obsDim > stateDim {
		return nil, da.Configf("invalid observation dimension %d for state dimension %d", obsDim, stateDim)
	}

	switch {
	case obsDim == stateDim:
		idx := make([]int, stateDim)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil

	case float64(obsDim)/float64(stateDim) > 0.5:
		// keep the leading block, then every second row of the remainder
		r := stateDim - obsDim
		idx := make([]int, 0, obsDim)
		for i := 0; i < stateDim-2*r; i++ {
			idx = append(idx, i)
		}
		for i := stateDim - 2*r + 1; i < stateDim; i += 2 {
			idx = append(idx, i)
		}
		return idx, nil

	default:
		// odd rows (1-based), truncated to obsDim when sparser than half
		idx := make([]int, 0, obsDim)
		for i := 0; len(idx) < obsDim; i += 2 {
			idx = append(idx, i)
		}
		return idx, nil
	}
}

// gammaMap returns the componentwise observation nonlinearity for gamma.
func gammaMap(gamma float64) func(float64) float64 {
	switch {
	case gamma == 1.0:
		return func(x float64) float64 { return x }
	case gamma > 1.0:
		return func(x float64) float64 {
			return (x / 2.0) * (1.0 + math.Pow(math.Abs(x/10.0), gamma-1.0))
		}
	case gamma == 0.0:
		return func(x float64) float64 { return 0.05 * x * x }
	default:
		return func(x float64) float64 { return x * math.Exp(-gamma*x) }
	}
}

// Operator is the alternating observation operator.
type Operator struct {
	// StateDim is the dynamical state dimension; ensemble rows beyond it
	// hold parameter samples and are never observed
	StateDim int
	// ObsDim is the observed dimension, at most StateDim
	ObsDim int
	// Gamma selects the componentwise nonlinearity
	Gamma float64

	idx []int
	fn  func(float64) float64
}

// New returns an Operator observing obsDim of stateDim components with
// nonlinearity gamma. It returns a ConfigError for invalid dimensions.
func New(stateDim, obsDim int, gamma float64) (*Operator, error) {
	idx, err := Indices(stateDim, obsDim)
	if err != nil {
		return nil, err
	}

	return &Operator{
		StateDim: stateDim,
		ObsDim:   obsDim,
		Gamma:    gamma,
		idx:      idx,
		fn:       gammaMap(gamma),
	}, nil
}

// Observe maps the ensemble ens (sysDim x nEns, parameter rows allowed)
// to the obsDim x nEns observed ensemble. The operator is pure: ens is
// not modified.
func (op *Operator) Observe(ens *mat.Dense) *mat.Dense {
	_, nEns := ens.Dims()
	y := mat.NewDense(op.ObsDim, nEns, nil)

	for i, row := range op.idx {
		for j := 0; j < nEns; j++ {
			y.Set(i, j, op.fn(ens.At(row, j)))
		}
	}

	return y
}

// ObserveVec maps a single state column to observation space.
func (op *Operator) ObserveVec(x mat.Vector) *mat.VecDense {
	y := mat.NewVecDense(op.ObsDim, nil)
	for i, row := range op.idx {
		y.SetVec(i, op.fn(x.AtVec(row)))
	}

	return y
}
