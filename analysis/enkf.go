package analysis

import (
	"math"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
	"github.com/sukhreens/DataAssimilationBenchmarks/noise"
	"gonum.org/v1/gonum/mat"
)

// enkf computes the stochastic (perturbed-observation) EnKF transform:
// a single right-multiplier Gamma built from the ensemble-space Kalman
// update with unbiased observation perturbations.
func enkf(e *mat.Dense, y mat.Vector, r mat.Symmetric, opts *Options) (*da.Transform, error) {
	_, nEns := e.Dims()
	p := y.Len()

	pertNoise, err := noise.NewZeroMean(r, opts.Rand)
	if err != nil {
		return nil, err
	}
	perts := pertNoise.SampleN(nEns)

	// recenter so the perturbations carry no spurious mean shift
	for i := 0; i < p; i++ {
		row := perts.RawRowView(i)
		var sum float64
		for _, v := range row {
			sum += v
		}
		m := sum / float64(nEns)
		for j := range row {
			row[j] -= m
		}
	}

	yEns := opts.Op.Observe(e)

	// normalized observed anomalies
	s := mat.NewDense(p, nEns, nil)
	scale := 1.0 / math.Sqrt(float64(nEns-1))
	for i := 0; i < p; i++ {
		var sum float64
		for j := 0; j < nEns; j++ {
			sum += yEns.At(i, j)
		}
		m := sum / float64(nEns)
		for j := 0; j < nEns; j++ {
			s.Set(i, j, scale*(yEns.At(i, j)-m))
		}
	}

	// C = S S^T + R
	c := mat.NewDense(p, p, nil)
	c.Mul(s, s.T())
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			c.Set(i, j, c.At(i, j)+r.At(i, j))
		}
	}

	// innovations y + perts - Y
	innov := mat.NewDense(p, nEns, nil)
	for i := 0; i < p; i++ {
		yi := y.AtVec(i)
		for j := 0; j < nEns; j++ {
			innov.Set(i, j, yi+perts.At(i, j)-yEns.At(i, j))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(matutil.SymFromDense(c)); !ok {
		return nil, da.Numericf("cholesky", "innovation covariance is not positive-definite")
	}
	var solved mat.Dense
	if err := chol.SolveTo(&solved, innov); err != nil {
		return nil, da.Numericf("cholesky", "innovation solve failed: %v", err)
	}

	gamma := mat.NewDense(nEns, nEns, nil)
	gamma.Mul(s.T(), &solved)
	gamma.Scale(scale, gamma)
	for i := 0; i < nEns; i++ {
		gamma.Set(i, i, gamma.At(i, i)+1.0)
	}

	return &da.Transform{Gamma: gamma}, nil
}
