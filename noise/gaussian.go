// Package noise provides the Gaussian noise sources used by the twin
// experiments: observation error, observation perturbations for the
// stochastic filter and the initial ensemble draw. Every source is
// seeded explicitly so that a configuration replays bitwise identically.
package noise

import (
	"fmt"

	"golang.org/x/exp/rand"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Gaussian is gaussian noise
type Gaussian struct {
	// dist is a multivariate normal distribution
	dist *distmv.Normal
	// mean is Gaussian mean
	mean []float64
	// cov is Gaussian covariance
	cov mat.Symmetric
}

// NewGaussian creates new Gaussian noise with given mean, covariance and
// random source. It returns error if the distribution fails to be
// created, which happens when cov is not positive-definite.
func NewGaussian(mean []float64, cov mat.Symmetric, rnd *rand.Rand) (*Gaussian, error) {
	if len(mean) != cov.SymmetricDim() {
		return nil, fmt.Errorf("invalid mean length %d for covariance dimension %d", len(mean), cov.SymmetricDim())
	}

	dist, ok := distmv.NewNormal(mean, cov, rnd)
	if !ok {
		return nil, da.Numericf("cholesky", "covariance is not positive-definite")
	}

	return &Gaussian{
		dist: dist,
		mean: mean,
		cov:  cov,
	}, nil
}

// NewZeroMean creates new zero-mean Gaussian noise with covariance cov.
func NewZeroMean(cov mat.Symmetric, rnd *rand.Rand) (*Gaussian, error) {
	return NewGaussian(make([]float64, cov.SymmetricDim()), cov, rnd)
}

// Sample generates a sample from Gaussian noise and returns it.
func (g *Gaussian) Sample() *mat.VecDense {
	r := g.dist.Rand(nil)
	return mat.NewVecDense(len(r), r)
}

// SampleN draws n samples and returns them as the columns of a matrix.
func (g *Gaussian) SampleN(n int) *mat.Dense {
	dim := len(g.mean)
	out := mat.NewDense(dim, n, nil)
	buf := make([]float64, dim)
	for j := 0; j < n; j++ {
		g.dist.Rand(buf)
		for i := 0; i < dim; i++ {
			out.Set(i, j, buf[i])
		}
	}
	return out
}

// Cov returns covariance matrix of Gaussian noise.
func (g *Gaussian) Cov() mat.Symmetric {
	return g.cov
}

// Mean returns Gaussian mean.
func (g *Gaussian) Mean() []float64 {
	return g.mean
}

// String implements the Stringer interface.
func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian{\nMean=%v\nCov=%v\n}", g.mean, mat.Formatted(g.cov, mat.Prefix("    "), mat.Squeeze()))
}
