package noise

import (
	"math"

	"golang.org/x/exp/rand"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"gonum.org/v1/gonum/mat"
)

// EnsembleDraw draws n random samples from a Normal distribution with
// the given mean and covariance cov and returns them stored in the
// columns of a sysDim x n matrix. The covariance square root is taken
// through an SVD rather than a Cholesky factorization, which can be
// numerically unstable if cov is (almost) singular. It returns a
// NumericError if the SVD fails.
func EnsembleDraw(mean mat.Vector, cov mat.Symmetric, n int, rnd *rand.Rand) (*mat.Dense, error) {
	if n < 2 {
		return nil, da.Configf("ensemble must have at least 2 members, got %d", n)
	}

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return nil, da.Numericf("svd", "factorization of the initial covariance failed")
	}

	var u mat.Dense
	svd.UTo(&u)
	vals := svd.Values(nil)
	for i := range vals {
		vals[i] = math.Sqrt(vals[i])
	}
	u.Mul(&u, mat.NewDiagDense(len(vals), vals))

	rows := mean.Len()
	data := make([]float64, rows*n)
	for i := range data {
		data[i] = rnd.NormFloat64()
	}
	samples := mat.NewDense(rows, n, data)
	samples.Mul(&u, samples)

	for j := 0; j < n; j++ {
		for i := 0; i < rows; i++ {
			samples.Set(i, j, samples.At(i, j)+mean.AtVec(i))
		}
	}

	return samples, nil
}
