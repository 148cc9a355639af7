package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
)

func TestGaussianSample(t *testing.T) {
	assert := assert.New(t)

	cov := mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25})
	g, err := NewGaussian([]float64{1.0, -1.0}, cov, rand.New(rand.NewSource(1)))
	assert.NoError(err)

	s := g.Sample()
	assert.Equal(2, s.Len())

	m := g.SampleN(5)
	r, c := m.Dims()
	assert.Equal(2, r)
	assert.Equal(5, c)
}

func TestGaussianInvalid(t *testing.T) {
	assert := assert.New(t)

	cov := mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25})
	_, err := NewGaussian([]float64{1.0}, cov, rand.New(rand.NewSource(1)))
	assert.Error(err)

	// indefinite covariance
	bad := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	_, err = NewGaussian([]float64{0, 0}, bad, rand.New(rand.NewSource(1)))
	assert.Error(err)
}

func TestGaussianReproducible(t *testing.T) {
	assert := assert.New(t)

	cov := matutil.NewUniform(1.0, 3)

	g1, err := NewZeroMean(cov, rand.New(rand.NewSource(42)))
	assert.NoError(err)
	g2, err := NewZeroMean(cov, rand.New(rand.NewSource(42)))
	assert.NoError(err)

	s1 := g1.Sample()
	s2 := g2.Sample()
	for i := 0; i < 3; i++ {
		assert.Equal(s1.AtVec(i), s2.AtVec(i))
	}
}

func TestEnsembleDraw(t *testing.T) {
	assert := assert.New(t)
	rnd := rand.New(rand.NewSource(11))

	mean := mat.NewVecDense(4, []float64{1, 2, 3, 4})
	cov := matutil.NewUniform(1e-12, 4)

	e, err := EnsembleDraw(mean, cov, 200, rnd)
	assert.NoError(err)

	r, c := e.Dims()
	assert.Equal(4, r)
	assert.Equal(200, c)

	// vanishing covariance: every member sits at the mean
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			assert.InDelta(mean.AtVec(i), e.At(i, j), 1e-5)
		}
	}
}

func TestEnsembleDrawTooFew(t *testing.T) {
	assert := assert.New(t)
	rnd := rand.New(rand.NewSource(11))

	_, err := EnsembleDraw(mat.NewVecDense(2, nil), matutil.NewUniform(1, 2), 1, rnd)
	assert.Error(err)
}
