package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
	"gonum.org/v1/gonum/mat"
)

func randomEnsemble(rows, cols int, rnd *rand.Rand) *mat.Dense {
	e := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			e.Set(i, j, rnd.NormFloat64())
		}
	}
	return e
}

func TestMeanAndAnomalies(t *testing.T) {
	assert := assert.New(t)

	e := mat.NewDense(2, 3, []float64{
		1, 2, 3,
		4, 5, 6,
	})

	m := Mean(e)
	assert.InDelta(2.0, m.AtVec(0), 1e-14)
	assert.InDelta(5.0, m.AtVec(1), 1e-14)

	_, x := Anomalies(e)
	// rows of X sum to zero
	for i := 0; i < 2; i++ {
		var sum float64
		for j := 0; j < 3; j++ {
			sum += x.At(i, j)
		}
		assert.InDelta(0.0, sum, 1e-14)
	}
	// X X^T recovers the sample covariance
	var cov mat.Dense
	cov.Mul(x, x.T())
	assert.InDelta(1.0, cov.At(0, 0), 1e-14)
}

func TestUpdateMeanShift(t *testing.T) {
	assert := assert.New(t)
	rnd := rand.New(rand.NewSource(3))

	nEns := 7
	e := randomEnsemble(4, nEns, rnd)

	meanPre := Mean(e)
	xRaw := mat.NewDense(4, nEns, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < nEns; j++ {
			xRaw.Set(i, j, e.At(i, j)-meanPre.AtVec(i))
		}
	}

	w := mat.NewVecDense(nEns, nil)
	for i := 0; i < nEns; i++ {
		w.SetVec(i, 0.1*rnd.NormFloat64())
	}

	// T with ones as an eigenvector keeps the triple mean-consistent
	tm := mat.NewDense(nEns, nEns, nil)
	for i := 0; i < nEns; i++ {
		tm.Set(i, i, 1.0/math.Sqrt(float64(nEns-1)))
	}
	u, err := matutil.RandOrthogonal(nEns, rnd)
	assert.NoError(err)

	err = Update(e, &da.Transform{T: tm, W: w, U: u})
	assert.NoError(err)

	// posterior mean = prior mean + X w
	shift := mat.NewVecDense(4, nil)
	shift.MulVec(xRaw, w)
	meanPost := Mean(e)
	for i := 0; i < 4; i++ {
		assert.InDelta(meanPre.AtVec(i)+shift.AtVec(i), meanPost.AtVec(i), 1e-12)
	}
}

func TestUpdateGamma(t *testing.T) {
	assert := assert.New(t)

	e := mat.NewDense(2, 2, []float64{
		1, 2,
		3, 4,
	})
	gamma := mat.NewDense(2, 2, []float64{
		0, 1,
		1, 0,
	})

	err := Update(e, &da.Transform{Gamma: gamma})
	assert.NoError(err)
	assert.Equal(2.0, e.At(0, 0))
	assert.Equal(3.0, e.At(1, 1))
}

func TestUpdateDimensionMismatch(t *testing.T) {
	assert := assert.New(t)

	e := mat.NewDense(2, 3, nil)
	err := Update(e, &da.Transform{Gamma: mat.NewDense(2, 2, nil)})
	assert.Error(err)
}

func TestInflateStateNoOp(t *testing.T) {
	assert := assert.New(t)
	rnd := rand.New(rand.NewSource(5))

	e := randomEnsemble(6, 4, rnd)
	want := mat.NewDense(6, 4, nil)
	want.Copy(e)

	InflateState(e, 1.0, 6)
	// bit-identical at alpha = 1
	assert.Equal(want.RawMatrix().Data, e.RawMatrix().Data)
}

func TestInflatePreservesMean(t *testing.T) {
	assert := assert.New(t)
	rnd := rand.New(rand.NewSource(6))

	e := randomEnsemble(6, 9, rnd)
	meanPre := Mean(e)

	InflateState(e, 1.5, 6)
	meanPost := Mean(e)
	for i := 0; i < 6; i++ {
		assert.InDelta(meanPre.AtVec(i), meanPost.AtVec(i), 1e-12)
	}
}

func TestInflateParamRowsOnly(t *testing.T) {
	assert := assert.New(t)
	rnd := rand.New(rand.NewSource(8))

	e := randomEnsemble(5, 9, rnd)
	want := mat.NewDense(5, 9, nil)
	want.Copy(e)

	InflateParam(e, 2.0, 4)
	// state rows untouched
	for i := 0; i < 4; i++ {
		for j := 0; j < 9; j++ {
			assert.Equal(want.At(i, j), e.At(i, j))
		}
	}
	// parameter row spread doubled
	_, spreadPre := RMSD(want, Mean(want), 4, 5)
	_, spreadPost := RMSD(e, Mean(e), 4, 5)
	assert.InDelta(2.0*spreadPre, spreadPost, 1e-10)
}

func TestRMSD(t *testing.T) {
	assert := assert.New(t)

	e := mat.NewDense(2, 2, []float64{
		1, 3,
		2, 2,
	})
	truth := mat.NewVecDense(2, []float64{1, 2})

	rmse, spread := RMSD(e, truth, 0, 2)
	// mean is (2, 2): error (1, 0)
	assert.InDelta(math.Sqrt(0.5), rmse, 1e-14)
	// row variances 2 and 0
	assert.InDelta(1.0, spread, 1e-14)
}
