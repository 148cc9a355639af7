package analysis

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/ensemble"
	"github.com/sukhreens/DataAssimilationBenchmarks/kalman"
	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
	"github.com/sukhreens/DataAssimilationBenchmarks/method"
	"github.com/sukhreens/DataAssimilationBenchmarks/obsop"
)

var (
	sysDim = 6
	obsDim = 4
	nEns   = 15
	linOp  *obsop.Operator
)

func setup() {
	linOp, _ = obsop.New(sysDim, obsDim, 1.0)
}

func TestMain(m *testing.M) {
	setup()
	os.Exit(m.Run())
}

func testEnsemble(rows, cols int, seed uint64) *mat.Dense {
	rnd := rand.New(rand.NewSource(seed))
	e := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			e.Set(i, j, 2.0*rnd.NormFloat64()+float64(i))
		}
	}
	return e
}

func testOptions(seed uint64) *Options {
	return &Options{
		Op:   linOp,
		Rand: rand.New(rand.NewSource(seed)),
	}
}

// selection returns the dense observation matrix of the linear
// alternating operator.
func selection(stateDim, obsDim int) *mat.Dense {
	idx, _ := obsop.Indices(stateDim, obsDim)
	h := mat.NewDense(obsDim, stateDim, nil)
	for i, row := range idx {
		h.Set(i, row, 1.0)
	}
	return h
}

func posteriorMean(t *testing.T, m method.Method, e *mat.Dense, y mat.Vector, r mat.Symmetric, opts *Options) *mat.VecDense {
	t.Helper()

	work := mat.NewDense(sysDim, nEns, nil)
	work.Copy(e)

	tr, _, err := Transform(m, work, y, r, opts)
	assert.NoError(t, err)
	assert.NoError(t, ensemble.Update(work, tr))

	return ensemble.Mean(work)
}

func TestETKFMatchesKalmanClosedForm(t *testing.T) {
	assert := assert.New(t)

	e := testEnsemble(sysDim, nEns, 1)
	y := mat.NewVecDense(obsDim, []float64{1.2, -0.4, 2.5, 0.3})
	r := matutil.NewUniform(0.5, obsDim)

	got := posteriorMean(t, method.Method{Family: method.ETKF}, e, y, r, testOptions(2))

	// closed-form Kalman update with the ensemble sample covariance
	mean, x := ensemble.Anomalies(e)
	var cov mat.Dense
	cov.Mul(x, x.T())
	p := matutil.SymFromDense(&cov)

	h := selection(sysDim, obsDim)
	rs := mat.NewSymDense(obsDim, nil)
	for i := 0; i < obsDim; i++ {
		rs.SetSym(i, i, 0.5)
	}
	want, _, err := kalman.Update(mean, p, h, rs, y)
	assert.NoError(err)

	for i := 0; i < sysDim; i++ {
		assert.InDelta(want.AtVec(i), got.AtVec(i), 1e-9)
	}
}

func TestETKFIdentityAnalysisIsIdempotent(t *testing.T) {
	assert := assert.New(t)

	e := testEnsemble(sysDim, nEns, 3)
	mean := ensemble.Mean(e)

	// observing the prior mean with a sharp instrument must not move it
	y := linOp.ObserveVec(mean)
	r := matutil.NewUniform(1e-10, obsDim)

	got := posteriorMean(t, method.Method{Family: method.ETKF}, e, y, r, testOptions(4))
	for i := 0; i < sysDim; i++ {
		assert.InDelta(mean.AtVec(i), got.AtVec(i), 1e-6)
	}
}

func TestETKFDeterministicPerSeed(t *testing.T) {
	assert := assert.New(t)

	e := testEnsemble(sysDim, nEns, 5)
	y := mat.NewVecDense(obsDim, []float64{1, 2, 3, 4})
	r := matutil.NewUniform(1.0, obsDim)

	m1 := posteriorMean(t, method.Method{Family: method.ETKF}, e, y, r, testOptions(9))
	m2 := posteriorMean(t, method.Method{Family: method.ETKF}, e, y, r, testOptions(9))
	for i := 0; i < sysDim; i++ {
		assert.Equal(m1.AtVec(i), m2.AtVec(i))
	}
}

func TestEnKFPullsTowardObservation(t *testing.T) {
	assert := assert.New(t)

	big := 400
	e := testEnsemble(sysDim, big, 6)

	y := linOp.ObserveVec(ensemble.Mean(e))
	y.AddScaledVec(y, 1.0, mat.NewVecDense(obsDim, []float64{2, 2, 2, 2}))
	r := matutil.NewUniform(1e-4, obsDim)

	opts := &Options{Op: linOp, Rand: rand.New(rand.NewSource(7))}

	work := mat.NewDense(sysDim, big, nil)
	work.Copy(e)
	tr, _, err := Transform(method.Method{Family: method.EnKF}, work, y, r, opts)
	assert.NoError(err)
	assert.False(tr.Deterministic())
	assert.NoError(ensemble.Update(work, tr))

	// with a sharp instrument the observed components collapse onto y
	yPost := linOp.Observe(work)
	for i := 0; i < obsDim; i++ {
		var sum float64
		for j := 0; j < big; j++ {
			sum += yPost.At(i, j)
		}
		assert.InDelta(y.AtVec(i), sum/float64(big), 0.05)
	}
}

func TestMLEFLinearMatchesETKF(t *testing.T) {
	assert := assert.New(t)

	e := testEnsemble(sysDim, nEns, 8)
	y := mat.NewVecDense(obsDim, []float64{0.5, -1.0, 1.5, 2.0})
	r := matutil.NewUniform(0.8, obsDim)

	want := posteriorMean(t, method.Method{Family: method.ETKF}, e, y, r, testOptions(10))

	for _, m := range []method.Method{
		{Family: method.MLEF, Conditioning: method.Bundle},
		{Family: method.MLEF, Conditioning: method.Transform},
		{Family: method.MLEF, Conditioning: method.Bundle, LineSearch: true},
	} {
		got := posteriorMean(t, m, e, y, r, testOptions(10))
		for i := 0; i < sysDim; i++ {
			assert.InDelta(want.AtVec(i), got.AtVec(i), 1e-5, "method %v", m)
		}
	}
}

func TestMLEFNonlinearConverges(t *testing.T) {
	assert := assert.New(t)

	op, err := obsop.New(sysDim, obsDim, 3.0)
	assert.NoError(err)

	e := testEnsemble(sysDim, nEns, 12)
	y := op.ObserveVec(ensemble.Mean(e))
	r := matutil.NewUniform(1.0, obsDim)

	for _, m := range []method.Method{
		{Family: method.MLEF, Conditioning: method.Transform},
		{Family: method.MLEF, Conditioning: method.Transform, LineSearch: true},
		{Family: method.MLEF, Conditioning: method.Bundle, FiniteSize: true},
	} {
		opts := &Options{Op: op, Rand: rand.New(rand.NewSource(13))}
		work := mat.NewDense(sysDim, nEns, nil)
		work.Copy(e)

		tr, stats, err := Transform(m, work, y, r, opts)
		assert.NoError(err, "method %v", m)
		assert.True(tr.Deterministic())
		assert.False(stats.HitCap, "method %v", m)
		assert.LessOrEqual(stats.Iterations, 10, "method %v", m)
	}
}

func TestEnKFNDualMatchesPrimal(t *testing.T) {
	assert := assert.New(t)

	e := testEnsemble(sysDim, nEns, 14)
	y := mat.NewVecDense(obsDim, []float64{2.0, 0.5, -0.5, 1.0})
	r := matutil.NewUniform(1.0, obsDim)

	dual := posteriorMean(t, method.Method{Family: method.EnKFNDual, FiniteSize: true}, e, y, r, testOptions(15))
	primal := posteriorMean(t, method.Method{Family: method.EnKFNPrimal, FiniteSize: true}, e, y, r, testOptions(15))

	for i := 0; i < sysDim; i++ {
		assert.InDelta(dual.AtVec(i), primal.AtVec(i), 1e-3)
	}

	for i := 0; i < sysDim; i++ {
		assert.False(math.IsNaN(dual.AtVec(i)))
	}
}

func TestEnKFNPrimalLineSearch(t *testing.T) {
	assert := assert.New(t)

	e := testEnsemble(sysDim, nEns, 16)
	y := mat.NewVecDense(obsDim, []float64{2.0, 0.5, -0.5, 1.0})
	r := matutil.NewUniform(1.0, obsDim)

	plain := posteriorMean(t, method.Method{Family: method.EnKFNPrimal, FiniteSize: true}, e, y, r, testOptions(17))
	ls := posteriorMean(t, method.Method{Family: method.EnKFNPrimal, FiniteSize: true, LineSearch: true}, e, y, r, testOptions(17))

	for i := 0; i < sysDim; i++ {
		assert.InDelta(plain.AtVec(i), ls.AtVec(i), 1e-4)
	}
}

func TestKernelsHandleTwoMembers(t *testing.T) {
	assert := assert.New(t)

	op, err := obsop.New(4, 2, 1.0)
	assert.NoError(err)

	e := testEnsemble(4, 2, 18)
	y := mat.NewVecDense(2, []float64{0.5, -0.5})
	r := matutil.NewUniform(1.0, 2)

	for _, m := range []method.Method{
		{Family: method.EnKF},
		{Family: method.ETKF},
		{Family: method.MLEF, Conditioning: method.Bundle},
		{Family: method.MLEF, Conditioning: method.Transform, FiniteSize: true},
		{Family: method.EnKFNDual, FiniteSize: true},
		{Family: method.EnKFNPrimal, FiniteSize: true},
	} {
		opts := &Options{Op: op, Rand: rand.New(rand.NewSource(19))}
		work := mat.NewDense(4, 2, nil)
		work.Copy(e)

		tr, _, err := Transform(m, work, y, r, opts)
		assert.NoError(err, "method %v", m)
		assert.NoError(ensemble.Update(work, tr), "method %v", m)
		for i := 0; i < 4; i++ {
			for j := 0; j < 2; j++ {
				assert.False(math.IsNaN(work.At(i, j)), "method %v", m)
			}
		}
	}
}

func TestTransformRejectsInvalid(t *testing.T) {
	assert := assert.New(t)

	e := testEnsemble(sysDim, nEns, 20)
	y := mat.NewVecDense(obsDim, nil)
	r := matutil.NewUniform(1.0, obsDim)

	// single member
	_, _, err := Transform(method.Method{Family: method.ETKF}, mat.NewDense(sysDim, 1, nil), y, r, testOptions(21))
	var cerr *da.ConfigError
	assert.ErrorAs(err, &cerr)

	// observation length mismatch
	_, _, err = Transform(method.Method{Family: method.ETKF}, e, mat.NewVecDense(obsDim+1, nil), r, testOptions(21))
	assert.ErrorAs(err, &cerr)

	// ienks must be driven by the smoother
	_, _, err = Transform(method.Method{Family: method.IEnKS}, e, y, r, testOptions(21))
	assert.ErrorAs(err, &cerr)

	// missing rand source
	_, _, err = Transform(method.Method{Family: method.ETKF}, e, y, r, &Options{Op: linOp})
	assert.ErrorAs(err, &cerr)
}

func TestSequentialIncrementShapes(t *testing.T) {
	assert := assert.New(t)

	e := testEnsemble(sysDim, nEns, 22)
	y := mat.NewVecDense(obsDim, []float64{1, 2, 3, 4})
	r := matutil.NewUniform(1.0, obsDim)

	tinv := mat.NewDense(nEns, nEns, nil)
	for i := 0; i < nEns; i++ {
		tinv.Set(i, i, 1.0)
	}

	inc, err := SequentialIncrement(linOp, e, y, r, tinv, 1.0)
	assert.NoError(err)
	assert.Equal(nEns, inc.Grad.Len())
	hr, hc := inc.Hess.Dims()
	assert.Equal(nEns, hr)
	assert.Equal(nEns, hc)

	// doubling the covariance weight halves the information
	inc2, err := SequentialIncrement(linOp, e, y, r, tinv, 2.0)
	assert.NoError(err)
	assert.InDelta(inc.Hess.At(0, 0)/2.0, inc2.Hess.At(0, 0), 1e-10)
}

func TestBrentQuadratic(t *testing.T) {
	assert := assert.New(t)

	x, err := brentMin(func(x float64) float64 { return (x - 1.3) * (x - 1.3) }, 0, 4, 1e-10)
	assert.NoError(err)
	assert.InDelta(1.3, x, 1e-6)
}

func TestWolfeQuadratic(t *testing.T) {
	assert := assert.New(t)

	phi := func(alpha float64) (float64, float64) {
		d := alpha - 1.0
		return d * d, 2 * d
	}
	step, err := wolfeSearch(phi, 1.0)
	assert.NoError(err)
	assert.InDelta(1.0, step, 1e-6)
}

func TestWolfeRejectsAscent(t *testing.T) {
	assert := assert.New(t)

	phi := func(alpha float64) (float64, float64) {
		return alpha, 1.0
	}
	_, err := wolfeSearch(phi, 1.0)
	var nerr *da.NumericError
	assert.ErrorAs(err, &nerr)
}
