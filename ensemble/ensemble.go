// Package ensemble implements operations on the ensemble matrix: column
// statistics, the right-transform update, multiplicative inflation and
// the RMSE/spread diagnostics.
//
// An ensemble is a sysDim x nEns dense matrix whose columns are the
// members. Rows beyond stateDim hold appended parameter samples when
// parameter estimation is active.
package ensemble

import (
	"math"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Mean returns the row-wise mean of the ensemble columns.
func Mean(e *mat.Dense) *mat.VecDense {
	rows, cols := e.Dims()
	m := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		m.SetVec(i, floats.Sum(e.RawRowView(i))/float64(cols))
	}
	return m
}

// Anomalies returns the ensemble mean together with the normalized
// anomaly matrix X = (E - mean 1^T) / sqrt(nEns - 1).
func Anomalies(e *mat.Dense) (*mat.VecDense, *mat.Dense) {
	rows, cols := e.Dims()
	mean := Mean(e)
	x := mat.NewDense(rows, cols, nil)
	scale := 1.0 / math.Sqrt(float64(cols-1))
	for i := 0; i < rows; i++ {
		mi := mean.AtVec(i)
		for j := 0; j < cols; j++ {
			x.Set(i, j, scale*(e.At(i, j)-mi))
		}
	}
	return mean, x
}

// Update applies a transform to the ensemble in place.
//
// For a stochastic transform Gamma the ensemble is right-multiplied:
// E <- E * Gamma. For a deterministic triple (T, w, U) the update is
//
//	E <- mean 1^T + X * (w 1^T + sqrt(nEns-1) * T * U)
//
// with X the raw anomalies E - mean 1^T, so the posterior mean is the
// prior mean shifted by X*w and the posterior anomalies are
// sqrt(nEns-1) * X * T rotated by the mean-preserving U.
func Update(e *mat.Dense, tr *da.Transform) error {
	rows, cols := e.Dims()

	if !tr.Deterministic() {
		gr, gc := tr.Gamma.Dims()
		if gr != cols || gc != cols {
			return da.Configf("transform dimension [%d x %d] does not match ensemble size %d", gr, gc, cols)
		}
		var out mat.Dense
		out.Mul(e, tr.Gamma)
		e.Copy(&out)
		return nil
	}

	if tr.W.Len() != cols {
		return da.Configf("weight dimension %d does not match ensemble size %d", tr.W.Len(), cols)
	}

	mean := Mean(e)
	x := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		mi := mean.AtVec(i)
		for j := 0; j < cols; j++ {
			x.Set(i, j, e.At(i, j)-mi)
		}
	}

	// w 1^T + sqrt(nEns-1) * T * U
	m := mat.NewDense(cols, cols, nil)
	m.Mul(tr.T, tr.U)
	m.Scale(math.Sqrt(float64(cols-1)), m)
	for i := 0; i < cols; i++ {
		wi := tr.W.AtVec(i)
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)+wi)
		}
	}

	var out mat.Dense
	out.Mul(x, m)
	for i := 0; i < rows; i++ {
		mi := mean.AtVec(i)
		for j := 0; j < cols; j++ {
			e.Set(i, j, mi+out.At(i, j))
		}
	}

	return nil
}

// inflate multiplies the anomalies of rows [lo, hi) by alpha, keeping
// the mean.
func inflate(e *mat.Dense, alpha float64, lo, hi int) {
	if alpha == 1.0 {
		return
	}

	_, cols := e.Dims()
	for i := lo; i < hi; i++ {
		row := e.RawRowView(i)
		m := floats.Sum(row) / float64(cols)
		for j := range row {
			row[j] = m + alpha*(row[j]-m)
		}
	}
}

// InflateState applies multiplicative inflation to the state rows
// [0, stateDim). It is a no-op when alpha is 1.
func InflateState(e *mat.Dense, alpha float64, stateDim int) {
	inflate(e, alpha, 0, stateDim)
}

// InflateParam applies multiplicative inflation to the parameter rows
// [stateDim, sysDim). It is a no-op when alpha is 1.
func InflateParam(e *mat.Dense, alpha float64, stateDim int) {
	rows, _ := e.Dims()
	inflate(e, alpha, stateDim, rows)
}

// RMSD returns the root-mean-square deviation between the ensemble mean
// and truth over rows [lo, hi), together with the ensemble spread, the
// root of the mean sample variance over the same rows.
func RMSD(e *mat.Dense, truth mat.Vector, lo, hi int) (rmse, spread float64) {
	_, cols := e.Dims()

	var se, sv float64
	for i := lo; i < hi; i++ {
		row := e.RawRowView(i)
		m := floats.Sum(row) / float64(cols)

		d := m - truth.AtVec(i)
		se += d * d

		var v float64
		for _, x := range row {
			v += (x - m) * (x - m)
		}
		sv += v / float64(cols-1)
	}

	n := float64(hi - lo)
	return math.Sqrt(se / n), math.Sqrt(sv / n)
}
