// Package kalman implements the closed-form linear Kalman update. The
// ensemble methods reduce to it for linear observation operators and
// Gaussian statistics, which makes it the reference the transform
// engine is tested against.
package kalman

import (
	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"gonum.org/v1/gonum/mat"
)

// Update corrects the state x with covariance p using the measurement
// ym observed through h with error covariance r. It returns the
// corrected state and its covariance in Joseph form.
func Update(x mat.Vector, p mat.Symmetric, h mat.Matrix, r mat.Symmetric, ym mat.Vector) (*mat.VecDense, *mat.SymDense, error) {
	nx := x.Len()
	ny := ym.Len()

	hr, hc := h.Dims()
	if hr != ny || hc != nx {
		return nil, nil, da.Configf("invalid observation matrix dimensions: [%d x %d]", hr, hc)
	}

	// P*H'
	pxy := mat.NewDense(nx, ny, nil)
	pxy.Mul(p, h.T())

	// H*P*H' + R
	pyy := mat.NewDense(ny, ny, nil)
	pyy.Mul(h, pxy)
	pyy.Add(pyy, r)

	// calculate Kalman gain
	pyyInv := &mat.Dense{}
	if err := pyyInv.Inverse(pyy); err != nil {
		return nil, nil, da.Numericf("inverse", "innovation covariance inverse failed: %v", err)
	}
	gain := &mat.Dense{}
	gain.Mul(pxy, pyyInv)

	// innovation vector
	inn := mat.NewVecDense(ny, nil)
	yPred := mat.NewVecDense(ny, nil)
	yPred.MulVec(h, x)
	inn.SubVec(ym, yPred)

	// corrected state
	corr := mat.NewVecDense(nx, nil)
	corr.MulVec(gain, inn)
	xa := mat.NewVecDense(nx, nil)
	xa.AddVec(x, corr)

	// Joseph form update: (I - K*H) P (I - K*H)' + K*R*K'
	eye := mat.NewDense(nx, nx, nil)
	for i := 0; i < nx; i++ {
		eye.Set(i, i, 1.0)
	}
	a := &mat.Dense{}
	a.Mul(gain, h)
	a.Sub(eye, a)

	ap := &mat.Dense{}
	ap.Mul(a, p)
	apa := &mat.Dense{}
	apa.Mul(ap, a.T())

	kr := &mat.Dense{}
	kr.Mul(gain, r)
	krk := &mat.Dense{}
	krk.Mul(kr, gain.T())
	apa.Add(apa, krk)

	pa := mat.NewSymDense(nx, nil)
	for i := 0; i < nx; i++ {
		for j := i; j < nx; j++ {
			pa.SetSym(i, j, 0.5*(apa.At(i, j)+apa.At(j, i)))
		}
	}

	return xa, pa, nil
}
