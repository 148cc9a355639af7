package analysis

import (
	"math"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
	"github.com/sukhreens/DataAssimilationBenchmarks/method"
	"gonum.org/v1/gonum/mat"
)

// enkfnDual computes the finite-size EnKF analysis by minimizing the
// scalar dual cost in the inflation factor zeta with Brent's method.
// The observation operator is linearized once through the ensemble's
// observed anomalies; no relinearization is performed.
func enkfnDual(e *mat.Dense, y mat.Vector, r mat.Symmetric, opts *Options) (*da.Transform, error) {
	_, nEns := e.Dims()
	nf := float64(nEns)
	epsN := 1.0 + 1.0/nf
	n1 := nf + 1.0

	rf, err := matutil.Factor(r, matutil.WantInvSqrt)
	if err != nil {
		return nil, err
	}

	s, delta := obsStats(opts.Op, e, y, rf.InvSqrt)

	var svd mat.SVD
	if ok := svd.Factorize(s, mat.SVDThin); !ok {
		return nil, da.Numericf("svd", "factorization of the observed anomalies failed")
	}
	var us, vs mat.Dense
	svd.UTo(&us)
	svd.VTo(&vs)
	sig := svd.Values(nil)
	k := len(sig)

	// a = U_S^T delta
	a := mat.NewVecDense(k, nil)
	a.MulVec(us.T(), delta)

	deltaNorm2 := mat.Dot(delta, delta)

	dual := func(zeta float64) float64 {
		fit := deltaNorm2
		for i := 0; i < k; i++ {
			s2 := sig[i] * sig[i]
			fit -= s2 / (zeta + s2) * a.AtVec(i) * a.AtVec(i)
		}
		return fit + epsN*zeta + n1*math.Log(n1/zeta) - n1
	}

	zeta, err := brentMin(dual, 1e-6, n1/epsN, 1e-10)
	if err != nil {
		return nil, err
	}

	// w = V_S diag(sigma / (zeta + sigma^2)) U_S^T delta
	scaled := mat.NewVecDense(k, nil)
	for i := 0; i < k; i++ {
		scaled.SetVec(i, sig[i]/(zeta+sig[i]*sig[i])*a.AtVec(i))
	}
	w := mat.NewVecDense(nEns, nil)
	w.MulVec(&vs, scaled)

	// T = (zeta I + S^T S)^(-1/2)
	hw := mat.NewDense(nEns, nEns, nil)
	hw.Mul(s.T(), s)
	for i := 0; i < nEns; i++ {
		hw.Set(i, i, hw.At(i, i)+zeta)
	}
	hf, err := matutil.Factor(matutil.SymFromDense(hw), matutil.WantInvSqrt)
	if err != nil {
		return nil, err
	}

	u, err := matutil.RandOrthogonal(nEns, opts.Rand)
	if err != nil {
		return nil, err
	}

	return &da.Transform{T: hf.InvSqrt, W: w, U: u}, nil
}

// enkfnPrimal computes the finite-size EnKF analysis by a Newton
// minimization of the primal cost in the weights, optionally wrapped in
// a Strong Wolfe line search. As in the dual form, the observed
// anomalies are fixed: only the weight-space cost is nonlinear.
func enkfnPrimal(m method.Method, e *mat.Dense, y mat.Vector, r mat.Symmetric, opts *Options) (*da.Transform, da.Stats, error) {
	var stats da.Stats

	_, nEns := e.Dims()
	nf := float64(nEns)
	epsN := 1.0 + 1.0/nf
	n1 := nf + 1.0

	rf, err := matutil.Factor(r, matutil.WantInvSqrt)
	if err != nil {
		return nil, stats, err
	}

	s, delta := obsStats(opts.Op, e, y, rf.InvSqrt)

	sts := mat.NewDense(nEns, nEns, nil)
	sts.Mul(s.T(), s)
	stDelta := mat.NewVecDense(nEns, nil)
	stDelta.MulVec(s.T(), delta)

	w := mat.NewVecDense(nEns, nil)
	tol := opts.tol()
	maxIter := opts.maxIter()

	var hw *mat.Dense
	for j := 0; j < maxIter; j++ {
		stats.Iterations++

		zeta := 1.0 / (epsN + mat.Dot(w, w))

		// residual delta - S w enters through S^T (delta - S w)
		grad := mat.NewVecDense(nEns, nil)
		grad.MulVec(sts, w)
		grad.SubVec(grad, stDelta)
		grad.AddScaledVec(grad, n1*zeta, w)

		hw = mat.NewDense(nEns, nEns, nil)
		for i := 0; i < nEns; i++ {
			for l := 0; l < nEns; l++ {
				v := sts.At(i, l) - n1*2.0*zeta*zeta*w.AtVec(i)*w.AtVec(l)
				if i == l {
					v += n1 * zeta
				}
				hw.Set(i, l, v)
			}
		}

		dw, err := solveNewton(hw, grad)
		if err != nil {
			return nil, stats, err
		}

		var stepNorm float64
		if m.LineSearch {
			if math.Sqrt(mat.Dot(dw, dw)) < tol {
				break
			}
			p := mat.NewVecDense(nEns, nil)
			p.ScaleVec(-1.0, dw)
			phi := primalLine{
				s: s, delta: delta, w: w, p: p,
				epsN: epsN, n1: n1,
			}
			alpha, err := wolfeSearch(phi.eval, 1.0)
			if err != nil {
				return nil, stats, err
			}
			w.AddScaledVec(w, alpha, p)
			stepNorm = math.Abs(alpha) * math.Sqrt(mat.Dot(p, p))
		} else {
			w.SubVec(w, dw)
			stepNorm = math.Sqrt(mat.Dot(dw, dw))
		}

		if stepNorm < tol {
			break
		}
		if j == maxIter-1 {
			stats.HitCap = true
		}
	}

	// adaptive-inflation Hessian at the minimizer
	zeta := 1.0 / (epsN + mat.Dot(w, w))
	hStar := mat.NewDense(nEns, nEns, nil)
	for i := 0; i < nEns; i++ {
		for l := 0; l < nEns; l++ {
			v := sts.At(i, l) - n1*2.0*zeta*zeta*w.AtVec(i)*w.AtVec(l)
			if i == l {
				v += n1 * zeta
			}
			hStar.Set(i, l, v)
		}
	}
	hf, err := matutil.Factor(matutil.SymFromDense(hStar), matutil.WantInvSqrt)
	if err != nil {
		return nil, stats, err
	}

	u, err := matutil.RandOrthogonal(nEns, opts.Rand)
	if err != nil {
		return nil, stats, err
	}

	return &da.Transform{T: hf.InvSqrt, W: w, U: u}, stats, nil
}

// primalLine is the scalar cost model for the line-searched primal
// finite-size minimization: log weight prior plus fixed-linearization
// observation misfit.
type primalLine struct {
	s     *mat.Dense
	delta *mat.VecDense
	w, p  *mat.VecDense
	epsN  float64
	n1    float64
}

func (l primalLine) eval(alpha float64) (float64, float64) {
	nEns := l.w.Len()
	wa := mat.NewVecDense(nEns, nil)
	wa.AddScaledVec(l.w, alpha, l.p)

	res := mat.NewVecDense(l.delta.Len(), nil)
	res.MulVec(l.s, wa)
	res.SubVec(l.delta, res)

	sp := mat.NewVecDense(l.delta.Len(), nil)
	sp.MulVec(l.s, l.p)

	wNorm2 := mat.Dot(wa, wa)
	cost := l.n1*math.Log(l.epsN+wNorm2) + mat.Dot(res, res)
	deriv := 2.0*l.n1*mat.Dot(wa, l.p)/(l.epsN+wNorm2) - 2.0*mat.Dot(res, sp)
	return cost, deriv
}
