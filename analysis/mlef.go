package analysis

import (
	"math"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/ensemble"
	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
	"github.com/sukhreens/DataAssimilationBenchmarks/method"
	"gonum.org/v1/gonum/mat"
)

// mlef computes the maximum-likelihood ensemble filter analysis: a
// Newton (optionally Strong Wolfe line-searched) minimization of the
// nonlinear observation cost in ensemble-weight space, relinearizing
// the observation operator around the running mean estimate at every
// iteration.
func mlef(m method.Method, e *mat.Dense, y mat.Vector, r mat.Symmetric, opts *Options) (*da.Transform, da.Stats, error) {
	var stats da.Stats

	sysDim, nEns := e.Dims()
	nf := float64(nEns)

	rf, err := matutil.Factor(r, matutil.WantInvSqrt)
	if err != nil {
		return nil, stats, err
	}

	mean0 := ensemble.Mean(e)
	x0 := mat.NewDense(sysDim, nEns, nil)
	for i := 0; i < sysDim; i++ {
		mi := mean0.AtVec(i)
		for j := 0; j < nEns; j++ {
			x0.Set(i, j, e.At(i, j)-mi)
		}
	}

	t := mat.NewDense(nEns, nEns, nil)
	tinv := mat.NewDense(nEns, nEns, nil)
	if m.Conditioning == method.Bundle {
		eps := opts.epsilon()
		for i := 0; i < nEns; i++ {
			t.Set(i, i, eps)
			tinv.Set(i, i, 1.0/eps)
		}
	} else {
		for i := 0; i < nEns; i++ {
			t.Set(i, i, 1.0)
			tinv.Set(i, i, 1.0)
		}
	}

	// finite-size constants
	epsN := 1.0 + 1.0/nf
	nEff := nf + 1.0

	w := mat.NewVecDense(nEns, nil)
	eIter := mat.NewDense(sysDim, nEns, nil)

	// rebuild the conditioned ensemble around the mean estimate for
	// the weights ws
	rebuild := func(ws *mat.VecDense) {
		shift := mat.NewVecDense(sysDim, nil)
		shift.MulVec(x0, ws)
		var xt mat.Dense
		xt.Mul(x0, t)
		for i := 0; i < sysDim; i++ {
			mi := mean0.AtVec(i) + shift.AtVec(i)
			for j := 0; j < nEns; j++ {
				eIter.Set(i, j, mi+xt.At(i, j))
			}
		}
	}

	var s *mat.Dense
	var hw *mat.Dense
	tol := opts.tol()
	maxIter := opts.maxIter()

	for j := 0; j < maxIter; j++ {
		stats.Iterations++

		rebuild(w)
		var delta *mat.VecDense
		s, delta = obsStats(opts.Op, eIter, y, rf.InvSqrt)
		s.Mul(s, tinv)

		zeta := 1.0 / (epsN + mat.Dot(w, w))

		grad := mat.NewVecDense(nEns, nil)
		grad.MulVec(s.T(), delta)
		if m.FiniteSize {
			grad.AddScaledVec(grad, -nEff*zeta, w)
		} else {
			grad.AddScaledVec(grad, -(nf - 1.0), w)
		}
		grad.ScaleVec(-1.0, grad)

		hw = mat.NewDense(nEns, nEns, nil)
		hw.Mul(s.T(), s)
		lead := nf - 1.0
		if m.FiniteSize {
			lead = nEff - 1.0
		}
		for i := 0; i < nEns; i++ {
			hw.Set(i, i, hw.At(i, i)+lead)
		}

		var stepNorm float64
		if m.LineSearch {
			p, err := solveNewton(hw, grad)
			if err != nil {
				return nil, stats, err
			}
			p.ScaleVec(-1.0, p)
			if math.Sqrt(mat.Dot(p, p)) < tol {
				break
			}

			phi := newtonLine{
				mean0: mean0, x0: x0,
				rInvSqrt: rf.InvSqrt, s: s, y: y,
				w: w, p: p, opts: opts,
				finiteSize: m.FiniteSize, nf: nf,
			}
			alpha, err := wolfeSearch(phi.eval, 1.0)
			if err != nil {
				return nil, stats, err
			}
			w.AddScaledVec(w, alpha, p)
			stepNorm = math.Abs(alpha) * math.Sqrt(mat.Dot(p, p))
		} else {
			dw, err := solveNewton(hw, grad)
			if err != nil {
				return nil, stats, err
			}
			w.SubVec(w, dw)
			stepNorm = math.Sqrt(mat.Dot(dw, dw))
		}

		if m.Conditioning == method.Transform {
			hf, err := matutil.Factor(matutil.SymFromDense(hw), matutil.WantSqrt|matutil.WantInvSqrt)
			if err != nil {
				return nil, stats, err
			}
			t = hf.InvSqrt
			tinv = hf.Sqrt
		}

		if stepNorm < tol {
			break
		}
		if j == maxIter-1 {
			stats.HitCap = true
		}
	}

	// exit transform: adaptive-inflation Hessian for the finite-size
	// cost, plain Hessian otherwise
	var tOut *mat.Dense
	if m.FiniteSize {
		zeta := 1.0 / (epsN + mat.Dot(w, w))
		hStar := mat.NewDense(nEns, nEns, nil)
		hStar.Mul(s.T(), s)
		for i := 0; i < nEns; i++ {
			for j := 0; j < nEns; j++ {
				v := hStar.At(i, j) - (nf+1.0)*2.0*zeta*zeta*w.AtVec(i)*w.AtVec(j)
				if i == j {
					v += (nf + 1.0) * zeta
				}
				hStar.Set(i, j, v)
			}
		}
		hf, err := matutil.Factor(matutil.SymFromDense(hStar), matutil.WantInvSqrt)
		if err != nil {
			return nil, stats, err
		}
		tOut = hf.InvSqrt
	} else {
		hf, err := matutil.Factor(matutil.SymFromDense(hw), matutil.WantInvSqrt)
		if err != nil {
			return nil, stats, err
		}
		tOut = hf.InvSqrt
	}

	u, err := matutil.RandOrthogonal(nEns, opts.Rand)
	if err != nil {
		return nil, stats, err
	}

	return &da.Transform{T: tOut, W: w, U: u}, stats, nil
}

// solveNewton solves hw * x = g through a Cholesky factorization.
func solveNewton(hw *mat.Dense, g *mat.VecDense) (*mat.VecDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(matutil.SymFromDense(hw)); !ok {
		return nil, da.Numericf("cholesky", "newton hessian is not positive-definite")
	}
	x := mat.NewVecDense(g.Len(), nil)
	if err := chol.SolveVecTo(x, g); err != nil {
		return nil, da.Numericf("cholesky", "newton solve failed: %v", err)
	}
	return x, nil
}

// newtonLine is the scalar cost model for the Strong Wolfe search along
// a Newton direction: the quadratic (or finite-size logarithmic) weight
// prior plus the observation misfit re-evaluated at the trial mean.
type newtonLine struct {
	mean0      *mat.VecDense
	x0         *mat.Dense
	rInvSqrt   *mat.Dense
	s          *mat.Dense
	y          mat.Vector
	w, p       *mat.VecDense
	opts       *Options
	finiteSize bool
	nf         float64
}

// eval returns the cost and its derivative at step alpha.
func (l newtonLine) eval(alpha float64) (float64, float64) {
	nEns := l.w.Len()

	wa := mat.NewVecDense(nEns, nil)
	wa.AddScaledVec(l.w, alpha, l.p)

	// observed misfit at the trial mean estimate
	sysDim := l.mean0.Len()
	shift := mat.NewVecDense(sysDim, nil)
	shift.MulVec(l.x0, wa)
	trial := mat.NewVecDense(sysDim, nil)
	trial.AddVec(l.mean0, shift)

	yTrial := l.opts.Op.ObserveVec(trial)
	diff := mat.NewVecDense(l.y.Len(), nil)
	for i := 0; i < l.y.Len(); i++ {
		diff.SetVec(i, l.y.AtVec(i)-yTrial.AtVec(i))
	}
	delta := mat.NewVecDense(l.y.Len(), nil)
	delta.MulVec(l.rInvSqrt, diff)

	sp := mat.NewVecDense(l.y.Len(), nil)
	sp.MulVec(l.s, l.p)

	misfit := mat.Dot(delta, delta)
	misfitDeriv := -2.0 * mat.Dot(delta, sp)

	wNorm2 := mat.Dot(wa, wa)
	wp := mat.Dot(wa, l.p)

	if l.finiteSize {
		epsN := 1.0 + 1.0/l.nf
		nEff := l.nf + 1.0
		cost := nEff*math.Log(epsN+wNorm2) + misfit
		deriv := 2.0*nEff*wp/(epsN+wNorm2) + misfitDeriv
		return cost, deriv
	}

	cost := (l.nf-1.0)*wNorm2 + misfit
	deriv := 2.0*(l.nf-1.0)*wp + misfitDeriv
	return cost, deriv
}
