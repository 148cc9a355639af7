package smooth

import (
	"math"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/analysis"
	"github.com/sukhreens/DataAssimilationBenchmarks/cycle"
	"github.com/sukhreens/DataAssimilationBenchmarks/ensemble"
	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
	"github.com/sukhreens/DataAssimilationBenchmarks/method"
	"gonum.org/v1/gonum/mat"
)

const (
	gnDefaultTol     = 1e-3
	gnDefaultMaxIter = 5
)

// GaussNewton runs one cycle of the iterative ensemble Kalman smoother:
// an outer Gauss-Newton minimization in ensemble-weight space whose
// gradient and Hessian accumulate sequentially across the lag window,
// followed by a forward pass of the optimized posterior that emits the
// posterior, filtered and forecast slices by their position in the
// window.
//
// With MDA active the optimization runs twice: stage 0 with the
// rebalancing weights produces the filter diagnostics, stage 1 with the
// MDA weights advances the posterior. The iteration count accumulates
// across stages.
func GaussNewton(e *mat.Dense, obs []mat.Vector, r mat.Symmetric, cfg *Config) (*Result, error) {
	if err := cfg.Validate(e); err != nil {
		return nil, err
	}
	if cfg.Method.Family != method.IEnKS {
		return nil, da.Configf("gauss-newton smoother requires an ienks method, got %v", cfg.Method)
	}
	if len(obs) != cfg.Lag {
		return nil, da.Configf("gauss-newton smoother consumes lag=%d observations per cycle, got %d", cfg.Lag, len(obs))
	}

	res := &Result{
		Post: make([]*mat.Dense, 0, cfg.Shift),
		Fore: make([]*mat.Dense, 0, cfg.Shift),
		Filt: make([]*mat.Dense, 0, cfg.Shift),
	}

	if cfg.MDA {
		post0, err := gnStage(e, obs, r, cfg, cfg.RebWeights, cfg.Spin, res)
		if err != nil {
			return nil, err
		}
		gnEmit(post0, cfg, res, false, true)

		post1, err := gnStage(e, obs, r, cfg, cfg.ObsWeights, false, res)
		if err != nil {
			return nil, err
		}
		res.Ens = gnEmit(post1, cfg, res, true, false)
		return res, nil
	}

	post, err := gnStage(e, obs, r, cfg, nil, cfg.Spin, res)
	if err != nil {
		return nil, err
	}
	res.Ens = gnEmit(post, cfg, res, true, true)
	return res, nil
}

// gnStage performs the Gauss-Newton optimization over the window and
// returns the optimized posterior ensemble at the window start.
func gnStage(e *mat.Dense, obs []mat.Vector, r mat.Symmetric, cfg *Config, weights []float64, skipFirstRebuild bool, res *Result) (*mat.Dense, error) {
	sysDim, nEns := e.Dims()
	nf := float64(nEns)
	epsN := 1.0 + 1.0/nf
	nEff := nf + 1.0

	tol := cfg.Tol
	if tol <= 0 {
		tol = gnDefaultTol
	}
	maxIter := cfg.MaxIter
	if maxIter <= 0 {
		maxIter = gnDefaultMaxIter
	}
	eps := cfg.Epsilon
	if eps <= 0 {
		eps = 1e-4
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
	if cfg.Method.Conditioning == method.Bundle {
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

	w := mat.NewVecDense(nEns, nil)
	run := mat.NewDense(sysDim, nEns, nil)

	rebuild := func() {
		shift := mat.NewVecDense(sysDim, nil)
		shift.MulVec(x0, w)
		var xt mat.Dense
		xt.Mul(x0, t)
		for i := 0; i < sysDim; i++ {
			mi := mean0.AtVec(i) + shift.AtVec(i)
			for j := 0; j < nEns; j++ {
				run.Set(i, j, mi+xt.At(i, j))
			}
		}
	}

	var hw, sts *mat.Dense
	for i := 0; i < maxIter; i++ {
		res.Stats.Iterations++

		// the rebuild is a no-op on the first spin pass in transform
		// mode; bundle conditioning always shrinks the anomalies first
		if i == 0 && skipFirstRebuild && cfg.Method.Conditioning == method.Transform {
			run.Copy(e)
		} else {
			rebuild()
		}

		gradSum := mat.NewVecDense(nEns, nil)
		sts = mat.NewDense(nEns, nEns, nil)
		for l := 0; l < cfg.Lag; l++ {
			cycle.Propagate(run, &cfg.Config, 0)
			wgt := 1.0
			if weights != nil {
				wgt = weights[l]
			}
			inc, err := analysis.SequentialIncrement(cfg.Op, run, obs[l], r, tinv, wgt)
			if err != nil {
				return nil, err
			}
			gradSum.AddVec(gradSum, inc.Grad)
			sts.Add(sts, inc.Hess)
		}

		grad := mat.NewVecDense(nEns, nil)
		var lead float64
		if cfg.Method.FiniteSize {
			zeta := 1.0 / (epsN + mat.Dot(w, w))
			grad.AddScaledVec(grad, nEff*zeta, w)
			lead = nEff - 1.0
		} else {
			grad.AddScaledVec(grad, nf-1.0, w)
			lead = nf - 1.0
		}
		grad.SubVec(grad, gradSum)

		hw = mat.NewDense(nEns, nEns, nil)
		hw.Copy(sts)
		for j := 0; j < nEns; j++ {
			hw.Set(j, j, hw.At(j, j)+lead)
		}

		var dw *mat.VecDense
		if cfg.Method.Conditioning == method.Transform {
			hf, err := matutil.Factor(matutil.SymFromDense(hw), matutil.WantSqrt|matutil.WantInvSqrt|matutil.WantInv)
			if err != nil {
				return nil, err
			}
			t = hf.InvSqrt
			tinv = hf.Sqrt
			dw = mat.NewVecDense(nEns, nil)
			dw.MulVec(hf.Inv, grad)
		} else {
			var err error
			dw, err = analysis.NewtonSolve(hw, grad)
			if err != nil {
				return nil, err
			}
		}
		w.SubVec(w, dw)

		if math.Sqrt(mat.Dot(dw, dw)) < tol {
			break
		}
		if i == maxIter-1 {
			res.Stats.HitCap = true
		}
	}

	var tOut *mat.Dense
	var err error
	if cfg.Method.FiniteSize {
		tOut, err = analysis.AdaptiveExitTransform(sts, w)
	} else {
		tOut, err = analysis.ExitTransform(hw)
	}
	if err != nil {
		return nil, err
	}

	u, err := matutil.RandOrthogonal(nEns, cfg.Rand)
	if err != nil {
		return nil, err
	}

	// E_post = mean_iter 1^T + sqrt(nEns-1) X_0 T U
	meanIter := mat.NewVecDense(sysDim, nil)
	meanIter.MulVec(x0, w)
	meanIter.AddVec(meanIter, mean0)

	var tu mat.Dense
	tu.Mul(tOut, u)
	var anom mat.Dense
	anom.Mul(x0, &tu)
	anom.Scale(math.Sqrt(nf-1.0), &anom)

	post := mat.NewDense(sysDim, nEns, nil)
	for i := 0; i < sysDim; i++ {
		mi := meanIter.AtVec(i)
		for j := 0; j < nEns; j++ {
			post.Set(i, j, mi+anom.At(i, j))
		}
	}

	return post, nil
}

// gnEmit inflates the optimized posterior, applies the parameter walk
// and propagates it across the window, storing slices by position:
// posterior for l <= shift, filtered for lag-shift < l <= lag and
// forecast beyond the last observed time. It returns the ensemble at
// the new current time, shift observation times past the window start.
func gnEmit(post *mat.Dense, cfg *Config, res *Result, recordPost, recordDiag bool) *mat.Dense {
	ensemble.InflateState(post, cfg.StateInfl, cfg.StateDim)
	if cfg.ParamEstimation(post) {
		ensemble.InflateParam(post, cfg.ParamInfl, cfg.StateDim)
		cycle.ParamWalk(post, &cfg.Config)
	}

	last := cfg.Lag + cfg.Shift
	if !recordDiag {
		last = cfg.Shift
	}

	var newEns *mat.Dense
	for l := 1; l <= last; l++ {
		cycle.Propagate(post, &cfg.Config, 0)
		if recordPost && l <= cfg.Shift {
			res.Post = append(res.Post, clone(post))
		}
		if l == cfg.Shift {
			newEns = clone(post)
		}
		if recordDiag && l > cfg.Lag-cfg.Shift && l <= cfg.Lag {
			res.Filt = append(res.Filt, clone(post))
		}
		if recordDiag && l > cfg.Lag {
			res.Fore = append(res.Fore, clone(post))
		}
	}

	return newEns
}
