package analysis

import (
	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
	"github.com/sukhreens/DataAssimilationBenchmarks/obsop"
	"gonum.org/v1/gonum/mat"
)

// Increment is a single observation's contribution to the iterative
// smoother cost: one gradient column and one Hessian slab, accumulated
// by the Gauss-Newton driver across the data assimilation window.
type Increment struct {
	// Grad is S^T R^(-1/2) (y - mean(Y))
	Grad *mat.VecDense
	// Hess is S^T S
	Hess *mat.Dense
}

// SequentialIncrement computes the gradient and Hessian contribution of
// the observation y against the propagated ensemble e, deconditioned by
// tinv, with observation covariance weight obsWeight (1 for SDA). The
// driver sums the contributions over the window and performs the
// Gauss-Newton step.
func SequentialIncrement(op *obsop.Operator, e *mat.Dense, y mat.Vector, r mat.Symmetric, tinv *mat.Dense, obsWeight float64) (*Increment, error) {
	_, nEns := e.Dims()

	rw := r
	if obsWeight != 0 && obsWeight != 1 {
		rw = scaleCov(r, obsWeight)
	}

	rf, err := matutil.Factor(rw, matutil.WantInvSqrt)
	if err != nil {
		return nil, err
	}

	s, delta := obsStats(op, e, y, rf.InvSqrt)
	s.Mul(s, tinv)

	grad := mat.NewVecDense(nEns, nil)
	grad.MulVec(s.T(), delta)

	hess := mat.NewDense(nEns, nEns, nil)
	hess.Mul(s.T(), s)

	return &Increment{Grad: grad, Hess: hess}, nil
}

// NewtonSolve solves hw * x = g for a symmetric positive-definite hw.
// It returns a NumericError if the factorization fails.
func NewtonSolve(hw *mat.Dense, g *mat.VecDense) (*mat.VecDense, error) {
	return solveNewton(hw, g)
}

// AdaptiveExitTransform returns the finite-size exit transform
// (S^T S + (nEns+1)(zeta I - 2 zeta^2 w w^T))^(-1/2) given the summed
// observation Hessian sts = sum S^T S and the converged weights.
func AdaptiveExitTransform(sts *mat.Dense, w *mat.VecDense) (*mat.Dense, error) {
	nEns := w.Len()
	nf := float64(nEns)
	epsN := 1.0 + 1.0/nf
	zeta := 1.0 / (epsN + mat.Dot(w, w))

	h := mat.NewDense(nEns, nEns, nil)
	for i := 0; i < nEns; i++ {
		for j := 0; j < nEns; j++ {
			v := sts.At(i, j) - (nf+1.0)*2.0*zeta*zeta*w.AtVec(i)*w.AtVec(j)
			if i == j {
				v += (nf + 1.0) * zeta
			}
			h.Set(i, j, v)
		}
	}

	hf, err := matutil.Factor(matutil.SymFromDense(h), matutil.WantInvSqrt)
	if err != nil {
		return nil, err
	}
	return hf.InvSqrt, nil
}

// ExitTransform returns hw^(-1/2), the standard exit transform of the
// Gauss-Newton smoother.
func ExitTransform(hw *mat.Dense) (*mat.Dense, error) {
	hf, err := matutil.Factor(matutil.SymFromDense(hw), matutil.WantInvSqrt)
	if err != nil {
		return nil, err
	}
	return hf.InvSqrt, nil
}
