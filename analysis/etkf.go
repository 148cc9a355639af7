package analysis

import (
	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
	"gonum.org/v1/gonum/mat"
)

// etkf computes the deterministic ensemble transform Kalman filter
// analysis. The anomaly transform T and the inverse Hessian are
// synthesized from a single SVD of the ensemble-space Hessian
//
//	H_w = (nEns - 1) I + S^T S
//
// which is positive-definite for any positive-definite observation
// covariance.
func etkf(e *mat.Dense, y mat.Vector, r mat.Symmetric, opts *Options) (*da.Transform, error) {
	_, nEns := e.Dims()

	rf, err := matutil.Factor(r, matutil.WantInvSqrt)
	if err != nil {
		return nil, err
	}

	s, delta := obsStats(opts.Op, e, y, rf.InvSqrt)

	hw := mat.NewDense(nEns, nEns, nil)
	hw.Mul(s.T(), s)
	for i := 0; i < nEns; i++ {
		hw.Set(i, i, hw.At(i, i)+float64(nEns-1))
	}

	hf, err := matutil.Factor(matutil.SymFromDense(hw), matutil.WantInvSqrt|matutil.WantInv)
	if err != nil {
		return nil, err
	}

	w := mat.NewVecDense(nEns, nil)
	w.MulVec(s.T(), delta)
	w.MulVec(hf.Inv, w)

	u, err := matutil.RandOrthogonal(nEns, opts.Rand)
	if err != nil {
		return nil, err
	}

	return &da.Transform{T: hf.InvSqrt, W: w, U: u}, nil
}
