// Package analysis implements the transform engine: the analysis
// kernels that map a forecast ensemble and a noisy observation to a
// right-acting ensemble transform. The kernels are pure dense-matrix
// computations; all randomness (observation perturbations, mean
// preserving rotations) flows through the explicitly seeded source in
// Options.
package analysis

import (
	"golang.org/x/exp/rand"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
	"github.com/sukhreens/DataAssimilationBenchmarks/method"
	"github.com/sukhreens/DataAssimilationBenchmarks/obsop"
	"gonum.org/v1/gonum/mat"
)

// Options carries the conditioning inputs of an analysis call.
type Options struct {
	// Op is the observation operator
	Op *obsop.Operator
	// Rand drives observation perturbations and orthogonal rotations
	Rand *rand.Rand
	// Tol is the inner-loop convergence tolerance on the Newton step
	Tol float64
	// MaxIter caps the inner iterations of the iterative kernels
	MaxIter int
	// Epsilon is the bundle conditioning scale
	Epsilon float64
	// ObsWeight tempers the observation covariance: the kernel uses
	// ObsWeight * R. Zero means 1.
	ObsWeight float64
}

const (
	defaultTol     = 1e-4
	defaultMaxIter = 40
	defaultEpsilon = 1e-4
)

func (o *Options) tol() float64 {
	if o.Tol > 0 {
		return o.Tol
	}
	return defaultTol
}

func (o *Options) maxIter() int {
	if o.MaxIter > 0 {
		return o.MaxIter
	}
	return defaultMaxIter
}

func (o *Options) epsilon() float64 {
	if o.Epsilon > 0 {
		return o.Epsilon
	}
	return defaultEpsilon
}

func (o *Options) obsCov(r mat.Symmetric) mat.Symmetric {
	if o.ObsWeight == 0 || o.ObsWeight == 1 {
		return r
	}
	return scaleCov(r, o.ObsWeight)
}

// scaleCov returns w * r preserving the fast-path shape of r.
func scaleCov(r mat.Symmetric, w float64) mat.Symmetric {
	switch c := r.(type) {
	case *matutil.Uniform:
		return matutil.NewUniform(w*c.Sigma2, c.Dim)
	case *mat.DiagDense:
		n := c.SymmetricDim()
		d := mat.NewDiagDense(n, nil)
		for i := 0; i < n; i++ {
			d.SetDiag(i, w*c.At(i, i))
		}
		return d
	}

	n := r.SymmetricDim()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, w*r.At(i, j))
		}
	}
	return s
}

// Transform dispatches on the analysis descriptor and computes the
// ensemble transform for observation y with error covariance r. The
// IEnKS families cannot be called here: their gradient and Hessian
// accumulate across a data assimilation window and are driven by the
// smoother.
//
// It returns a ConfigError for invalid inputs and a NumericError when a
// kernel cannot produce a transform.
func Transform(m method.Method, e *mat.Dense, y mat.Vector, r mat.Symmetric, opts *Options) (*da.Transform, da.Stats, error) {
	var stats da.Stats

	if err := validate(e, y, r, opts); err != nil {
		return nil, stats, err
	}

	rw := opts.obsCov(r)

	switch m.Family {
	case method.EnKF:
		tr, err := enkf(e, y, rw, opts)
		return tr, stats, err
	case method.ETKF:
		tr, err := etkf(e, y, rw, opts)
		return tr, stats, err
	case method.MLEF:
		return mlef(m, e, y, rw, opts)
	case method.EnKFNDual:
		tr, err := enkfnDual(e, y, rw, opts)
		return tr, stats, err
	case method.EnKFNPrimal:
		return enkfnPrimal(m, e, y, rw, opts)
	case method.IEnKS:
		return nil, stats, da.Configf("ienks transforms are driven by the gauss-newton smoother")
	}

	return nil, stats, da.Configf("unknown analysis family %v", m.Family)
}

func validate(e *mat.Dense, y mat.Vector, r mat.Symmetric, opts *Options) error {
	_, nEns := e.Dims()
	if nEns < 2 {
		return da.Configf("ensemble must have at least 2 members, got %d", nEns)
	}
	if opts == nil || opts.Op == nil {
		return da.Configf("missing observation operator")
	}
	if opts.Rand == nil {
		return da.Configf("missing random source")
	}
	if y.Len() != opts.Op.ObsDim {
		return da.Configf("observation length %d does not match operator dimension %d", y.Len(), opts.Op.ObsDim)
	}
	if r.SymmetricDim() != y.Len() {
		return da.Configf("observation covariance dimension %d does not match observation length %d", r.SymmetricDim(), y.Len())
	}
	return nil
}

// obsStats computes the observed-space statistics shared by the
// deterministic kernels: S = rInvSqrt * (Y - mean(Y)) and the weighted
// innovation delta = rInvSqrt * (y - mean(Y)).
func obsStats(op *obsop.Operator, e *mat.Dense, y mat.Vector, rInvSqrt *mat.Dense) (s *mat.Dense, delta *mat.VecDense) {
	yEns := op.Observe(e)
	p, nEns := yEns.Dims()

	yMean := make([]float64, p)
	for i := 0; i < p; i++ {
		var sum float64
		for j := 0; j < nEns; j++ {
			sum += yEns.At(i, j)
		}
		yMean[i] = sum / float64(nEns)
	}

	anom := mat.NewDense(p, nEns, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < nEns; j++ {
			anom.Set(i, j, yEns.At(i, j)-yMean[i])
		}
	}

	s = mat.NewDense(p, nEns, nil)
	s.Mul(rInvSqrt, anom)

	diff := mat.NewVecDense(p, nil)
	for i := 0; i < p; i++ {
		diff.SetVec(i, y.AtVec(i)-yMean[i])
	}
	delta = mat.NewVecDense(p, nil)
	delta.MulVec(rInvSqrt, diff)

	return s, delta
}
