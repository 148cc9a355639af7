// Package matutil provides the dense linear-algebra utilities shared by
// the analysis kernels: stable square roots of covariance matrices in
// their three recognized shapes and the mean-preserving random
// orthogonal generator.
package matutil

import (
	"math"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Uniform is a scalar-times-identity covariance matrix.
type Uniform struct {
	// Sigma2 is the diagonal value
	Sigma2 float64
	// Dim is the matrix order
	Dim int
}

// NewUniform returns the covariance sigma2 * I of order dim.
func NewUniform(sigma2 float64, dim int) *Uniform {
	return &Uniform{Sigma2: sigma2, Dim: dim}
}

// Dims implements mat.Matrix.
func (u *Uniform) Dims() (r, c int) { return u.Dim, u.Dim }

// At implements mat.Matrix.
func (u *Uniform) At(i, j int) float64 {
	if i == j {
		return u.Sigma2
	}
	return 0
}

// T implements mat.Matrix.
func (u *Uniform) T() mat.Matrix { return u }

// SymmetricDim implements mat.Symmetric.
func (u *Uniform) SymmetricDim() int { return u.Dim }

// Want selects which factors Factor computes.
type Want uint

const (
	// WantSqrt requests M^(1/2)
	WantSqrt Want = 1 << iota
	// WantInvSqrt requests M^(-1/2)
	WantInvSqrt
	// WantInv requests M^(-1)
	WantInv
)

// Roots holds the factors of a positive-definite covariance matrix.
// Only the requested fields are populated.
type Roots struct {
	Sqrt    *mat.Dense
	InvSqrt *mat.Dense
	Inv     *mat.Dense
}

// Factor computes the requested factors of the positive-definite matrix
// m in a single pass. Scalar-times-identity and diagonal shapes use the
// closed-form elementwise operation; general symmetric shapes use a full
// SVD, synthesizing every factor from the singular values and
// symmetrizing the results. It returns a NumericError if m is not
// positive-definite or the SVD fails to converge.
func Factor(m mat.Symmetric, want Want) (*Roots, error) {
	switch c := m.(type) {
	case *Uniform:
		if c.Sigma2 <= 0 {
			return nil, da.Numericf("factor", "non-positive uniform covariance %g", c.Sigma2)
		}
		return factorDiag(diagOf(c), want)
	case *mat.DiagDense:
		return factorDiag(c, want)
	}

	n := m.SymmetricDim()
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, da.Numericf("svd", "factorization of %d x %d covariance failed", n, n)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vals := svd.Values(nil)
	for _, s := range vals {
		if s <= 0 {
			return nil, da.Numericf("svd", "covariance is not positive-definite")
		}
	}

	r := &Roots{}
	synth := func(f func(float64) float64) *mat.Dense {
		d := make([]float64, n)
		for i, s := range vals {
			d[i] = f(s)
		}
		out := mat.NewDense(n, n, nil)
		out.Mul(&u, mat.NewDiagDense(n, d))
		out.Mul(out, v.T())
		Symmetrize(out)
		return out
	}

	if want&WantSqrt != 0 {
		r.Sqrt = synth(math.Sqrt)
	}
	if want&WantInvSqrt != 0 {
		r.InvSqrt = synth(func(s float64) float64 { return 1.0 / math.Sqrt(s) })
	}
	if want&WantInv != 0 {
		r.Inv = synth(func(s float64) float64 { return 1.0 / s })
	}

	return r, nil
}

func diagOf(u *Uniform) *mat.DiagDense {
	d := mat.NewDiagDense(u.Dim, nil)
	for i := 0; i < u.Dim; i++ {
		d.SetDiag(i, u.Sigma2)
	}
	return d
}

func factorDiag(d *mat.DiagDense, want Want) (*Roots, error) {
	n := d.SymmetricDim()
	r := &Roots{}

	synth := func(f func(float64) float64) (*mat.Dense, error) {
		out := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			v := d.At(i, i)
			if v <= 0 {
				return nil, da.Numericf("factor", "non-positive diagonal covariance entry %g", v)
			}
			out.Set(i, i, f(v))
		}
		return out, nil
	}

	var err error
	if want&WantSqrt != 0 {
		if r.Sqrt, err = synth(math.Sqrt); err != nil {
			return nil, err
		}
	}
	if want&WantInvSqrt != 0 {
		if r.InvSqrt, err = synth(func(v float64) float64 { return 1.0 / math.Sqrt(v) }); err != nil {
			return nil, err
		}
	}
	if want&WantInv != 0 {
		if r.Inv, err = synth(func(v float64) float64 { return 1.0 / v }); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Symmetrize replaces a with (a + a^T)/2 in place. It panics if a is
// not square.
func Symmetrize(a *mat.Dense) {
	r, c := a.Dims()
	if r != c {
		panic("matutil: symmetrize of non-square matrix")
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			v := 0.5 * (a.At(i, j) + a.At(j, i))
			a.Set(i, j, v)
			a.Set(j, i, v)
		}
	}
}

// SymFromDense copies the dense matrix a into a SymDense, averaging
// mismatched off-diagonal pairs.
func SymFromDense(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, a.At(i, i))
		for j := i + 1; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// RandOrthogonal draws an n x n orthogonal matrix U with U * ones =
// ones: a rotation of the ensemble that preserves its mean. An
// (n-1) x (n-1) standard-normal matrix is QR-decomposed and embedded as
// the trailing block of a block-diagonal matrix with leading 1, which is
// conjugated by an orthogonal basis whose first column is the normalized
// ones vector. It returns a ConfigError for orders below 2.
func RandOrthogonal(n int, rnd *rand.Rand) (*mat.Dense, error) {
	if n < 2 {
		return nil, da.Configf("orthogonal matrix order must be at least 2, got %d", n)
	}

	data := make([]float64, (n-1)*(n-1))
	for i := range data {
		data[i] = rnd.NormFloat64()
	}

	var qr mat.QR
	qr.Factorize(mat.NewDense(n-1, n-1, data))
	var q mat.Dense
	qr.QTo(&q)

	// orthogonal completion of ones/sqrt(n)
	ones := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		ones.Set(i, 0, 1.0/math.Sqrt(float64(n)))
	}
	var bqr mat.QR
	bqr.Factorize(ones)
	var b mat.Dense
	bqr.QTo(&b)

	block := mat.NewDense(n, n, nil)
	block.Set(0, 0, 1.0)
	for i := 0; i < n-1; i++ {
		for j := 0; j < n-1; j++ {
			block.Set(i+1, j+1, q.At(i, j))
		}
	}

	u := mat.NewDense(n, n, nil)
	u.Mul(&b, block)
	u.Mul(u, b.T())

	return u, nil
}
