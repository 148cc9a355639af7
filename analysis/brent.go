package analysis

import (
	"math"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
)

const (
	brentIterCap = 100
	// inverse golden ratio squared
	brentGold = 0.3819660112501051
)

// brentMin minimizes the scalar function f over [a, b] with Brent's
// method, combining golden-section steps with parabolic interpolation.
// It returns the minimizer, or a NumericError if the method does not
// converge to tolerance tol within its iteration cap.
func brentMin(f func(float64) float64, a, b, tol float64) (float64, error) {
	x := a + brentGold*(b-a)
	w, v := x, x
	fx := f(x)
	fw, fv := fx, fx

	var d, e float64
	for iter := 0; iter < brentIterCap; iter++ {
		m := 0.5 * (a + b)
		tol1 := tol*math.Abs(x) + 1e-12
		tol2 := 2 * tol1

		if math.Abs(x-m) <= tol2-0.5*(b-a) {
			return x, nil
		}

		useGolden := true
		if math.Abs(e) > tol1 {
			// fit a parabola through (x, w, v)
			r := (x - w) * (fx - fv)
			q := (x - v) * (fx - fw)
			p := (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			eOld := e
			e = d
			if math.Abs(p) < math.Abs(0.5*q*eOld) && p > q*(a-x) && p < q*(b-x) {
				d = p / q
				u := x + d
				if u-a < tol2 || b-u < tol2 {
					d = math.Copysign(tol1, m-x)
				}
				useGolden = false
			}
		}
		if useGolden {
			if x < m {
				e = b - x
			} else {
				e = a - x
			}
			d = brentGold * e
		}

		var u float64
		if math.Abs(d) >= tol1 {
			u = x + d
		} else {
			u = x + math.Copysign(tol1, d)
		}
		fu := f(u)

		if fu <= fx {
			if u < x {
				b = x
			} else {
				a = x
			}
			v, fv = w, fw
			w, fw = x, fx
			x, fx = u, fu
		} else {
			if u < x {
				a = u
			} else {
				b = u
			}
			if fu <= fw || w == x {
				v, fv = w, fw
				w, fw = u, fu
			} else if fu <= fv || v == x || v == w {
				v, fv = u, fu
			}
		}
	}

	return x, da.Numericf("brent", "no convergence in %d iterations", brentIterCap)
}
