// Package integrate provides the numerical steppers the assimilation
// drivers propagate ensembles with: a fourth-order Runge-Kutta scheme
// for deterministic dynamics and the Euler-Maruyama and second-order
// Taylor schemes for stochastic dynamics.
package integrate

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Field is an autonomous vector field with tunable parameters.
type Field interface {
	// Dxdt writes the time derivative of x into dst
	Dxdt(dst, x []float64, t float64)
	// SetParams replaces the vector-field parameters
	SetParams(p []float64)
}

// DifferentiableField is a Field that exposes the action of its
// Jacobian, required by the Taylor scheme.
type DifferentiableField interface {
	Field
	// JacMul writes J(x) * v into dst
	JacMul(dst, x, v []float64, t float64)
}

// RK4 is the classical fourth-order Runge-Kutta stepper.
type RK4 struct {
	// H is the integrator step size
	H float64
	// Field is the model vector field
	Field Field

	k1, k2, k3, k4, tmp []float64
}

// NewRK4 returns an RK4 stepper of field f with step size h.
func NewRK4(f Field, h float64) *RK4 {
	return &RK4{H: h, Field: f}
}

func (r *RK4) grow(n int) {
	if len(r.k1) != n {
		r.k1 = make([]float64, n)
		r.k2 = make([]float64, n)
		r.k3 = make([]float64, n)
		r.k4 = make([]float64, n)
		r.tmp = make([]float64, n)
	}
}

// Step advances x in place from t by the step size.
func (r *RK4) Step(x *mat.VecDense, t float64) {
	n := x.Len()
	r.grow(n)
	raw := x.RawVector().Data

	h := r.H
	r.Field.Dxdt(r.k1, raw, t)
	for i := 0; i < n; i++ {
		r.tmp[i] = raw[i] + 0.5*h*r.k1[i]
	}
	r.Field.Dxdt(r.k2, r.tmp, t+0.5*h)
	for i := 0; i < n; i++ {
		r.tmp[i] = raw[i] + 0.5*h*r.k2[i]
	}
	r.Field.Dxdt(r.k3, r.tmp, t+0.5*h)
	for i := 0; i < n; i++ {
		r.tmp[i] = raw[i] + h*r.k3[i]
	}
	r.Field.Dxdt(r.k4, r.tmp, t+h)
	for i := 0; i < n; i++ {
		raw[i] += h / 6.0 * (r.k1[i] + 2.0*r.k2[i] + 2.0*r.k3[i] + r.k4[i])
	}
}

// SetParams forwards the parameter vector to the model field.
func (r *RK4) SetParams(p []float64) {
	r.Field.SetParams(p)
}

// EulerMaruyama is the order-0.5 strong scheme for additive-noise SDEs
//
//	dx = f(x) dt + diffusion dW.
type EulerMaruyama struct {
	// H is the integrator step size
	H float64
	// Diffusion scales the Wiener increment
	Diffusion float64
	// Field is the drift vector field
	Field Field
	// Rand samples the Wiener increments when Xi is nil
	Rand *rand.Rand
	// Xi, when non-nil, is consumed as the standard-normal increment
	// of the next step; the driver injects it for reproducibility
	Xi []float64

	drift []float64
}

// NewEulerMaruyama returns an Euler-Maruyama stepper of field f.
func NewEulerMaruyama(f Field, h, diffusion float64, rnd *rand.Rand) *EulerMaruyama {
	return &EulerMaruyama{H: h, Diffusion: diffusion, Field: f, Rand: rnd}
}

// Step advances x in place from t by the step size.
func (s *EulerMaruyama) Step(x *mat.VecDense, t float64) {
	n := x.Len()
	if len(s.drift) != n {
		s.drift = make([]float64, n)
	}
	raw := x.RawVector().Data

	s.Field.Dxdt(s.drift, raw, t)
	sqh := math.Sqrt(s.H)
	for i := 0; i < n; i++ {
		xi := 0.0
		if s.Xi != nil {
			xi = s.Xi[i]
		} else if s.Diffusion != 0 {
			xi = s.Rand.NormFloat64()
		}
		raw[i] += s.H*s.drift[i] + s.Diffusion*sqh*xi
	}
	s.Xi = nil
}

// SetParams forwards the parameter vector to the model field.
func (s *EulerMaruyama) SetParams(p []float64) {
	s.Field.SetParams(p)
}

// Taylor2 is the second-order Taylor stepper: the deterministic drift
// is expanded to second order through the Jacobian action, and an
// additive Wiener increment is applied as in Euler-Maruyama.
type Taylor2 struct {
	// H is the integrator step size
	H float64
	// Diffusion scales the Wiener increment
	Diffusion float64
	// Field is the drift vector field
	Field DifferentiableField
	// Rand samples the Wiener increments
	Rand *rand.Rand

	drift, jf []float64
}

// NewTaylor2 returns a Taylor2 stepper of field f.
func NewTaylor2(f DifferentiableField, h, diffusion float64, rnd *rand.Rand) *Taylor2 {
	return &Taylor2{H: h, Diffusion: diffusion, Field: f, Rand: rnd}
}

// Step advances x in place from t by the step size.
func (s *Taylor2) Step(x *mat.VecDense, t float64) {
	n := x.Len()
	if len(s.drift) != n {
		s.drift = make([]float64, n)
		s.jf = make([]float64, n)
	}
	raw := x.RawVector().Data

	s.Field.Dxdt(s.drift, raw, t)
	s.Field.JacMul(s.jf, raw, s.drift, t)

	sqh := math.Sqrt(s.H)
	for i := 0; i < n; i++ {
		xi := 0.0
		if s.Diffusion != 0 {
			xi = s.Rand.NormFloat64()
		}
		raw[i] += s.H*s.drift[i] + 0.5*s.H*s.H*s.jf[i] + s.Diffusion*sqh*xi
	}
}

// SetParams forwards the parameter vector to the model field.
func (s *Taylor2) SetParams(p []float64) {
	s.Field.SetParams(p)
}
