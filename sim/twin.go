package sim

import (
	"golang.org/x/exp/rand"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/integrate"
	"github.com/sukhreens/DataAssimilationBenchmarks/matutil"
	"github.com/sukhreens/DataAssimilationBenchmarks/model"
	"github.com/sukhreens/DataAssimilationBenchmarks/noise"
	"github.com/sukhreens/DataAssimilationBenchmarks/obsop"
	"gonum.org/v1/gonum/mat"
)

// Twin holds a truth trajectory and its noisy observations.
type Twin struct {
	// Init is the truth state at time zero
	Init *mat.VecDense
	// Truth stores the truth state at observation times in its columns
	Truth *mat.Dense
	// Obs stores the observation vectors in its columns
	Obs *mat.Dense
	// R is the observation error covariance
	R mat.Symmetric
}

// TruthVec returns the truth state at observation time t (1-based).
func (tw *Twin) TruthVec(t int) mat.Vector {
	return tw.Truth.ColView(t - 1)
}

// ObsVec returns the observation at time t (1-based).
func (tw *Twin) ObsVec(t int) mat.Vector {
	return tw.Obs.ColView(t - 1)
}

// newStepper builds the truth/ensemble integrator for cfg: RK4 for
// deterministic dynamics, Euler-Maruyama when diffusion is active.
func newStepper(cfg *Config, rnd *rand.Rand) da.Stepper {
	l96 := &model.Lorenz96{F: cfg.F}
	if cfg.Diffusion != 0 {
		return integrate.NewEulerMaruyama(l96, cfg.H, cfg.Diffusion, rnd)
	}
	return integrate.NewRK4(l96, cfg.H)
}

// GenerateTwin integrates the truth from a spun-up attractor state and
// observes it through the alternating operator with additive Gaussian
// noise. The generated observations cover cfg.Cycles observation times
// plus the lag overhang a smoother needs to fill its final window.
func GenerateTwin(cfg *Config, rnd *rand.Rand) (*Twin, error) {
	op, err := obsop.New(cfg.StateDim, cfg.ObsDim, cfg.GammaValue())
	if err != nil {
		return nil, err
	}

	r := matutil.NewUniform(cfg.ObsNoise, cfg.ObsDim)
	obsNoise, err := noise.NewZeroMean(r, rnd)
	if err != nil {
		return nil, err
	}

	step := newStepper(cfg, rnd)

	// spin onto the attractor from a perturbed rest state
	x := mat.NewVecDense(cfg.StateDim, nil)
	for i := 0; i < cfg.StateDim; i++ {
		x.SetVec(i, cfg.F+rnd.NormFloat64())
	}
	spinSteps := int(cfg.SpinTime / cfg.H)
	for s := 0; s < spinSteps; s++ {
		step.Step(x, 0)
	}

	nObs := cfg.Cycles + cfg.Lag + cfg.Shift
	fSteps := cfg.FSteps()

	init := mat.NewVecDense(cfg.StateDim, nil)
	init.CopyVec(x)

	truth := mat.NewDense(cfg.StateDim, nObs, nil)
	obs := mat.NewDense(cfg.ObsDim, nObs, nil)
	for t := 0; t < nObs; t++ {
		for s := 0; s < fSteps; s++ {
			step.Step(x, 0)
		}
		truth.SetCol(t, x.RawVector().Data)

		y := op.ObserveVec(x)
		y.AddVec(y, obsNoise.Sample())
		obs.SetCol(t, y.RawVector().Data)
	}

	return &Twin{Init: init, Truth: truth, Obs: obs, R: r}, nil
}

// InitialEnsemble draws the starting ensemble around the truth initial
// state with identity covariance, appending forcing parameter samples
// when parameter estimation is active.
func InitialEnsemble(cfg *Config, tw *Twin, rnd *rand.Rand) (*mat.Dense, error) {
	prior := matutil.NewUniform(1.0, cfg.StateDim)
	e, err := noise.EnsembleDraw(tw.Init, prior, cfg.NEns, rnd)
	if err != nil {
		return nil, err
	}

	if !cfg.ParamEst {
		return e, nil
	}

	full := mat.NewDense(cfg.StateDim+1, cfg.NEns, nil)
	for i := 0; i < cfg.StateDim; i++ {
		for j := 0; j < cfg.NEns; j++ {
			full.Set(i, j, e.At(i, j))
		}
	}
	for j := 0; j < cfg.NEns; j++ {
		full.Set(cfg.StateDim, j, cfg.F*(1.0+cfg.ParamErr*rnd.NormFloat64()))
	}
	return full, nil
}
