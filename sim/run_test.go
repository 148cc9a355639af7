package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func gammaOf(v float64) *float64 {
	return &v
}

func l96Config(method string) Config {
	cfg := Config{
		Method:    method,
		Seed:      0,
		StateDim:  40,
		ObsDim:    40,
		ObsNoise:  1.0,
		NEns:      21,
		StateInfl: 1.02,
		F:         8.0,
		H:         0.01,
		TanL:      0.05,
		Cycles:    100,
		Burn:      20,
	}
	cfg.Defaults()
	return cfg
}

func TestETKFFilterBeatsObservationNoise(t *testing.T) {
	assert := assert.New(t)

	res, err := Run(l96Config("etkf"))
	assert.NoError(err)

	rmse, spread, err := res.Filt.Mean(res.Config.Burn)
	assert.NoError(err)
	assert.Less(rmse, 0.35)
	assert.Greater(rmse, 0.0)
	assert.False(math.IsNaN(spread))

	// the forecast cannot beat the analysis on average
	foreRMSE, _, err := res.Fore.Mean(res.Config.Burn)
	assert.NoError(err)
	assert.Greater(foreRMSE, rmse)
}

func TestClassicSmootherImprovesOnFilter(t *testing.T) {
	assert := assert.New(t)

	filtRes, err := Run(l96Config("etkf"))
	assert.NoError(err)
	filtRMSE, _, err := filtRes.Filt.Mean(filtRes.Config.Burn)
	assert.NoError(err)

	cfg := l96Config("etks")
	cfg.Lag = 10
	cfg.Shift = 1
	smRes, err := Run(cfg)
	assert.NoError(err)

	postRMSE, _, err := smRes.Post.Mean(cfg.Burn)
	assert.NoError(err)
	assert.Less(postRMSE, 0.9*filtRMSE)
}

func TestMLEFNonlinearObservations(t *testing.T) {
	assert := assert.New(t)

	cfg := l96Config("mlef-ls-transform")
	cfg.Gamma = gammaOf(3.0)
	res, err := Run(cfg)
	assert.NoError(err)

	rmse, _, err := res.Filt.Mean(cfg.Burn)
	assert.NoError(err)
	assert.False(math.IsNaN(rmse))
	assert.Less(rmse, 1.0)

	// the inner Newton loop converges within 10 iterations on the
	// overwhelming majority of cycles
	assert.LessOrEqual(res.Iterations, 10*cfg.Cycles)
	assert.LessOrEqual(res.CapHits, cfg.Cycles/10)
}

func TestEnKFNDualBorderlineEnsemble(t *testing.T) {
	assert := assert.New(t)

	cfg := l96Config("enkf-n-dual")
	cfg.NEns = 15
	cfg.StateInfl = 1.0
	res, err := Run(cfg)
	assert.NoError(err)

	rmse, spread, err := res.Filt.Mean(cfg.Burn)
	assert.NoError(err)
	assert.False(math.IsNaN(rmse))
	assert.False(math.IsInf(rmse, 0))
	assert.False(math.IsNaN(spread))
}

func TestIEnKSMDA(t *testing.T) {
	assert := assert.New(t)

	cfg := l96Config("ienks-transform")
	cfg.Lag = 9
	cfg.Shift = 3
	cfg.MDA = true
	cfg.Cycles = 60
	cfg.Burn = 10
	res, err := Run(cfg)
	assert.NoError(err)

	filtRMSE, _, err := res.Filt.Mean(cfg.Burn)
	assert.NoError(err)
	assert.False(math.IsNaN(filtRMSE))

	postRMSE, _, err := res.Post.Mean(cfg.Burn)
	assert.NoError(err)
	assert.False(math.IsNaN(postRMSE))

	// two optimization stages of at most five iterations per cycle
	cycles := (cfg.Cycles-cfg.Lag)/cfg.Shift + 1
	assert.LessOrEqual(res.Iterations, 10*cycles)
}

func TestSingleIterationSmootherMDA(t *testing.T) {
	assert := assert.New(t)

	cfg := l96Config("etks")
	cfg.Lag = 4
	cfg.Shift = 2
	cfg.MDA = true
	cfg.Cycles = 60
	cfg.Burn = 10
	res, err := Run(cfg)
	assert.NoError(err)

	postRMSE, _, err := res.Post.Mean(cfg.Burn)
	assert.NoError(err)
	assert.False(math.IsNaN(postRMSE))
}

func TestParameterEstimationConverges(t *testing.T) {
	assert := assert.New(t)

	cfg := l96Config("etkf")
	cfg.NEns = 25
	cfg.Cycles = 1000
	cfg.Burn = 100
	cfg.ParamEst = true
	cfg.ParamErr = 0.03
	cfg.ParamWlk = 0.001
	cfg.ParamInfl = 1.0
	res, err := Run(cfg)
	assert.NoError(err)
	assert.NotNil(res.Param)

	n := res.Param.Len()
	assert.Greater(n, 300)

	early := mean(res.Param.RMSE[:100])
	late := mean(res.Param.RMSE[n-100:])
	assert.Less(late, early)
}

func TestRunSweep(t *testing.T) {
	assert := assert.New(t)

	good := l96Config("etkf")
	good.Cycles = 20
	good.Burn = 5

	bad := good
	bad.Method = "etkf"
	bad.ObsDim = 50

	outcomes := RunSweep([]Config{good, bad}, 2, zap.NewNop())
	assert.Len(outcomes, 2)
	assert.NoError(outcomes[0].Err)
	assert.NotNil(outcomes[0].Result)
	assert.Error(outcomes[1].Err)
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
