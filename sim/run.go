package sim

import (
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"

	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/cycle"
	"github.com/sukhreens/DataAssimilationBenchmarks/ensemble"
	"github.com/sukhreens/DataAssimilationBenchmarks/estimate"
	"github.com/sukhreens/DataAssimilationBenchmarks/method"
	"github.com/sukhreens/DataAssimilationBenchmarks/obsop"
	"github.com/sukhreens/DataAssimilationBenchmarks/smooth"
	"gonum.org/v1/gonum/mat"
)

// Result is the persisted artifact of one configuration.
type Result struct {
	// Name is the parameter-embedding artifact key
	Name string `json:"name"`
	// Config echoes the full configuration
	Config Config `json:"config"`

	Fore *estimate.Series `json:"fore"`
	Filt *estimate.Series `json:"filt"`
	// Post is recorded by the smoother experiments only
	Post *estimate.Series `json:"post,omitempty"`
	// Param is recorded when parameter estimation is active
	Param *estimate.Series `json:"param,omitempty"`

	// Iterations is the total inner-iteration count of the iterative
	// kernels; CapHits counts cycles stopped on the iteration cap
	Iterations int `json:"iterations"`
	CapHits    int `json:"cap_hits"`
}

// Run executes one configuration: a filter experiment when no window is
// configured, a smoother experiment otherwise.
func Run(cfg Config) (*Result, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Lag == 0 {
		return runFilter(cfg)
	}
	return runSmoother(cfg)
}

func (c *Config) cycleConfig(m method.Method, op *obsop.Operator, rnd *rand.Rand) *cycle.Config {
	return &cycle.Config{
		Method:    m,
		Op:        op,
		Step:      newStepper(c, rnd),
		FSteps:    c.FSteps(),
		StateDim:  c.StateDim,
		StateInfl: c.StateInfl,
		ParamInfl: c.ParamInfl,
		ParamWlk:  c.ParamWlk,
		Rand:      rnd,
	}
}

func newResult(cfg Config) *Result {
	res := &Result{
		Name:   cfg.Name(),
		Config: cfg,
		Fore:   estimate.NewSeries(cfg.Cycles),
		Filt:   estimate.NewSeries(cfg.Cycles),
	}
	if cfg.Lag > 0 {
		res.Post = estimate.NewSeries(cfg.Cycles)
	}
	if cfg.ParamEst {
		res.Param = estimate.NewSeries(cfg.Cycles)
	}
	return res
}

// record appends RMSE/spread of e against the truth at observation time
// t into s, guarding the overhang beyond the generated trajectory.
func record(s *estimate.Series, e *mat.Dense, tw *Twin, t int) {
	_, nObs := tw.Truth.Dims()
	if t < 1 || t > nObs {
		return
	}
	rows, _ := e.Dims()
	stateDim := tw.Init.Len()
	if rows > stateDim {
		rows = stateDim
	}
	rmse, spread := ensemble.RMSD(e, tw.TruthVec(t), 0, rows)
	s.Append(rmse, spread)
}

func recordParam(res *Result, e *mat.Dense, f float64, stateDim int) {
	if res.Param == nil {
		return
	}
	rows, _ := e.Dims()
	if rows <= stateDim {
		return
	}
	truth := mat.NewVecDense(rows, nil)
	truth.SetVec(stateDim, f)
	rmse, spread := ensemble.RMSD(e, truth, stateDim, rows)
	res.Param.Append(rmse, spread)
}

// diverged guards the cycle loop against numerical blow-up.
func diverged(e *mat.Dense) bool {
	rows, cols := e.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := e.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > 1e8 {
				return true
			}
		}
	}
	return false
}

func runFilter(cfg Config) (*Result, error) {
	rnd := cfg.NewRand()

	tw, err := GenerateTwin(&cfg, rnd)
	if err != nil {
		return nil, err
	}

	m, err := method.Parse(cfg.Method)
	if err != nil {
		return nil, err
	}
	op, err := obsop.New(cfg.StateDim, cfg.ObsDim, cfg.GammaValue())
	if err != nil {
		return nil, err
	}

	e, err := InitialEnsemble(&cfg, tw, rnd)
	if err != nil {
		return nil, err
	}

	ccfg := cfg.cycleConfig(m, op, rnd)
	if err := ccfg.Validate(e); err != nil {
		return nil, err
	}

	res := newResult(cfg)
	for t := 1; t <= cfg.Cycles; t++ {
		cycle.Propagate(e, ccfg, 0)
		record(res.Fore, e, tw, t)

		stats, err := cycle.Analyze(e, tw.ObsVec(t), tw.R, ccfg)
		if err != nil {
			return nil, err
		}
		res.Iterations += stats.Iterations
		if stats.HitCap {
			res.CapHits++
		}

		record(res.Filt, e, tw, t)
		recordParam(res, e, cfg.F, cfg.StateDim)

		if diverged(e) {
			return nil, da.Numericf("cycle", "ensemble diverged at cycle %d", t)
		}
	}

	return res, nil
}

func runSmoother(cfg Config) (*Result, error) {
	rnd := cfg.NewRand()

	tw, err := GenerateTwin(&cfg, rnd)
	if err != nil {
		return nil, err
	}

	m, err := method.Parse(cfg.Method)
	if err != nil {
		return nil, err
	}
	op, err := obsop.New(cfg.StateDim, cfg.ObsDim, cfg.GammaValue())
	if err != nil {
		return nil, err
	}

	e, err := InitialEnsemble(&cfg, tw, rnd)
	if err != nil {
		return nil, err
	}

	ccfg := cfg.cycleConfig(m, op, rnd)

	scfg := &smooth.Config{
		Config: *ccfg,
		Lag:    cfg.Lag,
		Shift:  cfg.Shift,
		MDA:    cfg.MDA,
	}
	if cfg.MDA {
		scfg.ObsWeights, scfg.RebWeights = MDAWeights(cfg.Lag, cfg.Shift)
	}
	if err := scfg.Validate(e); err != nil {
		return nil, err
	}

	res := newResult(cfg)

	var runErr error
	switch m.Family {
	case method.IEnKS:
		runErr = runIEnKS(cfg, scfg, tw, e, res)
	case method.EnKF, method.ETKF, method.MLEF, method.EnKFNDual, method.EnKFNPrimal:
		if useClassic(cfg) {
			runErr = runClassic(cfg, scfg, tw, e, res)
		} else {
			runErr = runSingleIteration(cfg, scfg, tw, e, res)
		}
	default:
		runErr = da.Configf("unknown analysis family for smoothing: %v", m.Family)
	}
	if runErr != nil {
		return nil, runErr
	}
	return res, nil
}

// MDAWeights returns the uniform tempering weights and the rebalancing
// weights for a lag/shift window. Every observation passes through
// lag/shift windows and receives 1/stages of its information per pass;
// the rebalancing weight of a window position tops the accumulated
// information up to one for the stage-0 filter diagnostics.
func MDAWeights(lag, shift int) (obsWeights, rebWeights []float64) {
	stages := lag / shift
	obsWeights = make([]float64, lag)
	rebWeights = make([]float64, lag)
	for l := 0; l < lag; l++ {
		obsWeights[l] = float64(stages)
		prev := (lag - 1 - l) / shift
		rebWeights[l] = float64(stages) / float64(stages-prev)
	}
	return obsWeights, rebWeights
}

// useClassic selects the classical smoother for the stochastic and
// transform filter families; MDA experiments require the
// single-iteration driver.
func useClassic(cfg Config) bool {
	return !cfg.MDA
}

func runClassic(cfg Config, scfg *smooth.Config, tw *Twin, e *mat.Dense, res *Result) error {
	posterior := smooth.NewBuffer(cfg.Lag+cfg.Shift, e)

	obsTime := 0
	pushes := 0
	for obsTime+cfg.Shift <= cfg.Cycles {
		obs := make([]mat.Vector, cfg.Shift)
		for l := 0; l < cfg.Shift; l++ {
			obs[l] = tw.ObsVec(obsTime + l + 1)
		}

		out, err := smooth.Classic(e, obs, tw.R, posterior, scfg)
		if err != nil {
			return err
		}
		res.Iterations += out.Stats.Iterations
		if out.Stats.HitCap {
			res.CapHits++
		}

		for l := 0; l < cfg.Shift; l++ {
			t := obsTime + l + 1
			record(res.Fore, out.Fore[l], tw, t)
			record(res.Filt, out.Filt[l], tw, t)

			pushes++
			if evicted := pushes - (cfg.Lag + cfg.Shift); evicted >= 1 {
				record(res.Post, out.Post[l], tw, evicted)
			}
		}
		recordParam(res, e, cfg.F, cfg.StateDim)

		if diverged(e) {
			return da.Numericf("cycle", "ensemble diverged at observation %d", obsTime)
		}
		obsTime += cfg.Shift
	}

	return nil
}

func runSingleIteration(cfg Config, scfg *smooth.Config, tw *Twin, e *mat.Dense, res *Result) error {
	start := 0
	first := true
	for start+cfg.Lag <= cfg.Cycles {
		scfg.Spin = first

		obs := make([]mat.Vector, cfg.Lag)
		for l := 0; l < cfg.Lag; l++ {
			obs[l] = tw.ObsVec(start + l + 1)
		}

		out, err := smooth.SingleIteration(e, obs, tw.R, scfg)
		if err != nil {
			return err
		}
		res.Iterations += out.Stats.Iterations
		if out.Stats.HitCap {
			res.CapHits++
		}

		diagStart := start + cfg.Lag - cfg.Shift
		if scfg.Spin {
			diagStart = start
		}
		for l, f := range out.Fore {
			record(res.Fore, f, tw, diagStart+l+1)
		}
		for l, f := range out.Filt {
			record(res.Filt, f, tw, diagStart+l+1)
		}
		for l, p := range out.Post {
			record(res.Post, p, tw, start+l+1)
		}
		recordParam(res, e, cfg.F, cfg.StateDim)

		e.Copy(out.Ens)
		if diverged(e) {
			return da.Numericf("cycle", "ensemble diverged at observation %d", start)
		}
		start += cfg.Shift
		first = false
	}

	return nil
}

func runIEnKS(cfg Config, scfg *smooth.Config, tw *Twin, e *mat.Dense, res *Result) error {
	start := 0
	first := true
	for start+cfg.Lag <= cfg.Cycles {
		scfg.Spin = first

		obs := make([]mat.Vector, cfg.Lag)
		for l := 0; l < cfg.Lag; l++ {
			obs[l] = tw.ObsVec(start + l + 1)
		}

		out, err := smooth.GaussNewton(e, obs, tw.R, scfg)
		if err != nil {
			return err
		}
		res.Iterations += out.Stats.Iterations
		if out.Stats.HitCap {
			res.CapHits++
		}

		for l, f := range out.Filt {
			record(res.Filt, f, tw, start+cfg.Lag-cfg.Shift+l+1)
		}
		for l, f := range out.Fore {
			record(res.Fore, f, tw, start+cfg.Lag+l+1)
		}
		for l, p := range out.Post {
			record(res.Post, p, tw, start+l+1)
		}
		recordParam(res, e, cfg.F, cfg.StateDim)

		e.Copy(out.Ens)
		if diverged(e) {
			return da.Numericf("cycle", "ensemble diverged at observation %d", start)
		}
		start += cfg.Shift
		first = false
	}

	return nil
}

// SweepOutcome pairs one configuration with its result or failure.
type SweepOutcome struct {
	Config Config
	Result *Result
	Err    error
}

// RunSweep fans the configurations out over workers parallel workers.
// Each experiment owns its ensemble, buffers and random stream;
// failures are logged and recorded without disturbing the remaining
// configurations.
func RunSweep(configs []Config, workers int, logger *zap.Logger) []SweepOutcome {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	outcomes := make([]SweepOutcome, len(configs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				cfg := configs[i]
				res, err := Run(cfg)
				outcomes[i] = SweepOutcome{Config: cfg, Result: res, Err: err}
				if err != nil {
					logger.Warn("experiment failed",
						zap.String("name", cfg.Name()),
						zap.Error(err),
					)
					continue
				}
				fr, _, _ := res.Filt.Mean(res.Config.Burn)
				logger.Info("experiment complete",
					zap.String("name", res.Name),
					zap.Float64("filt_rmse", fr),
					zap.Int("iterations", res.Iterations),
				)
			}
		}()
	}

	for i := range configs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}
