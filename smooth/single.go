package smooth

import (
	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/analysis"
	"github.com/sukhreens/DataAssimilationBenchmarks/cycle"
	"github.com/sukhreens/DataAssimilationBenchmarks/ensemble"
	"gonum.org/v1/gonum/mat"
)

// SingleIteration runs one cycle of the single-iteration smoother over
// the next lag observations. The running ensemble is filtered through
// the window while every transform is simultaneously applied to a copy
// of the initial ensemble; the re-analyzed initial condition is then
// propagated shift observation times into the next cycle.
//
// With MDA active the lag pass runs twice: the rebalancing pass
// produces the filter diagnostics, the MDA pass re-analyzes the initial
// condition.
func SingleIteration(e *mat.Dense, obs []mat.Vector, r mat.Symmetric, cfg *Config) (*Result, error) {
	if err := cfg.Validate(e); err != nil {
		return nil, err
	}
	if len(obs) != cfg.Lag {
		return nil, da.Configf("single-iteration smoother consumes lag=%d observations per cycle, got %d", cfg.Lag, len(obs))
	}

	diag := cfg.Shift
	if cfg.Spin {
		diag = cfg.Lag
	}

	res := &Result{
		Post: make([]*mat.Dense, 0, cfg.Shift),
		Fore: make([]*mat.Dense, 0, diag),
		Filt: make([]*mat.Dense, 0, diag),
	}

	e0 := clone(e)

	// pass traverses the window filtering run, re-analyzing init in
	// parallel when it is non-nil, recording diagnostics when record
	// is true
	pass := func(run, init *mat.Dense, weights []float64, record bool) error {
		for l := 0; l < cfg.Lag; l++ {
			cycle.Propagate(run, &cfg.Config, 0)
			recorded := cfg.Spin || l >= cfg.Lag-cfg.Shift
			if record && recorded {
				res.Fore = append(res.Fore, clone(run))
			}

			w := 1.0
			if weights != nil {
				w = weights[l]
			}
			tr, stats, err := analysis.Transform(cfg.Method, run, obs[l], r, cfg.Options(w))
			if err != nil {
				return err
			}
			res.Stats.Iterations += stats.Iterations
			res.Stats.HitCap = res.Stats.HitCap || stats.HitCap

			if err := ensemble.Update(run, tr); err != nil {
				return err
			}
			if init != nil {
				if err := ensemble.Update(init, tr); err != nil {
					return err
				}
			}
			if record && recorded {
				res.Filt = append(res.Filt, clone(run))
			}
		}
		return nil
	}

	if cfg.MDA {
		// rebalancing pass: filter diagnostics only
		if err := pass(clone(e0), nil, cfg.RebWeights, true); err != nil {
			return nil, err
		}
		// mda pass: advances the posterior
		if err := pass(clone(e0), e0, cfg.ObsWeights, false); err != nil {
			return nil, err
		}
	} else {
		if err := pass(e, e0, nil, true); err != nil {
			return nil, err
		}
	}

	// restart from the re-analyzed initial condition
	e.Copy(e0)
	ensemble.InflateState(e, cfg.StateInfl, cfg.StateDim)
	if cfg.ParamEstimation(e) {
		ensemble.InflateParam(e, cfg.ParamInfl, cfg.StateDim)
		cycle.ParamWalk(e, &cfg.Config)
	}

	for s := 0; s < cfg.Shift; s++ {
		cycle.Propagate(e, &cfg.Config, 0)
		res.Post = append(res.Post, clone(e))
	}

	res.Ens = clone(e)
	return res, nil
}
