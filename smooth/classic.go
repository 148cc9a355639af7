package smooth

import (
	da "github.com/sukhreens/DataAssimilationBenchmarks"
	"github.com/sukhreens/DataAssimilationBenchmarks/analysis"
	"github.com/sukhreens/DataAssimilationBenchmarks/cycle"
	"github.com/sukhreens/DataAssimilationBenchmarks/ensemble"
	"gonum.org/v1/gonum/mat"
)

// Config extends the filter driver configuration with the data
// assimilation window geometry.
type Config struct {
	cycle.Config
	// Lag is the window length in observation times
	Lag int
	// Shift is the number of observation times the window advances per
	// cycle; it must divide Lag when MDA is active
	Shift int
	// Spin treats the full window as newly observed (initial warm-up)
	Spin bool
	// MDA activates multiple data assimilation
	MDA bool
	// RebWeights are the rebalancing covariance weights, length Lag
	RebWeights []float64
	// ObsWeights are the MDA covariance weights, length Lag; for each
	// observation class (window positions equal modulo Shift) the
	// inverses must sum to one
	ObsWeights []float64
}

// Validate reports window configuration errors.
func (c *Config) Validate(e *mat.Dense) error {
	if err := c.Config.Validate(e); err != nil {
		return err
	}
	if c.Lag <= 0 || c.Shift <= 0 || c.Shift > c.Lag {
		return da.Configf("invalid window geometry lag=%d shift=%d", c.Lag, c.Shift)
	}
	if c.MDA {
		if c.Lag%c.Shift != 0 {
			return da.Configf("mda requires lag to be a multiple of shift, got lag=%d shift=%d", c.Lag, c.Shift)
		}
		if len(c.ObsWeights) != c.Lag || len(c.RebWeights) != c.Lag {
			return da.Configf("mda requires weight vectors of length lag=%d", c.Lag)
		}
		for _, w := range c.ObsWeights {
			if w <= 0 {
				return da.Configf("mda weights must be positive")
			}
		}
		// every observation passes through lag/shift windows; its
		// inverse weights across them must sum to one so the full
		// likelihood is applied exactly once
		stages := c.Lag / c.Shift
		for r := 0; r < c.Shift; r++ {
			var sum float64
			for g := 0; g < stages; g++ {
				sum += 1.0 / c.ObsWeights[r+g*c.Shift]
			}
			if d := sum - 1.0; d > 1e-8 || d < -1e-8 {
				return da.Configf("mda weight inverses for observation class %d sum to %g, want 1", r, sum)
			}
		}
	}
	return nil
}

// Result bundles the sub-ensembles produced by one smoother cycle.
type Result struct {
	// Ens is the ensemble at the current time after the cycle
	Ens *mat.Dense
	// Post holds the re-analyzed posterior slices leaving the window,
	// oldest first
	Post []*mat.Dense
	// Fore holds the forecast slices at the newly observed times
	Fore []*mat.Dense
	// Filt holds the filtered slices at the newly observed times
	Filt []*mat.Dense
	// Stats accumulates the analysis iteration counts of the cycle
	Stats da.Stats
}

// Classic runs one cycle of the classical lag-shift smoother over the
// next shift observations. Each new transform conditions the current
// ensemble and immediately re-analyzes every posterior slice still
// inside the window, strictly before the next observation is consumed.
// The posterior ring must have lag+shift slices.
func Classic(e *mat.Dense, obs []mat.Vector, r mat.Symmetric, posterior *Buffer, cfg *Config) (*Result, error) {
	if err := cfg.Validate(e); err != nil {
		return nil, err
	}
	if cfg.MDA {
		return nil, da.Configf("the classical smoother does not support mda")
	}
	if len(obs) != cfg.Shift {
		return nil, da.Configf("classic smoother consumes shift=%d observations per cycle, got %d", cfg.Shift, len(obs))
	}
	if posterior.Len() != cfg.Lag+cfg.Shift {
		return nil, da.Configf("posterior ring must hold lag+shift=%d slices, got %d", cfg.Lag+cfg.Shift, posterior.Len())
	}

	res := &Result{
		Post: make([]*mat.Dense, 0, cfg.Shift),
		Fore: make([]*mat.Dense, 0, cfg.Shift),
		Filt: make([]*mat.Dense, 0, cfg.Shift),
	}

	for l := 0; l < cfg.Shift; l++ {
		cycle.Propagate(e, &cfg.Config, 0)
		res.Fore = append(res.Fore, clone(e))

		tr, stats, err := analysis.Transform(cfg.Method, e, obs[l], r, cfg.Options(1))
		if err != nil {
			return nil, err
		}
		res.Stats.Iterations += stats.Iterations
		res.Stats.HitCap = res.Stats.HitCap || stats.HitCap

		if err := ensemble.Update(e, tr); err != nil {
			return nil, err
		}
		ensemble.InflateState(e, cfg.StateInfl, cfg.StateDim)
		if cfg.ParamEstimation(e) {
			ensemble.InflateParam(e, cfg.ParamInfl, cfg.StateDim)
			cycle.ParamWalk(e, &cfg.Config)
		}
		res.Filt = append(res.Filt, clone(e))

		// re-analysis: condition every posterior slice still inside the
		// lag window on the new observation through the same right
		// transform; the oldest shift slices have left the window and
		// are final
		var reErr error
		posterior.Do(func(i int, s *mat.Dense) {
			if i < cfg.Shift || reErr != nil {
				return
			}
			reErr = ensemble.Update(s, tr)
		})
		if reErr != nil {
			return nil, reErr
		}

		res.Post = append(res.Post, posterior.Push(e))
	}

	res.Ens = clone(e)
	return res, nil
}
