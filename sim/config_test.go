package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsAndValidate(t *testing.T) {
	assert := assert.New(t)

	cfg := Config{Method: "etkf"}
	cfg.Defaults()
	assert.NoError(cfg.Validate())
	assert.Equal(40, cfg.StateDim)
	assert.Equal(40, cfg.ObsDim)
	assert.Equal(21, cfg.NEns)
	assert.Equal(5, cfg.FSteps())
}

func TestValidateRejects(t *testing.T) {
	assert := assert.New(t)

	bad := func(mut func(*Config)) error {
		cfg := Config{Method: "etkf"}
		cfg.Defaults()
		mut(&cfg)
		return cfg.Validate()
	}

	assert.Error(bad(func(c *Config) { c.Method = "nosuch" }))
	assert.Error(bad(func(c *Config) { c.ObsDim = 41 }))
	assert.Error(bad(func(c *Config) { c.NEns = 1 }))
	assert.Error(bad(func(c *Config) { c.ObsNoise = -1 }))
	assert.Error(bad(func(c *Config) { c.Lag = 4; c.Shift = 5 }))
	assert.Error(bad(func(c *Config) { c.Lag = 9; c.Shift = 2; c.MDA = true }))
	assert.Error(bad(func(c *Config) { c.Burn = c.Cycles }))
}

func TestNameEmbedsParameters(t *testing.T) {
	assert := assert.New(t)

	cfg := Config{Method: "ienks-transform", Lag: 9, Shift: 3, MDA: true}
	cfg.Defaults()

	name := cfg.Name()
	assert.Contains(name, "ienks-transform")
	assert.Contains(name, "lag-09")
	assert.Contains(name, "shift-03")
	assert.Contains(name, "mda-true")
	assert.Contains(name, "nens-21")

	// distinct configurations must not collide
	other := cfg
	other.NEns = 25
	assert.NotEqual(name, other.Name())
}

func TestNewRandDeterministic(t *testing.T) {
	assert := assert.New(t)

	cfg := Config{Method: "etkf", Seed: 3}
	cfg.Defaults()

	a := cfg.NewRand().Uint64()
	b := cfg.NewRand().Uint64()
	assert.Equal(a, b)

	other := cfg
	other.Seed = 4
	assert.NotEqual(a, other.NewRand().Uint64())
}

func TestMDAWeightsConserveInformation(t *testing.T) {
	assert := assert.New(t)

	for _, geom := range [][2]int{{9, 3}, {4, 2}, {10, 5}, {6, 1}} {
		lag, shift := geom[0], geom[1]
		obsW, rebW := MDAWeights(lag, shift)
		assert.Len(obsW, lag)
		assert.Len(rebW, lag)

		// each observation class applies the full likelihood exactly
		// once across its windows
		stages := lag / shift
		for r := 0; r < shift; r++ {
			var sum float64
			for g := 0; g < stages; g++ {
				sum += 1.0 / obsW[r+g*shift]
			}
			assert.InDelta(1.0, sum, 1e-12)
		}

		// the newest block is assimilated at full weight in the
		// rebalancing pass
		assert.InDelta(1.0, rebW[lag-1], 1e-12)
	}
}

func TestLoadConfigs(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "exp.yaml")
	doc := `
experiments:
  - method: etkf
    n_ens: 21
    state_infl: 1.02
  - method: etks
    lag: 10
    shift: 1
    n_ens: 21
`
	assert.NoError(os.WriteFile(path, []byte(doc), 0o644))

	configs, err := LoadConfigs(path)
	assert.NoError(err)
	assert.Len(configs, 2)
	assert.Equal("etkf", configs[0].Method)
	assert.Equal(10, configs[1].Lag)
	assert.Equal(40, configs[1].StateDim)

	// single-document form
	single := filepath.Join(dir, "one.yaml")
	assert.NoError(os.WriteFile(single, []byte("method: enkf-n-dual\nn_ens: 15\n"), 0o644))
	configs, err = LoadConfigs(single)
	assert.NoError(err)
	assert.Len(configs, 1)
	assert.Equal("enkf-n-dual", configs[0].Method)

	// unknown method is rejected at load
	badPath := filepath.Join(dir, "bad.yaml")
	assert.NoError(os.WriteFile(badPath, []byte("method: nosuch\n"), 0o644))
	_, err = LoadConfigs(badPath)
	assert.Error(err)
}
