// Package config loads the explicit runtime configuration. Every
// recognized option is a struct field; there is no dynamic key space.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sleipnir/internal/algo"
	"sleipnir/internal/compliance"
	"sleipnir/internal/dispatch"
	"sleipnir/internal/router"
)

// Duration parses "250ms" / "5m" style YAML scalars.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type VenueConfig struct {
	Name     string   `yaml:"name"`
	Latency  Duration `yaml:"latency"`
	DarkPool bool     `yaml:"dark_pool"`
}

type RouterConfig struct {
	Strategy        router.Strategy `yaml:"strategy"`
	MaxVenueLatency Duration        `yaml:"max_venue_latency"`
	EnableDarkPools bool            `yaml:"enable_dark_pools"`
	Aggressiveness  float64         `yaml:"aggressiveness"`
	MaxSplits       int             `yaml:"max_splits"`
}

type DispatchConfig struct {
	VenueTimeout Duration `yaml:"venue_timeout"`
	MaxParallel  int      `yaml:"max_parallel"`
}

type AlgoConfig struct {
	POVInterval       Duration `yaml:"pov_interval"`
	SlippageWeight    float64  `yaml:"slippage_weight"`
	ScheduleTolerance float64  `yaml:"schedule_tolerance"`
}

type Config struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Store struct {
		// Driver is "sqlite" or "memory".
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"store"`
	Venues     []VenueConfig         `yaml:"venues"`
	Router     RouterConfig          `yaml:"router"`
	Dispatch   DispatchConfig        `yaml:"dispatch"`
	Algo       AlgoConfig            `yaml:"algo"`
	Compliance compliance.RuleConfig `yaml:"compliance"`
}

func Default() Config {
	var cfg Config
	cfg.Log.Level = "info"
	cfg.Store.Driver = "memory"
	cfg.Router.Strategy = router.StrategyBestPrice
	cfg.Router.Aggressiveness = 1
	cfg.Dispatch.VenueTimeout = Duration(2 * time.Second)
	cfg.Dispatch.MaxParallel = 8
	cfg.Algo.POVInterval = Duration(5 * time.Second)
	cfg.Algo.SlippageWeight = 1
	cfg.Algo.ScheduleTolerance = 0.1
	return cfg
}

// Load reads path over the defaults. A missing file is an error; callers
// wanting defaults only should use Default directly.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// RouterConfig materializes the routing config with the venue list drawn
// from the configured venues.
func (c Config) RouterConfig() router.Config {
	out := router.Config{
		Strategy:        c.Router.Strategy,
		MaxVenueLatency: c.Router.MaxVenueLatency.Std(),
		EnableDarkPools: c.Router.EnableDarkPools,
		Aggressiveness:  c.Router.Aggressiveness,
		MaxSplits:       c.Router.MaxSplits,
	}
	for _, v := range c.Venues {
		out.Venues = append(out.Venues, v.Name)
	}
	return out
}

func (c Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		VenueTimeout: c.Dispatch.VenueTimeout.Std(),
		MaxParallel:  c.Dispatch.MaxParallel,
	}
}

func (c Config) AlgoConfig() algo.Config {
	return algo.Config{
		POVInterval:       c.Algo.POVInterval.Std(),
		SlippageWeight:    c.Algo.SlippageWeight,
		ScheduleTolerance: c.Algo.ScheduleTolerance,
	}
}
