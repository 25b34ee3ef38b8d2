// Package config loads and saves YAML scenario files for the mpcopt CLI and
// assembles the model and constraint set a scenario describes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/san-kum/mpcopt/internal/constraint"
	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/series"
	"github.com/san-kum/mpcopt/internal/units"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDt       = 600.0
	DefaultHours    = 24.0
	DefaultHeatcap  = 3e6
	DefaultUA       = 200.0
	DefaultInitTemp = 293.15
	DefaultAmbient  = 278.15
	DefaultHeatMax  = 5000.0
	DefaultPrice    = 0.12
	DefaultComfLow  = 283.15
	DefaultComfHigh = 303.15
)

type Config struct {
	Problem   string  `yaml:"problem"`
	Backend   string  `yaml:"backend"`
	Objective string  `yaml:"objective"`
	Start     string  `yaml:"start"`
	Hours     float64 `yaml:"hours"`
	Dt        float64 `yaml:"dt"`

	Zone     ZoneConfig     `yaml:"zone"`
	Ambient  float64        `yaml:"ambient"`
	Heat     HeatConfig     `yaml:"heat"`
	Price    float64        `yaml:"price"`
	Comfort  ComfortConfig  `yaml:"comfort"`
	Estimate EstimateConfig `yaml:"estimate"`
	Penalty  PenaltyConfig  `yaml:"penalty"`
}

type ZoneConfig struct {
	Heatcap  float64 `yaml:"heatcap"`
	UA       float64 `yaml:"ua"`
	InitTemp float64 `yaml:"init_temp"`
}

type HeatConfig struct {
	Nominal float64 `yaml:"nominal"`
	Max     float64 `yaml:"max"`
}

type ComfortConfig struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

type EstimateConfig struct {
	TrueHeatcap float64 `yaml:"true_heatcap"`
	Min         float64 `yaml:"min"`
	Max         float64 `yaml:"max"`
}

type PenaltyConfig struct {
	Budget     int    `yaml:"budget"`
	Algorithm  string `yaml:"algorithm"`
	Population int    `yaml:"population"`
	Seed       int64  `yaml:"seed"`
}

func DefaultConfig() *Config {
	return &Config{
		Problem:   "energy_min",
		Backend:   "collocation",
		Objective: "q_flow",
		Start:     "2024-01-01T00:00:00Z",
		Hours:     DefaultHours,
		Dt:        DefaultDt,
		Zone: ZoneConfig{
			Heatcap:  DefaultHeatcap,
			UA:       DefaultUA,
			InitTemp: DefaultInitTemp,
		},
		Ambient: DefaultAmbient,
		Heat: HeatConfig{
			Nominal: 0,
			Max:     DefaultHeatMax,
		},
		Price: DefaultPrice,
		Comfort: ComfortConfig{
			Low:  DefaultComfLow,
			High: DefaultComfHigh,
		},
		Estimate: EstimateConfig{
			TrueHeatcap: 2e6,
			Min:         1e5,
			Max:         1e7,
		},
		Penalty: PenaltyConfig{
			Budget:     5,
			Algorithm:  "mayfly",
			Population: 20,
			Seed:       1,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Window parses the scenario horizon.
func (c *Config) Window() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: bad start time: %w", err)
	}
	if c.Hours <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("config: hours must be positive, got %g", c.Hours)
	}
	return start, start.Add(time.Duration(c.Hours * float64(time.Hour))), nil
}

// Model assembles the RC zone with nominal heat and ambient trajectories
// covering the scenario horizon.
func (c *Config) Model() (*model.Model, error) {
	start, final, err := c.Window()
	if err != nil {
		return nil, err
	}
	m := model.NewRCModel(c.Zone.Heatcap, c.Zone.UA, c.Zone.InitTemp, c.Dt)
	if err := m.SetControl("q_flow", series.Constant("q_flow", units.Watt, start, final, c.Heat.Nominal)); err != nil {
		return nil, err
	}
	if err := m.SetExogenous("weaTDryBul", series.Constant("weaTDryBul", units.Kelvin, start, final, c.Ambient)); err != nil {
		return nil, err
	}
	return m, nil
}

// Constraints builds comfort bounds on T_db and actuator bounds on q_flow.
func (c *Config) Constraints() (constraint.Set, error) {
	set := constraint.Set{}
	if err := set.Add("T_db", constraint.LowerBound, constraint.Literal(c.Comfort.Low)); err != nil {
		return nil, err
	}
	if err := set.Add("T_db", constraint.UpperBound, constraint.Literal(c.Comfort.High)); err != nil {
		return nil, err
	}
	if err := set.Add("q_flow", constraint.LowerBound, constraint.Literal(0)); err != nil {
		return nil, err
	}
	if err := set.Add("q_flow", constraint.UpperBound, constraint.Literal(c.Heat.Max)); err != nil {
		return nil, err
	}
	return set, nil
}
