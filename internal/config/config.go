package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Optimization is the versioned solver configuration record. It is passed
// explicitly through every call; there is no process-wide mutable copy.
type Optimization struct {
	Objective      string             `yaml:"objective" json:"objective"`
	Weights        map[string]float64 `yaml:"weights" json:"weights"`
	Algorithm      string             `yaml:"algorithm" json:"algorithm"`
	MaxTimeSeconds int                `yaml:"max_time_seconds" json:"maxTimeSeconds"`
	SpeedKph       float64            `yaml:"speed_kph" json:"speedKph"`
	MaxLateMinutes float64            `yaml:"max_late_minutes" json:"maxLateMinutes"`
}

// RankWeights are the combination weights for the five ranker sub-scores.
type RankWeights struct {
	Distance   float64 `yaml:"distance" json:"distance"`
	Rotation   float64 `yaml:"rotation" json:"rotation"`
	TimeWindow float64 `yaml:"time_window" json:"timeWindow"`
	Preference float64 `yaml:"preference" json:"preference"`
	Voltage    float64 `yaml:"voltage" json:"voltage"`
}

// RankTuning holds the normalization knobs. The sub-score curves are tunable
// parameters validated empirically, not fixed contracts.
type RankTuning struct {
	MaxRadiusKm     float64 `yaml:"max_radius_km" json:"maxRadiusKm"`         // distance saturates here
	RotationSat     int     `yaml:"rotation_saturation" json:"rotationSat"`   // assignments at which fairness bottoms out
	MaxSlackMinutes float64 `yaml:"max_slack_minutes" json:"maxSlackMinutes"` // slack saturates here
	DegradedVoltage float64 `yaml:"degraded_voltage" json:"degradedVoltage"`  // sub-score when sensor health is degraded
}

// Coordinator holds re-dispatch trigger thresholds and loop cadence.
type Coordinator struct {
	Tick            time.Duration `yaml:"tick" json:"tick"`
	DelayThreshold  time.Duration `yaml:"delay_threshold" json:"delayThreshold"`
	SavingsPercent  float64       `yaml:"savings_percent" json:"savingsPercent"`
	WhatIfPerMinute float64       `yaml:"what_if_per_minute" json:"whatIfPerMinute"`
	SolveWorkers    int           `yaml:"solve_workers" json:"solveWorkers"`
}

// Config is the full engine configuration, loadable from one YAML file.
type Config struct {
	Optimization Optimization `yaml:"optimization" json:"optimization"`
	RankWeights  RankWeights  `yaml:"rank_weights" json:"rankWeights"`
	RankTuning   RankTuning   `yaml:"rank_tuning" json:"rankTuning"`
	Coordinator  Coordinator  `yaml:"coordinator" json:"coordinator"`
}

// Default returns the shipped configuration.
func Default() Config {
	return Config{
		Optimization: Optimization{
			Objective:      "minimize_distance",
			Weights:        map[string]float64{"distance": 1, "waiting": 0.2, "lateness": 2},
			Algorithm:      "local_search",
			MaxTimeSeconds: 10,
			SpeedKph:       50,
			MaxLateMinutes: 45,
		},
		RankWeights: RankWeights{Distance: 0.30, Rotation: 0.20, TimeWindow: 0.25, Preference: 0.20, Voltage: 0.05},
		RankTuning:  RankTuning{MaxRadiusKm: 50, RotationSat: 10, MaxSlackMinutes: 240, DegradedVoltage: 0.4},
		Coordinator: Coordinator{
			Tick:            60 * time.Second,
			DelayThreshold:  30 * time.Minute,
			SavingsPercent:  15,
			WhatIfPerMinute: 1,
			SolveWorkers:    2,
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected so a
// typoed threshold fails loudly instead of silently using the default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	w := c.RankWeights
	for name, v := range map[string]float64{
		"distance": w.Distance, "rotation": w.Rotation, "time_window": w.TimeWindow,
		"preference": w.Preference, "voltage": w.Voltage,
	} {
		if v < 0 {
			return fmt.Errorf("rank weight %s must be >= 0", name)
		}
	}
	if c.Optimization.MaxTimeSeconds < 0 {
		return fmt.Errorf("max_time_seconds must be >= 0")
	}
	for k, v := range c.Optimization.Weights {
		if v < 0 {
			return fmt.Errorf("objective weight %s must be >= 0", k)
		}
	}
	if c.Coordinator.SavingsPercent < 0 || c.Coordinator.SavingsPercent > 100 {
		return fmt.Errorf("savings_percent must be in [0,100]")
	}
	return nil
}

// TimeBudget returns the solver budget as a duration.
func (o Optimization) TimeBudget() time.Duration {
	if o.MaxTimeSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(o.MaxTimeSeconds) * time.Second
}
