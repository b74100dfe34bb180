package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("shipped defaults must validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
optimization:
  max_time_seconds: 3
  speed_kph: 35
coordinator:
  tick: 30s
  savings_percent: 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Optimization.MaxTimeSeconds != 3 || cfg.Optimization.SpeedKph != 35 {
		t.Fatalf("optimization overrides not applied: %+v", cfg.Optimization)
	}
	if cfg.Coordinator.Tick != 30*time.Second || cfg.Coordinator.SavingsPercent != 20 {
		t.Fatalf("coordinator overrides not applied: %+v", cfg.Coordinator)
	}
	// Untouched sections keep their defaults.
	if cfg.RankWeights != Default().RankWeights {
		t.Fatalf("rank weights should stay at defaults, got %+v", cfg.RankWeights)
	}
	if cfg.Optimization.MaxLateMinutes != 45 {
		t.Fatalf("max_late_minutes default lost: %v", cfg.Optimization.MaxLateMinutes)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `
coordinator:
  savings_pct: 20
`)
	if _, err := Load(path); err == nil {
		t.Fatal("typoed key must fail loudly, got nil error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"negative rank weight":      func(c *Config) { c.RankWeights.Voltage = -0.1 },
		"negative objective weight": func(c *Config) { c.Optimization.Weights["lateness"] = -1 },
		"negative solve budget":     func(c *Config) { c.Optimization.MaxTimeSeconds = -5 },
		"savings over 100":          func(c *Config) { c.Coordinator.SavingsPercent = 120 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: want validation error, got nil", name)
		}
	}
}

func TestTimeBudgetDefault(t *testing.T) {
	o := Optimization{MaxTimeSeconds: 0}
	if got := o.TimeBudget(); got != 10*time.Second {
		t.Fatalf("zero budget should default to 10s, got %v", got)
	}
	o.MaxTimeSeconds = 4
	if got := o.TimeBudget(); got != 4*time.Second {
		t.Fatalf("got %v", got)
	}
}
