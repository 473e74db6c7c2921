package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/mixer"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Period() != 10*time.Millisecond {
		t.Errorf("Period() = %v", cfg.Period())
	}
	a, err := cfg.Assignment()
	if err != nil {
		t.Fatal(err)
	}
	if a[flight.BackLeft].Code != "BL" {
		t.Errorf("assignment = %+v", a)
	}
}

func TestPresetsValid(t *testing.T) {
	for _, name := range ListPresets() {
		t.Run(name, func(t *testing.T) {
			cfg := GetPreset(name)
			if cfg == nil {
				t.Fatal("nil preset")
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
	if GetPreset("nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
	if GetPreset("bench").Motors.Slots[0].Curve.SafeMax != 0.3 {
		t.Error("bench preset not applied")
	}
	if DefaultConfig().Motors.Slots[0].Curve.SafeMax != 1 {
		t.Error("preset leaked into defaults")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cycle", func(c *Config) { c.Loop.CycleMs = 0 }},
		{"timeout below cycle", func(c *Config) { c.Loop.LinkTimeout = 5 * time.Millisecond }},
		{"bad filter", func(c *Config) { c.Sensor.Filter = "ekf" }},
		{"alpha out of range", func(c *Config) { c.Sensor.Alpha = 1.2 }},
		{"kalman noise", func(c *Config) { c.Sensor.Filter, c.Sensor.KalmanR = "kalman", 0 }},
		{"output limit", func(c *Config) { c.Control.OutputLimit = 2 }},
		{"negative gain", func(c *Config) { c.Control.Yaw.Kp = -1 }},
		{"unbounded integral", func(c *Config) { c.Control.Pitch.IntegralLimit = 0 }},
		{"three slots", func(c *Config) { c.Motors.Slots = c.Motors.Slots[:3] }},
		{"duplicate position", func(c *Config) { c.Motors.Slots[1].Position = "FL" }},
		{"non monotonic curve", func(c *Config) {
			c.Motors.Slots[0].Curve.Points = []mixer.Point{{In: 0, Out: 0.5}, {In: 1, Out: 0.1}}
		}},
		{"safe range", func(c *Config) { c.Motors.Slots[2].Curve.SafeMax = 1.5 }},
		{"encoding", func(c *Config) { c.Link.Encoding = "protobuf" }},
		{"integrator", func(c *Config) { c.Sim.Integrator = "verlet" }},
		{"massless airframe", func(c *Config) { c.Sim.Airframe.Mass = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"pd only without integral limit", func(c *Config) { c.Control.Yaw.Ki, c.Control.Yaw.IntegralLimit = 0, 0 }},
		{"kalman ignores alpha", func(c *Config) { c.Sensor.Filter, c.Sensor.Alpha = "kalman", 0 }},
		{"tuned kalman", func(c *Config) { c.Sensor.Filter, c.Sensor.KalmanQ, c.Sensor.KalmanR = "kalman", 0.02, 0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quadfc.yaml")
	cfg := GetPreset("agile")
	cfg.Sensor.Mounting.InvertY = true
	cfg.Motors.Slots[3].Curve.Points = []mixer.Point{{In: 0, Out: 0.05}, {In: 1, Out: 0.95}}
	cfg.Motors.Slots[3].Curve.SafeMin = 0.05
	cfg.Motors.Slots[3].Curve.SafeMax = 0.95

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := DefaultConfig()
	b := a.Clone()
	b.Motors.Slots[0].Code = "M1"
	if a.Motors.Slots[0].Code != "FL" {
		t.Error("clone shares slots")
	}
}

func TestBuilders(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := cfg.NewMixer(); err != nil {
		t.Fatal(err)
	}
	if ch := cfg.Channels(); ch["BR"] != 2 {
		t.Errorf("Channels() = %v", ch)
	}
	lc := cfg.LoopConfig()
	if lc.Period != cfg.Period() || lc.LinkTimeout != DefaultLinkTimeout {
		t.Errorf("LoopConfig() = %+v", lc)
	}
	if cfg.NewAttitude().Limits.OutputLimit != cfg.Control.OutputLimit {
		t.Error("attitude limits")
	}
}
