package config

import (
	"sort"
	"time"
)

// Presets are named starting points; each is DefaultConfig with a few
// fields changed.
var Presets = map[string]func(*Config){
	"default": func(*Config) {},
	"indoor": func(c *Config) {
		c.Control.MaxAngleDeg = 15
		c.Control.MaxYawRateDeg = 90
		c.Control.OutputLimit = 0.2
		c.Loop.LinkTimeout = 300 * time.Millisecond
	},
	"agile": func(c *Config) {
		c.Loop.CycleMs = 4
		c.Control.MaxAngleDeg = 45
		c.Control.MaxYawRateDeg = 360
		c.Control.OutputLimit = 0.5
		c.Control.Roll.Kp, c.Control.Pitch.Kp = 0.9, 0.9
		c.Control.Roll.Kd, c.Control.Pitch.Kd = 0.12, 0.12
	},
	"bench": func(c *Config) {
		c.Loop.LinkTimeout = 5 * time.Second
		c.Loop.ArmDelay = time.Second
		c.Control.OutputLimit = 0.1
		for i := range c.Motors.Slots {
			c.Motors.Slots[i].Curve.SafeMax = 0.3
		}
		c.Log.Level = "debug"
	},
}

// GetPreset returns a fresh config for the named preset, or nil.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

// ListPresets returns the preset names in order.
func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
