package experiment

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/quadfc/internal/dispatch"
)

// Step is one scripted action. Names with the "sim." prefix act on the
// simulated airframe; every other name is sent through the dispatcher as
// an operator event.
type Step struct {
	At    time.Duration `yaml:"at"`
	Event string        `yaml:"event"`
	Value *float64      `yaml:"value,omitempty"`
	Motor string        `yaml:"motor,omitempty"`
}

func (s Step) sim() bool { return strings.HasPrefix(s.Event, "sim.") }

func (s Step) value() float64 {
	if s.Value == nil {
		return 0
	}
	return *s.Value
}

func (s Step) dispatchEvent() dispatch.Event {
	return dispatch.Event{Name: s.Event, Value: s.Value}
}

// Script is a timed flight. Heartbeat, when positive, sends a heartbeat
// event at that interval so the link stays fresh between steps; Silence,
// when positive, stops the heartbeats at that time.
type Script struct {
	Name      string        `yaml:"name"`
	Duration  time.Duration `yaml:"duration"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Silence   time.Duration `yaml:"silence,omitempty"`
	Altitude  float64       `yaml:"altitude,omitempty"`
	Steps     []Step        `yaml:"steps"`
}

var simActions = map[string]bool{
	"sim.kick_roll":    true,
	"sim.kick_pitch":   true,
	"sim.kick_yaw":     true,
	"sim.fail_reads":   true,
	"sim.fail_motor":   true,
	"sim.clear_faults": true,
}

func (s *Script) Validate() error {
	if s.Duration <= 0 {
		return fmt.Errorf("script %q: duration must be positive", s.Name)
	}
	for i, st := range s.Steps {
		if st.At < 0 || st.At > s.Duration {
			return fmt.Errorf("script %q step %d: at %s outside [0, %s]", s.Name, i, st.At, s.Duration)
		}
		if st.sim() {
			if !simActions[st.Event] {
				return fmt.Errorf("script %q step %d: unknown action %q", s.Name, i, st.Event)
			}
			if st.Event == "sim.fail_motor" && st.Motor == "" {
				return fmt.Errorf("script %q step %d: sim.fail_motor needs motor", s.Name, i)
			}
		}
	}
	sort.SliceStable(s.Steps, func(i, j int) bool { return s.Steps[i].At < s.Steps[j].At })
	return nil
}

func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func v(x float64) *float64 { return &x }

// Scripts are the built-in flights.
var Scripts = map[string]func() *Script{
	"hover": func() *Script {
		return &Script{
			Name: "hover", Duration: 6 * time.Second, Heartbeat: 100 * time.Millisecond,
			Steps: []Step{
				{At: 100 * time.Millisecond, Event: "arm"},
				{At: time.Second, Event: "throttle", Value: v(0.56)},
				{At: 3 * time.Second, Event: "sim.kick_roll", Value: v(1.5)},
				{At: 5500 * time.Millisecond, Event: "disarm"},
			},
		}
	},
	"step": func() *Script {
		return &Script{
			Name: "step", Duration: 6 * time.Second, Heartbeat: 100 * time.Millisecond,
			Steps: []Step{
				{At: 100 * time.Millisecond, Event: "arm"},
				{At: time.Second, Event: "throttle", Value: v(0.56)},
				{At: 2 * time.Second, Event: "roll", Value: v(0.5)},
				{At: 3 * time.Second, Event: "roll", Value: v(0)},
				{At: 4 * time.Second, Event: "pitch", Value: v(-0.5)},
				{At: 5 * time.Second, Event: "pitch", Value: v(0)},
			},
		}
	},
	"link-loss": func() *Script {
		return &Script{
			Name: "link-loss", Duration: 3 * time.Second, Heartbeat: 100 * time.Millisecond, Silence: 2 * time.Second,
			Steps: []Step{
				{At: 100 * time.Millisecond, Event: "arm"},
				{At: time.Second, Event: "throttle", Value: v(0.56)},
			},
		}
	},
	"sensor-fault": func() *Script {
		return &Script{
			Name: "sensor-fault", Duration: 3 * time.Second, Heartbeat: 100 * time.Millisecond,
			Steps: []Step{
				{At: 100 * time.Millisecond, Event: "arm"},
				{At: time.Second, Event: "throttle", Value: v(0.56)},
				{At: 2 * time.Second, Event: "sim.fail_reads", Value: v(-1)},
			},
		}
	},
	"motor-fault": func() *Script {
		return &Script{
			Name: "motor-fault", Duration: 3 * time.Second, Heartbeat: 100 * time.Millisecond,
			Steps: []Step{
				{At: 100 * time.Millisecond, Event: "arm"},
				{At: time.Second, Event: "throttle", Value: v(0.56)},
				{At: 2 * time.Second, Event: "sim.fail_motor", Motor: "BR"},
			},
		}
	},
}

// GetScript returns a fresh copy of a built-in script, or nil.
func GetScript(name string) *Script {
	fn, ok := Scripts[name]
	if !ok {
		return nil
	}
	return fn()
}

func ListScripts() []string {
	names := make([]string, 0, len(Scripts))
	for n := range Scripts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
