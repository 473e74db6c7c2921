package control

import (
	"fmt"
	"math"
	"strings"
)

// Gains are the tunable parameters of one axis.
type Gains struct {
	Kp            float64 `yaml:"kp"`
	Ki            float64 `yaml:"ki"`
	Kd            float64 `yaml:"kd"`
	IntegralLimit float64 `yaml:"integral_limit"`
}

type PID struct {
	Gains
	integral float64
	prevMeas float64
	first    bool
}

func NewPID(g Gains) *PID {
	return &PID{
		Gains: g,
		first: true,
	}
}

// Update returns the control output for one step of dt seconds. The
// derivative term acts on the measurement, so setpoint steps do not kick.
func (p *PID) Update(setpoint, measurement, dt float64) float64 {
	err := setpoint - measurement

	if p.first || dt <= 0 {
		p.prevMeas = measurement
		p.first = false
		return p.Kp*err + p.Ki*p.integral
	}

	p.integral += err * dt
	if lim := p.IntegralLimit; lim > 0 {
		p.integral = math.Max(-lim, math.Min(lim, p.integral))
	}
	derivative := -(measurement - p.prevMeas) / dt
	p.prevMeas = measurement

	return p.Kp*err + p.Ki*p.integral + p.Kd*derivative
}

// Integral returns the accumulated error.
func (p *PID) Integral() float64 {
	return p.integral
}

// Reset clears integral and derivative state
func (p *PID) Reset() {
	p.integral = 0
	p.prevMeas = 0
	p.first = true
}

// GetParams returns tunable parameters for live adjustment
func (p *PID) GetParams() map[string]float64 {
	return map[string]float64{
		"Kp":            p.Kp,
		"Ki":            p.Ki,
		"Kd":            p.Kd,
		"IntegralLimit": p.IntegralLimit,
	}
}

// SetParam adjusts a PID parameter. Names match case-insensitively.
func (p *PID) SetParam(name string, value float64) error {
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("invalid value for %s: %g", name, value)
	}
	switch strings.ToLower(name) {
	case "kp":
		p.Kp = value
	case "ki":
		p.Ki = value
	case "kd":
		p.Kd = value
	case "integrallimit", "integral_limit":
		p.IntegralLimit = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
