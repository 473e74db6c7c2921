// Package mixer maps throttle and axis torques onto the four motors of an
// X-configuration quadrotor.
//
// Motor layout, viewed from above with the nose up:
//
//	FL(CW)   FR(CCW)
//	     \  /
//	     /  \
//	BL(CCW)  BR(CW)
//
// Roll right raises the left pair, pitch up raises the front pair and yaw
// right raises the counter-clockwise pair.
package mixer

import (
	"fmt"

	"github.com/san-kum/quadfc/internal/control"
	"github.com/san-kum/quadfc/internal/flight"
)

// Slot binds a motor position to its driver code and calibration.
type Slot struct {
	Position flight.MotorPosition
	Code     string
	Channel  int
	Curve    Curve
}

// Assignment is the fixed slot table of the airframe, in mixer order.
type Assignment [flight.NumMotors]Slot

// DefaultAssignment uses the default codes, channels 0..3 and identity
// curves.
func DefaultAssignment() Assignment {
	var a Assignment
	for i, p := range flight.Positions {
		a[i] = Slot{Position: p, Code: p.Code(), Channel: i, Curve: Identity()}
	}
	return a
}

// Validate checks that each position appears once, in mixer order, with a
// unique code.
func (a Assignment) Validate() error {
	codes := make(map[string]bool, len(a))
	for i, s := range a {
		if s.Position != flight.Positions[i] {
			return fmt.Errorf("mixer: slot %d is %s, want %s", i, s.Position, flight.Positions[i])
		}
		if s.Code == "" {
			return fmt.Errorf("mixer: slot %s has no code", s.Position)
		}
		if codes[s.Code] {
			return fmt.Errorf("mixer: duplicate motor code %q", s.Code)
		}
		codes[s.Code] = true
	}
	return nil
}

// Output is the result of one mix.
type Output struct {
	Raw       [flight.NumMotors]float64
	Scaled    [flight.NumMotors]float64
	Duty      [flight.NumMotors]float64
	Offset    float64
	Scale     float64
	Saturated bool
}

// sign rows: roll, pitch, yaw per slot
var signs = [flight.NumMotors][3]float64{
	{+1, +1, -1}, // FL
	{-1, +1, +1}, // FR
	{-1, -1, -1}, // BR
	{+1, -1, +1}, // BL
}

type Mixer struct {
	slots       Assignment
	yawReversed bool
}

func New(slots Assignment, yawReversed bool) (*Mixer, error) {
	if err := slots.Validate(); err != nil {
		return nil, err
	}
	return &Mixer{slots: slots, yawReversed: yawReversed}, nil
}

// Slots returns the slot table.
func (m *Mixer) Slots() Assignment { return m.slots }

// Mix combines throttle and torque. Negative outputs lift all four motors
// by the same offset; outputs above 1 scale all four by the same factor,
// so relative differences between motors are kept.
func (m *Mixer) Mix(throttle float64, t control.Torque) Output {
	out := Output{Scale: 1}
	yaw := t.Yaw
	if m.yawReversed {
		yaw = -yaw
	}

	lo, hi := 0.0, 0.0
	for i, s := range signs {
		v := throttle + s[0]*t.Roll + s[1]*t.Pitch + s[2]*yaw
		out.Raw[i] = v
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}

	if lo < 0 {
		out.Offset = -lo
		hi += out.Offset
		out.Saturated = true
	}
	if hi > 1 {
		out.Scale = 1 / hi
		out.Saturated = true
	}

	for i, v := range out.Raw {
		out.Scaled[i] = (v + out.Offset) * out.Scale
		out.Duty[i] = m.slots[i].Curve.Apply(out.Scaled[i])
	}
	return out
}
