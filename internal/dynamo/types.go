package dynamo

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Control holds the per-motor thrust inputs.
type Control []float64

type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

// Check reports whether x and u fit dyn.
func Check(dyn System, x State, u Control) error {
	if len(x) != dyn.StateDim() || len(u) != dyn.ControlDim() {
		return fmt.Errorf("%w: state %d/%d, control %d/%d",
			ErrDimensionMismatch, len(x), dyn.StateDim(), len(u), dyn.ControlDim())
	}
	if !x.IsValid() {
		return ErrInvalidState
	}
	return nil
}
