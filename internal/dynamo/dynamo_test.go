package dynamo

import (
	"errors"
	"math"
	"testing"
)

type decay struct{}

func (decay) Derive(x State, u Control, t float64) State { return State{-x[0] + u[0]} }
func (decay) StateDim() int                                { return 1 }
func (decay) ControlDim() int                              { return 1 }

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		x    State
		u    Control
		want error
	}{
		{"ok", State{1}, Control{0}, nil},
		{"short control", State{1}, Control{}, ErrDimensionMismatch},
		{"long state", State{1, 2}, Control{0}, ErrDimensionMismatch},
		{"nan", State{math.NaN()}, Control{0}, ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Check(decay{}, tt.x, tt.u); !errors.Is(err, tt.want) {
				t.Errorf("Check() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStateOps(t *testing.T) {
	s := State{3, 4}
	c := s.Clone()
	c[0] = 0
	if s[0] != 3 {
		t.Error("Clone shares storage")
	}
	if !s.IsValid() || (State{math.Inf(1)}).IsValid() {
		t.Error("IsValid")
	}
}
