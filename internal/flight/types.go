package flight

import (
	"fmt"
	"math"
	"time"
)

// AttitudeEstimate is the fused orientation of the airframe. Angles are in
// radians, rates in rad/s.
type AttitudeEstimate struct {
	Roll      float64   `json:"roll" msgpack:"roll"`
	Pitch     float64   `json:"pitch" msgpack:"pitch"`
	Yaw       float64   `json:"yaw" msgpack:"yaw"`
	RollRate  float64   `json:"roll_rate" msgpack:"roll_rate"`
	PitchRate float64   `json:"pitch_rate" msgpack:"pitch_rate"`
	YawRate   float64   `json:"yaw_rate" msgpack:"yaw_rate"`
	At        time.Time `json:"at" msgpack:"at"`
}

// Setpoint is the pilot demand. Throttle is in [0,1], the attitude axes in
// [-1,1].
type Setpoint struct {
	Throttle float64 `json:"throttle" msgpack:"throttle"`
	Roll     float64 `json:"roll" msgpack:"roll"`
	Pitch    float64 `json:"pitch" msgpack:"pitch"`
	Yaw      float64 `json:"yaw" msgpack:"yaw"`
}

// Clamp returns the setpoint with every field forced into its range.
func (s Setpoint) Clamp() Setpoint {
	return Setpoint{
		Throttle: Clamp(s.Throttle, 0, 1),
		Roll:     Clamp(s.Roll, -1, 1),
		Pitch:    Clamp(s.Pitch, -1, 1),
		Yaw:      Clamp(s.Yaw, -1, 1),
	}
}

// Axis names a setpoint field.
type Axis int

const (
	AxisThrottle Axis = iota
	AxisRoll
	AxisPitch
	AxisYaw
)

func (a Axis) String() string {
	switch a {
	case AxisThrottle:
		return "throttle"
	case AxisRoll:
		return "roll"
	case AxisPitch:
		return "pitch"
	case AxisYaw:
		return "yaw"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// Range returns the valid interval for the axis.
func (a Axis) Range() (lo, hi float64) {
	if a == AxisThrottle {
		return 0, 1
	}
	return -1, 1
}

// ArmState gates motor output.
type ArmState int32

const (
	Disarmed ArmState = iota
	Arming
	Armed
	Halted
)

func (s ArmState) String() string {
	switch s {
	case Disarmed:
		return "disarmed"
	case Arming:
		return "arming"
	case Armed:
		return "armed"
	case Halted:
		return "halted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// FaultReason records why the craft entered Halted.
type FaultReason int

const (
	FaultNone FaultReason = iota
	FaultHaltCommand
	FaultDisarmCommand
	FaultSensor
	FaultMotorWrite
	FaultLinkLost
)

func (r FaultReason) String() string {
	switch r {
	case FaultNone:
		return "none"
	case FaultHaltCommand:
		return "halt_command"
	case FaultDisarmCommand:
		return "disarm_command"
	case FaultSensor:
		return "sensor_failure"
	case FaultMotorWrite:
		return "motor_write_failure"
	case FaultLinkLost:
		return "link_lost"
	}
	return fmt.Sprintf("fault(%d)", int(r))
}

// Fault is the terminal cause recorded by the safety machine.
type Fault struct {
	Reason FaultReason
	Detail string
	At     time.Time
}

func (f Fault) String() string {
	if f.Reason == FaultNone {
		return ""
	}
	if f.Detail == "" {
		return f.Reason.String()
	}
	return f.Reason.String() + ": " + f.Detail
}

// MotorPosition identifies one of the four motor slots of an X airframe.
type MotorPosition int

const (
	FrontLeft MotorPosition = iota
	FrontRight
	BackRight
	BackLeft
)

// NumMotors is the number of motor slots.
const NumMotors = 4

// Positions lists the slots in mixer order.
var Positions = [NumMotors]MotorPosition{FrontLeft, FrontRight, BackRight, BackLeft}

// Code returns the default motor code for the position.
func (p MotorPosition) Code() string {
	switch p {
	case FrontLeft:
		return "FL"
	case FrontRight:
		return "FR"
	case BackRight:
		return "BR"
	case BackLeft:
		return "BL"
	}
	return "??"
}

func (p MotorPosition) String() string {
	switch p {
	case FrontLeft:
		return "front_left"
	case FrontRight:
		return "front_right"
	case BackRight:
		return "back_right"
	case BackLeft:
		return "back_left"
	}
	return fmt.Sprintf("position(%d)", int(p))
}

// ParsePosition accepts the long name or the motor code.
func ParsePosition(s string) (MotorPosition, error) {
	for _, p := range Positions {
		if s == p.String() || s == p.Code() {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown motor position: %q", s)
}

// Sample is one raw inertial reading. Accel is in any consistent unit
// (only its direction is used), Gyro is in rad/s.
type Sample struct {
	Accel [3]float64
	Gyro  [3]float64
}

// Sensor is the inertial measurement boundary.
type Sensor interface {
	Read() (Sample, error)
}

// MotorDriver is the motor output boundary. Value is a duty in [0,1].
type MotorDriver interface {
	WriteDuty(code string, value float64) error
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
