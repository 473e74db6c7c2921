package flight

// Command is the closed set of operator commands accepted by the core.
// Implementations are SetAxis, Arm, Disarm, Halt, Calibrate and Heartbeat.
type Command interface {
	command()
	Name() string
}

// SetAxis updates one setpoint field. Value is already normalized to the
// axis range.
type SetAxis struct {
	Axis  Axis
	Value float64
}

// Arm requests Disarmed -> Arming.
type Arm struct{}

// Disarm stops the motors and latches the craft.
type Disarm struct{}

// Halt is the emergency stop.
type Halt struct{}

// Calibrate requests gyro bias calibration while disarmed.
type Calibrate struct{}

// Heartbeat only refreshes link liveness.
type Heartbeat struct{}

func (SetAxis) command()   {}
func (Arm) command()       {}
func (Disarm) command()    {}
func (Halt) command()      {}
func (Calibrate) command() {}
func (Heartbeat) command() {}

func (c SetAxis) Name() string { return c.Axis.String() }
func (Arm) Name() string       { return "arm" }
func (Disarm) Name() string    { return "disarm" }
func (Halt) Name() string      { return "halt" }
func (Calibrate) Name() string { return "calibrate" }
func (Heartbeat) Name() string { return "heartbeat" }

// Apply returns s with the axis field replaced.
func (c SetAxis) Apply(s Setpoint) Setpoint {
	switch c.Axis {
	case AxisThrottle:
		s.Throttle = c.Value
	case AxisRoll:
		s.Roll = c.Value
	case AxisPitch:
		s.Pitch = c.Value
	case AxisYaw:
		s.Yaw = c.Value
	}
	return s.Clamp()
}
