package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/quadfc/internal/dynamo"
)

const DefaultGravity = 9.81

// State indices of the Quad model.
const (
	IdxRoll = iota
	IdxPitch
	IdxYaw
	IdxP // body roll rate
	IdxQ // body pitch rate
	IdxR // body yaw rate
	IdxZ
	IdxVZ
	QuadStateDim
)

// QuadParams describes an X-frame quadrotor.
type QuadParams struct {
	Mass       float64 `yaml:"mass"`        // kg
	ArmLength  float64 `yaml:"arm_length"`  // m, hub to rotor
	Ixx        float64 `yaml:"ixx"`         // kg m^2
	Iyy        float64 `yaml:"iyy"`         // kg m^2
	Izz        float64 `yaml:"izz"`         // kg m^2
	MaxThrust  float64 `yaml:"max_thrust"`  // N per motor at full duty
	YawCoeff   float64 `yaml:"yaw_coeff"`   // rotor drag torque per newton of thrust
	AngDamping float64 `yaml:"ang_damping"` // N m s/rad
	Drag       float64 `yaml:"drag"`        // N s/m, vertical
	Gravity    float64 `yaml:"gravity"`
}

func DefaultQuadParams() QuadParams {
	return QuadParams{
		Mass:       1.0,
		ArmLength:  0.2,
		Ixx:        0.01,
		Iyy:        0.01,
		Izz:        0.02,
		MaxThrust:  8,
		YawCoeff:   0.02,
		AngDamping: 0.01,
		Drag:       0.3,
		Gravity:    DefaultGravity,
	}
}

// Quad is a rigid-body attitude and altitude model. Control is the thrust
// of each motor in newtons, ordered front-left, front-right, back-right,
// back-left. Front-left and back-right spin so that their drag yaws the
// body negative.
type Quad struct {
	QuadParams
}

func NewQuad(p QuadParams) *Quad {
	return &Quad{QuadParams: p}
}

func (q *Quad) StateDim() int   { return QuadStateDim }
func (q *Quad) ControlDim() int { return 4 }

// Thrust converts a motor duty to newtons. Static thrust grows with the
// square of rotor speed, which is roughly linear in duty.
func (q *Quad) Thrust(duty float64) float64 {
	duty = math.Max(0, math.Min(1, duty))
	return q.MaxThrust * duty * duty
}

// HoverDuty is the duty at which four motors carry the weight.
func (q *Quad) HoverDuty() float64 {
	return math.Sqrt(q.Mass * q.Gravity / (4 * q.MaxThrust))
}

// Torques returns the body torques produced by the four thrusts.
func (q *Quad) Torques(u dynamo.Control) (roll, pitch, yaw float64) {
	fl, fr, br, bl := u[0], u[1], u[2], u[3]
	l := q.ArmLength * math.Sqrt2 / 2
	roll = l * (fl + bl - fr - br)
	pitch = l * (fl + fr - br - bl)
	yaw = q.YawCoeff * (fr + bl - fl - br)
	return roll, pitch, yaw
}

func (q *Quad) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	phi, theta := x[IdxRoll], x[IdxPitch]
	p, qr, r := x[IdxP], x[IdxQ], x[IdxR]
	vz := x[IdxVZ]

	tx, ty, tz := q.Torques(u)
	total := u[0] + u[1] + u[2] + u[3]

	sphi, cphi := math.Sin(phi), math.Cos(phi)
	ctheta := math.Cos(theta)
	if math.Abs(ctheta) < 1e-3 {
		ctheta = math.Copysign(1e-3, ctheta)
	}
	ttheta := math.Sin(theta) / ctheta

	dx := make(dynamo.State, QuadStateDim)
	dx[IdxRoll] = p + sphi*ttheta*qr + cphi*ttheta*r
	dx[IdxPitch] = cphi*qr - sphi*r
	dx[IdxYaw] = (sphi*qr + cphi*r) / ctheta
	dx[IdxP] = (tx + (q.Iyy-q.Izz)*qr*r - q.AngDamping*p) / q.Ixx
	dx[IdxQ] = (ty + (q.Izz-q.Ixx)*p*r - q.AngDamping*qr) / q.Iyy
	dx[IdxR] = (tz + (q.Ixx-q.Iyy)*p*qr - q.AngDamping*r) / q.Izz
	dx[IdxZ] = vz
	dx[IdxVZ] = total*cphi*ctheta/q.Mass - q.Gravity - q.Drag*vz/q.Mass
	return dx
}

// SpecificForce is what an accelerometer strapped to the body reads, in g.
func (q *Quad) SpecificForce(x dynamo.State) [3]float64 {
	phi, theta := x[IdxRoll], x[IdxPitch]
	return [3]float64{
		-math.Sin(theta),
		math.Sin(phi) * math.Cos(theta),
		math.Cos(phi) * math.Cos(theta),
	}
}

func (q *Quad) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":        q.Mass,
		"arm_length":  q.ArmLength,
		"ixx":         q.Ixx,
		"iyy":         q.Iyy,
		"izz":         q.Izz,
		"max_thrust":  q.MaxThrust,
		"yaw_coeff":   q.YawCoeff,
		"ang_damping": q.AngDamping,
		"drag":        q.Drag,
		"gravity":     q.Gravity,
	}
}

func (q *Quad) SetParam(name string, value float64) error {
	if value < 0 || math.IsNaN(value) {
		return fmt.Errorf("invalid value for %s: %g", name, value)
	}
	switch name {
	case "mass":
		q.Mass = value
	case "arm_length":
		q.ArmLength = value
	case "ixx":
		q.Ixx = value
	case "iyy":
		q.Iyy = value
	case "izz":
		q.Izz = value
	case "max_thrust":
		q.MaxThrust = value
	case "yaw_coeff":
		q.YawCoeff = value
	case "ang_damping":
		q.AngDamping = value
	case "drag":
		q.Drag = value
	case "gravity":
		q.Gravity = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
