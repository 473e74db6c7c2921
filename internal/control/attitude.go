package control

import (
	"math"

	"github.com/san-kum/quadfc/internal/flight"
)

// Torque is the normalized correction demanded on each axis.
type Torque struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

// Limits scale stick input into physical targets.
type Limits struct {
	MaxAngle    float64 // rad at full roll/pitch stick
	MaxYawRate  float64 // rad/s at full yaw stick
	OutputLimit float64 // clamp on each torque component
}

func DefaultLimits() Limits {
	return Limits{
		MaxAngle:    30 * math.Pi / 180,
		MaxYawRate:  180 * math.Pi / 180,
		OutputLimit: 0.5,
	}
}

type Attitude struct {
	Limits Limits
	Roll   *PID
	Pitch  *PID
	Yaw    *PID
}

func NewAttitude(l Limits, roll, pitch, yaw Gains) *Attitude {
	return &Attitude{
		Limits: l,
		Roll:   NewPID(roll),
		Pitch:  NewPID(pitch),
		Yaw:    NewPID(yaw),
	}
}

// Update computes the torque correction for one tick. Throttle is not
// touched by the control law.
func (a *Attitude) Update(sp flight.Setpoint, est flight.AttitudeEstimate, dt float64) Torque {
	lim := a.Limits.OutputLimit
	return Torque{
		Roll:  clamp(a.Roll.Update(sp.Roll*a.Limits.MaxAngle, est.Roll, dt), lim),
		Pitch: clamp(a.Pitch.Update(sp.Pitch*a.Limits.MaxAngle, est.Pitch, dt), lim),
		Yaw:   clamp(a.Yaw.Update(sp.Yaw*a.Limits.MaxYawRate, est.YawRate, dt), lim),
	}
}

// Reset clears every axis.
func (a *Attitude) Reset() {
	a.Roll.Reset()
	a.Pitch.Reset()
	a.Yaw.Reset()
}

// Integrals returns the roll, pitch and yaw accumulators.
func (a *Attitude) Integrals() [3]float64 {
	return [3]float64{a.Roll.Integral(), a.Pitch.Integral(), a.Yaw.Integral()}
}

func clamp(v, lim float64) float64 {
	if lim <= 0 {
		return v
	}
	return flight.Clamp(v, -lim, lim)
}
