// Package craft holds the state shared between the control loop, the
// command dispatcher and the telemetry publisher.
//
// A Craft is constructed once at startup and handed to each component.
// Every field is published atomically; the loop never waits on a lock
// held by a command writer.
package craft

import (
	"sync/atomic"
	"time"

	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/safety"
	"github.com/san-kum/quadfc/internal/telemetry"
)

// Craft is the explicit shared context of one airframe.
type Craft struct {
	setpoint *flight.SetpointStore
	safety   *safety.Machine
	board    *telemetry.Board

	lastLink      atomic.Int64
	sensorHealthy atomic.Bool
	calibrate     atomic.Bool
	rejection     atomic.Pointer[string]
}

// New returns a disarmed craft with a zero setpoint.
func New() *Craft {
	return &Craft{
		setpoint: flight.NewSetpointStore(),
		safety:   safety.New(),
		board:    telemetry.NewBoard(),
	}
}

// Setpoint returns the current pilot demand.
func (c *Craft) Setpoint() flight.Setpoint {
	return c.setpoint.Load()
}

// ClaimSetpointWriter returns the only writer of the setpoint. Subsequent
// calls fail with flight.ErrWriterClaimed.
func (c *Craft) ClaimSetpointWriter() (*flight.SetpointWriter, error) {
	return c.setpoint.Claim()
}

// Safety returns the arm state machine.
func (c *Craft) Safety() *safety.Machine {
	return c.safety
}

// ArmState is shorthand for Safety().State().
func (c *Craft) ArmState() flight.ArmState {
	return c.safety.State()
}

// Board returns the telemetry board the loop publishes to.
func (c *Craft) Board() *telemetry.Board {
	return c.board
}

// TouchLink records a valid command at now.
func (c *Craft) TouchLink(now time.Time) {
	c.lastLink.Store(now.UnixNano())
}

// LinkAge returns the time since the last valid command. It is effectively
// infinite before the first one.
func (c *Craft) LinkAge(now time.Time) time.Duration {
	last := c.lastLink.Load()
	if last == 0 {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(time.Unix(0, last))
}

// SetSensorHealthy publishes the health observed by the loop.
func (c *Craft) SetSensorHealthy(ok bool) {
	c.sensorHealthy.Store(ok)
}

// SensorHealthy returns the last health published by the loop.
func (c *Craft) SensorHealthy() bool {
	return c.sensorHealthy.Load()
}

// RequestCalibration flags a calibration for the loop to pick up. It
// returns false if one was already pending.
func (c *Craft) RequestCalibration() bool {
	return c.calibrate.CompareAndSwap(false, true)
}

// TakeCalibrationRequest clears and returns the pending flag.
func (c *Craft) TakeCalibrationRequest() bool {
	return c.calibrate.Swap(false)
}

// SetLastRejection records the most recent rejected command.
func (c *Craft) SetLastRejection(reason string) {
	c.rejection.Store(&reason)
}

// LastRejection returns the most recent rejection reason, or "".
func (c *Craft) LastRejection() string {
	if p := c.rejection.Load(); p != nil {
		return *p
	}
	return ""
}
