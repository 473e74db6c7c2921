// Package telemetry carries the flight state out of the control loop.
//
// The loop publishes one [Snapshot] per tick to a [Board] with a single
// atomic store. A [Publisher] samples the board at its own cadence and
// forwards new snapshots to any number of [Sink]s, so a slow consumer can
// never delay the loop.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/san-kum/quadfc/internal/flight"
)

// Motor is the duty written to one slot on a tick.
type Motor struct {
	Code string  `json:"code" msgpack:"code"`
	Duty float64 `json:"duty" msgpack:"duty"`
}

// Snapshot is the state of the craft after one loop tick.
type Snapshot struct {
	Seq            uint64                  `json:"seq" msgpack:"seq"`
	At             time.Time               `json:"at" msgpack:"at"`
	ArmState       string                  `json:"arm_state" msgpack:"arm_state"`
	Fault          string                  `json:"fault,omitempty" msgpack:"fault,omitempty"`
	Attitude       flight.AttitudeEstimate `json:"attitude" msgpack:"attitude"`
	Setpoint       flight.Setpoint         `json:"setpoint" msgpack:"setpoint"`
	Motors         [flight.NumMotors]Motor `json:"motors" msgpack:"motors"`
	Saturated      bool                    `json:"saturated" msgpack:"saturated"`
	SensorHealthy  bool                    `json:"sensor_healthy" msgpack:"sensor_healthy"`
	SensorFailures int                     `json:"sensor_failures" msgpack:"sensor_failures"`
	Calibrating    bool                    `json:"calibrating" msgpack:"calibrating"`
	Overruns       uint64                  `json:"overruns" msgpack:"overruns"`
	LastRejection  string                  `json:"last_rejection,omitempty" msgpack:"last_rejection,omitempty"`
}

// Duties returns the motor duties in slot order.
func (s Snapshot) Duties() [flight.NumMotors]float64 {
	var d [flight.NumMotors]float64
	for i, m := range s.Motors {
		d[i] = m.Duty
	}
	return d
}

// Board holds the latest snapshot.
type Board struct {
	seq    atomic.Uint64
	latest atomic.Pointer[Snapshot]
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{}
}

// Publish stamps s with the next sequence number and makes it the latest.
func (b *Board) Publish(s Snapshot) uint64 {
	s.Seq = b.seq.Add(1)
	b.latest.Store(&s)
	return s.Seq
}

// Latest returns the most recent snapshot. ok is false before the first
// Publish.
func (b *Board) Latest() (s Snapshot, ok bool) {
	p := b.latest.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}
