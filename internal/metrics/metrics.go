// Package metrics scores a recorded flight.
package metrics

import (
	"math"

	"github.com/san-kum/quadfc/internal/telemetry"
)

// Observation is one loop tick together with what really happened to the
// airframe and what the pilot asked for.
type Observation struct {
	T           float64
	Snapshot    telemetry.Snapshot
	TrueRoll    float64
	TruePitch   float64
	TargetRoll  float64
	TargetPitch float64
}

func (o Observation) armed() bool { return o.Snapshot.ArmState == "armed" }

type Metric interface {
	Name() string
	Observe(o Observation)
	Value() float64
	Reset()
}

// Default returns the metrics recorded for every flight.
func Default() []Metric {
	return []Metric{
		NewTrackingRMS(),
		NewEstimationRMS(),
		NewControlEffort(),
		NewSaturation(),
		NewOverruns(),
	}
}

// TrackingRMS is the RMS roll and pitch error against the target while
// armed, in radians.
type TrackingRMS struct {
	sum     float64
	samples int
}

func NewTrackingRMS() *TrackingRMS { return &TrackingRMS{} }

func (m *TrackingRMS) Name() string { return "tracking_rms" }

func (m *TrackingRMS) Observe(o Observation) {
	if !o.armed() {
		return
	}
	er := o.TrueRoll - o.TargetRoll
	ep := o.TruePitch - o.TargetPitch
	m.sum += er*er + ep*ep
	m.samples++
}

func (m *TrackingRMS) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return math.Sqrt(m.sum / float64(2*m.samples))
}

func (m *TrackingRMS) Reset() { *m = TrackingRMS{} }

// EstimationRMS is the RMS gap between the fused and true attitude.
type EstimationRMS struct {
	sum     float64
	samples int
}

func NewEstimationRMS() *EstimationRMS { return &EstimationRMS{} }

func (m *EstimationRMS) Name() string { return "estimation_rms" }

func (m *EstimationRMS) Observe(o Observation) {
	er := o.Snapshot.Attitude.Roll - o.TrueRoll
	ep := o.Snapshot.Attitude.Pitch - o.TruePitch
	m.sum += er*er + ep*ep
	m.samples++
}

func (m *EstimationRMS) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return math.Sqrt(m.sum / float64(2*m.samples))
}

func (m *EstimationRMS) Reset() { *m = EstimationRMS{} }

// ControlEffort is the mean spread of the four duties around their
// average while armed. Zero means the controller did nothing.
type ControlEffort struct {
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort { return &ControlEffort{} }

func (c *ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(o Observation) {
	if !o.armed() {
		return
	}
	d := o.Snapshot.Duties()
	mean := (d[0] + d[1] + d[2] + d[3]) / 4
	for _, v := range d {
		c.sum += math.Abs(v - mean)
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() { *c = ControlEffort{} }

// Saturation is the fraction of armed ticks in which the mixer had to
// offset or rescale.
type Saturation struct {
	hits    int
	samples int
}

func NewSaturation() *Saturation { return &Saturation{} }

func (s *Saturation) Name() string { return "saturation_ratio" }

func (s *Saturation) Observe(o Observation) {
	if !o.armed() {
		return
	}
	s.samples++
	if o.Snapshot.Saturated {
		s.hits++
	}
}

func (s *Saturation) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.hits) / float64(s.samples)
}

func (s *Saturation) Reset() { *s = Saturation{} }

// Overruns reports the loop overrun counter at the last observation.
type Overruns struct{ last uint64 }

func NewOverruns() *Overruns { return &Overruns{} }

func (m *Overruns) Name() string              { return "overruns" }
func (m *Overruns) Observe(o Observation)     { m.last = o.Snapshot.Overruns }
func (m *Overruns) Value() float64            { return float64(m.last) }
func (m *Overruns) Reset()                    { m.last = 0 }
