// Package fusion turns raw inertial samples into an attitude estimate.
package fusion

import (
	"fmt"
	"math"
	"time"

	"github.com/san-kum/quadfc/internal/flight"
)

// Mounting corrects for how the sensor is fixed to the frame. Applied to
// both accelerometer and gyro axes.
type Mounting struct {
	SwapXY  bool `yaml:"swap_xy"`
	InvertX bool `yaml:"invert_x"`
	InvertY bool `yaml:"invert_y"`
	InvertZ bool `yaml:"invert_z"`
}

func (m Mounting) apply(v [3]float64) [3]float64 {
	if m.SwapXY {
		v[0], v[1] = v[1], v[0]
	}
	if m.InvertX {
		v[0] = -v[0]
	}
	if m.InvertY {
		v[1] = -v[1]
	}
	if m.InvertZ {
		v[2] = -v[2]
	}
	return v
}

// Options configures a Fusion.
type Options struct {
	Mounting         Mounting
	Filter           Filter
	FailureThreshold int
	Clock            func() time.Time
}

// Fusion owns the sensor and the running estimate. It is used from the
// control loop only and is not safe for concurrent use.
type Fusion struct {
	sensor    flight.Sensor
	mount     Mounting
	filter    Filter
	threshold int
	now       func() time.Time

	est         flight.AttitudeEstimate
	good        bool
	consecutive int
	total       int

	bias     [3]float64
	calLeft  int
	calCount int
	calSum   [3]float64
}

// New returns a fusion stage reading from s. A nil sensor is allowed and
// every Update then fails with flight.ErrSensorUnavailable.
func New(s flight.Sensor, opt Options) *Fusion {
	if opt.Filter == nil {
		opt.Filter = NewComplementary(0.98)
	}
	if opt.FailureThreshold <= 0 {
		opt.FailureThreshold = 3
	}
	if opt.Clock == nil {
		opt.Clock = time.Now
	}
	return &Fusion{
		sensor:    s,
		mount:     opt.Mounting,
		filter:    opt.Filter,
		threshold: opt.FailureThreshold,
		now:       opt.Clock,
	}
}

// Update reads one sample and advances the estimate by dt seconds. On a
// read failure the previous estimate is returned; the error is non-nil
// only once consecutive failures reach the threshold.
func (f *Fusion) Update(dt float64) (flight.AttitudeEstimate, error) {
	if f.sensor == nil {
		return f.est, flight.ErrSensorUnavailable
	}

	raw, err := f.sensor.Read()
	if err == nil && !validSample(raw) {
		err = fmt.Errorf("non-finite sample")
	}
	if err != nil {
		f.consecutive++
		f.total++
		if f.consecutive >= f.threshold {
			return f.est, fmt.Errorf("%w: %d consecutive failures: %v", flight.ErrSensorFailed, f.consecutive, err)
		}
		return f.est, nil
	}
	f.consecutive = 0

	accel := f.mount.apply(raw.Accel)
	gyro := f.mount.apply(raw.Gyro)

	if f.calLeft > 0 {
		for i := range gyro {
			f.calSum[i] += gyro[i]
		}
		f.calCount++
		f.calLeft--
		if f.calLeft == 0 {
			for i := range f.bias {
				f.bias[i] = f.calSum[i] / float64(f.calCount)
			}
			// heading drifted on the uncorrected gyro
			f.est.Yaw = 0
		}
	}

	for i := range gyro {
		gyro[i] -= f.bias[i]
	}

	ar, ap := AccelTilt(accel)
	if !f.good {
		f.filter.Seed(ar, ap)
		f.good = true
		dt = 0
	}
	roll, pitch := f.filter.Update(gyro[0], gyro[1], ar, ap, dt)

	f.est = flight.AttitudeEstimate{
		Roll:      roll,
		Pitch:     pitch,
		Yaw:       wrapPi(f.est.Yaw + gyro[2]*dt),
		RollRate:  gyro[0],
		PitchRate: gyro[1],
		YawRate:   gyro[2],
		At:        f.now(),
	}
	return f.est, nil
}

// Estimate returns the last estimate without reading the sensor.
func (f *Fusion) Estimate() flight.AttitudeEstimate { return f.est }

// Healthy reports a present sensor with a good last read.
func (f *Fusion) Healthy() bool {
	return f.sensor != nil && f.good && f.consecutive == 0
}

// Failures returns consecutive and total read failures.
func (f *Fusion) Failures() (consecutive, total int) {
	return f.consecutive, f.total
}

// StartCalibration averages the next n good gyro samples into the bias.
func (f *Fusion) StartCalibration(n int) {
	if n <= 0 {
		return
	}
	f.calLeft = n
	f.calCount = 0
	f.calSum = [3]float64{}
}

// Calibrating reports whether calibration samples are still being taken.
func (f *Fusion) Calibrating() bool { return f.calLeft > 0 }

// Bias returns the gyro bias in frame axes.
func (f *Fusion) Bias() [3]float64 { return f.bias }

func validSample(s flight.Sample) bool {
	for i := 0; i < 3; i++ {
		if !flight.Finite(s.Accel[i]) || !flight.Finite(s.Gyro[i]) {
			return false
		}
	}
	return s.Accel != [3]float64{}
}

func wrapPi(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
