package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Filter blends integrated gyro rates with accelerometer tilt angles.
type Filter interface {
	// Update advances the estimate by dt seconds and returns roll, pitch.
	Update(rollRate, pitchRate, accelRoll, accelPitch, dt float64) (roll, pitch float64)
	// Seed sets the estimate directly, used on the first good sample.
	Seed(roll, pitch float64)
}

// FilterParams tunes the filters NewFilter can build. Only the fields of
// the selected filter are checked.
type FilterParams struct {
	Alpha   float64
	KalmanQ float64
	KalmanR float64
}

// NewFilter builds a filter by name.
func NewFilter(name string, p FilterParams) (Filter, error) {
	switch name {
	case "", "complementary":
		if p.Alpha <= 0 || p.Alpha >= 1 {
			return nil, fmt.Errorf("fusion: alpha %g out of range (0..1)", p.Alpha)
		}
		return NewComplementary(p.Alpha), nil
	case "kalman":
		if p.KalmanQ <= 0 || p.KalmanR <= 0 {
			return nil, fmt.Errorf("fusion: kalman noise q=%g r=%g must be positive", p.KalmanQ, p.KalmanR)
		}
		return NewKalman(p.KalmanQ, p.KalmanR), nil
	}
	return nil, fmt.Errorf("fusion: unknown filter %q", name)
}

// Complementary trusts the gyro by alpha and the accelerometer by 1-alpha.
type Complementary struct {
	Alpha       float64
	roll, pitch float64
}

func NewComplementary(alpha float64) *Complementary {
	return &Complementary{Alpha: alpha}
}

func (c *Complementary) Seed(roll, pitch float64) {
	c.roll, c.pitch = roll, pitch
}

func (c *Complementary) Update(rollRate, pitchRate, accelRoll, accelPitch, dt float64) (float64, float64) {
	c.roll = c.Alpha*(c.roll+rollRate*dt) + (1-c.Alpha)*accelRoll
	c.pitch = c.Alpha*(c.pitch+pitchRate*dt) + (1-c.Alpha)*accelPitch
	return c.roll, c.pitch
}

// Kalman is a two-state [roll, pitch] filter with the gyro as control
// input and the accelerometer tilt as measurement.
type Kalman struct {
	x *mat.VecDense
	p *mat.Dense
	q *mat.Dense
	r *mat.Dense

	// scratch
	s, k, tmp *mat.Dense
	y         *mat.VecDense
}

// NewKalman returns a filter with diagonal process noise q and
// measurement noise r.
func NewKalman(q, r float64) *Kalman {
	return &Kalman{
		x:   mat.NewVecDense(2, nil),
		p:   diag(1),
		q:   diag(q),
		r:   diag(r),
		s:   mat.NewDense(2, 2, nil),
		k:   mat.NewDense(2, 2, nil),
		tmp: mat.NewDense(2, 2, nil),
		y:   mat.NewVecDense(2, nil),
	}
}

func diag(v float64) *mat.Dense {
	return mat.NewDense(2, 2, []float64{v, 0, 0, v})
}

func (kf *Kalman) Seed(roll, pitch float64) {
	kf.x.SetVec(0, roll)
	kf.x.SetVec(1, pitch)
	kf.p.Copy(diag(1))
}

func (kf *Kalman) Update(rollRate, pitchRate, accelRoll, accelPitch, dt float64) (float64, float64) {
	// predict: F = I, B*u = rate*dt
	kf.x.SetVec(0, kf.x.AtVec(0)+rollRate*dt)
	kf.x.SetVec(1, kf.x.AtVec(1)+pitchRate*dt)
	kf.p.Add(kf.p, kf.q)

	// correct: H = I
	kf.y.SetVec(0, accelRoll-kf.x.AtVec(0))
	kf.y.SetVec(1, accelPitch-kf.x.AtVec(1))
	kf.s.Add(kf.p, kf.r)
	if err := kf.tmp.Inverse(kf.s); err != nil {
		return kf.x.AtVec(0), kf.x.AtVec(1)
	}
	kf.k.Mul(kf.p, kf.tmp)

	var dx mat.VecDense
	dx.MulVec(kf.k, kf.y)
	kf.x.AddVec(kf.x, &dx)

	// P = (I - K) P
	kf.tmp.Sub(diag(1), kf.k)
	var np mat.Dense
	np.Mul(kf.tmp, kf.p)
	kf.p.Copy(&np)

	return kf.x.AtVec(0), kf.x.AtVec(1)
}

// AccelTilt returns roll and pitch from the gravity direction.
func AccelTilt(a [3]float64) (roll, pitch float64) {
	roll = math.Atan2(a[1], a[2])
	pitch = math.Atan2(-a[0], math.Sqrt(a[1]*a[1]+a[2]*a[2]))
	return roll, pitch
}
