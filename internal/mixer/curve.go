package mixer

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCurve indicates an invalid calibration curve.
var ErrCurve = errors.New("mixer: invalid calibration curve")

// Point maps a normalized mixer output to a duty.
type Point struct {
	In  float64 `yaml:"in"`
	Out float64 `yaml:"out"`
}

// Curve is a monotonic piecewise-linear map from [0,1] onto the safe duty
// range of one motor.
type Curve struct {
	points  []Point
	SafeMin float64
	SafeMax float64
}

// Identity maps x to x over [0,1].
func Identity() Curve {
	return Curve{points: []Point{{0, 0}, {1, 1}}, SafeMin: 0, SafeMax: 1}
}

// NewCurve validates points and the safe range. Points are sorted by In;
// Out must be non-decreasing. An empty point list yields a straight line
// from SafeMin to SafeMax.
func NewCurve(points []Point, safeMin, safeMax float64) (Curve, error) {
	if safeMin < 0 || safeMax > 1 || safeMin > safeMax {
		return Curve{}, fmt.Errorf("%w: safe range [%g, %g] outside [0, 1]", ErrCurve, safeMin, safeMax)
	}
	if len(points) == 0 {
		points = []Point{{0, safeMin}, {1, safeMax}}
	}
	if len(points) < 2 {
		return Curve{}, fmt.Errorf("%w: need at least two points", ErrCurve)
	}

	ps := append([]Point(nil), points...)
	sort.Slice(ps, func(i, j int) bool { return ps[i].In < ps[j].In })
	for i := 1; i < len(ps); i++ {
		if ps[i].In == ps[i-1].In {
			return Curve{}, fmt.Errorf("%w: duplicate input %g", ErrCurve, ps[i].In)
		}
		if ps[i].Out < ps[i-1].Out {
			return Curve{}, fmt.Errorf("%w: not monotonic at input %g", ErrCurve, ps[i].In)
		}
	}
	return Curve{points: ps, SafeMin: safeMin, SafeMax: safeMax}, nil
}

// Points returns a copy of the curve's points.
func (c Curve) Points() []Point {
	return append([]Point(nil), c.points...)
}

// Apply maps x through the curve and clamps to the safe range. Zero input
// always maps to zero so a stopped motor stays stopped.
func (c Curve) Apply(x float64) float64 {
	if x <= 0 {
		return 0
	}
	ps := c.points
	if len(ps) == 0 {
		return clamp(x, c.SafeMin, c.SafeMax)
	}

	var y float64
	switch {
	case x <= ps[0].In:
		y = ps[0].Out
	case x >= ps[len(ps)-1].In:
		y = ps[len(ps)-1].Out
	default:
		i := sort.Search(len(ps), func(i int) bool { return ps[i].In >= x })
		a, b := ps[i-1], ps[i]
		y = a.Out + (x-a.In)*(b.Out-a.Out)/(b.In-a.In)
	}
	return clamp(y, c.SafeMin, c.SafeMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
