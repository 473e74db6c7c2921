package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/san-kum/quadfc/internal/dynamo"
	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/integrators"
	"github.com/san-kum/quadfc/internal/physics"
)

var (
	ErrInjectedRead  = errors.New("sim: injected sensor fault")
	ErrInjectedWrite = errors.New("sim: injected motor fault")
	ErrUnknownMotor  = errors.New("sim: unknown motor code")
)

type Options struct {
	Params     physics.QuadParams
	Integrator dynamo.Integrator
	Substep    time.Duration
	Seed       int64
	AccelNoise float64 // g, standard deviation
	GyroNoise  float64 // rad/s, standard deviation
	GyroBias   [3]float64
	// Codes maps each motor position to the code the mixer writes.
	Codes [flight.NumMotors]string
}

func DefaultOptions() Options {
	var codes [flight.NumMotors]string
	for i, p := range flight.Positions {
		codes[i] = p.Code()
	}
	return Options{
		Params:     physics.DefaultQuadParams(),
		Substep:    time.Millisecond,
		Seed:       1,
		AccelNoise: 0.01,
		GyroNoise:  0.002,
		Codes:      codes,
	}
}

// Plant is a simulated airframe. It is the inertial sensor and the motor
// driver at once, so the real core can fly it unmodified.
type Plant struct {
	mu    sync.Mutex
	quad  *physics.Quad
	integ dynamo.Integrator
	opt   Options
	rng   *rand.Rand
	index map[string]int

	x    dynamo.State
	u    dynamo.Control
	duty [flight.NumMotors]float64
	t    float64

	readFaults  int // remaining failing reads, negative means forever
	writeFaults map[string]bool
	reads       uint64
	writes      uint64
}

func NewPlant(opt Options) (*Plant, error) {
	if opt.Integrator == nil {
		opt.Integrator = integrators.NewRK4()
	}
	if opt.Substep <= 0 {
		opt.Substep = time.Millisecond
	}
	index := make(map[string]int, flight.NumMotors)
	for i, c := range opt.Codes {
		if c == "" {
			return nil, fmt.Errorf("sim: no code for %s", flight.Positions[i])
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("sim: duplicate motor code %q", c)
		}
		index[c] = i
	}
	return &Plant{
		quad:        physics.NewQuad(opt.Params),
		integ:       opt.Integrator,
		opt:         opt,
		rng:         rand.New(rand.NewSource(opt.Seed)),
		index:       index,
		x:           make(dynamo.State, physics.QuadStateDim),
		u:           make(dynamo.Control, flight.NumMotors),
		writeFaults: make(map[string]bool),
	}, nil
}

// Read implements flight.Sensor.
func (p *Plant) Read() (flight.Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reads++
	if p.readFaults != 0 {
		if p.readFaults > 0 {
			p.readFaults--
		}
		return flight.Sample{}, ErrInjectedRead
	}

	var s flight.Sample
	f := p.quad.SpecificForce(p.x)
	for i := range s.Accel {
		s.Accel[i] = f[i] + p.rng.NormFloat64()*p.opt.AccelNoise
	}
	rates := [3]float64{p.x[physics.IdxP], p.x[physics.IdxQ], p.x[physics.IdxR]}
	for i := range s.Gyro {
		s.Gyro[i] = rates[i] + p.opt.GyroBias[i] + p.rng.NormFloat64()*p.opt.GyroNoise
	}
	return s, nil
}

// WriteDuty implements flight.MotorDriver.
func (p *Plant) WriteDuty(code string, value float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[code]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMotor, code)
	}
	if p.writeFaults[code] {
		return ErrInjectedWrite
	}
	p.writes++
	p.duty[i] = flight.Clamp(value, 0, 1)
	p.u[i] = p.quad.Thrust(p.duty[i])
	return nil
}

// Advance integrates the airframe forward by d using the last duties.
func (p *Plant) Advance(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.opt.Substep.Seconds()
	for left := d.Seconds(); left > 1e-12; left -= h {
		step := math.Min(h, left)
		next := p.integ.Step(p.quad, p.x, p.u, p.t, step)
		if err := dynamo.Check(p.quad, next, p.u); err != nil {
			return fmt.Errorf("t=%.4f: %w", p.t, err)
		}
		p.x = next
		p.t += step
		p.ground()
	}
	return nil
}

// ground holds the airframe level on the floor until thrust exceeds weight.
func (p *Plant) ground() {
	if p.x[physics.IdxZ] > 0 {
		return
	}
	p.x[physics.IdxZ] = 0
	if p.x[physics.IdxVZ] < 0 {
		p.x[physics.IdxVZ] = 0
	}
	total := p.u[0] + p.u[1] + p.u[2] + p.u[3]
	if total < p.quad.Mass*p.quad.Gravity {
		for _, i := range []int{physics.IdxRoll, physics.IdxPitch, physics.IdxP, physics.IdxQ, physics.IdxR} {
			p.x[i] = 0
		}
	}
}

// State returns a copy of the airframe state.
func (p *Plant) State() dynamo.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x.Clone()
}

// Attitude returns the true roll, pitch and yaw.
func (p *Plant) Attitude() (roll, pitch, yaw float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x[physics.IdxRoll], p.x[physics.IdxPitch], p.x[physics.IdxYaw]
}

func (p *Plant) Duties() [flight.NumMotors]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Time returns simulated seconds since start.
func (p *Plant) Time() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t
}

// Place sets altitude and attitude, zeroing rates.
func (p *Plant) Place(z, roll, pitch float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.x {
		p.x[i] = 0
	}
	p.x[physics.IdxZ] = z
	p.x[physics.IdxRoll] = roll
	p.x[physics.IdxPitch] = pitch
}

// Kick adds the given body rates, as a gust would.
func (p *Plant) Kick(pr, qr, rr float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.x[physics.IdxP] += pr
	p.x[physics.IdxQ] += qr
	p.x[physics.IdxR] += rr
}

// FailReads makes the next n reads fail; n < 0 fails every read until
// ClearFaults.
func (p *Plant) FailReads(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readFaults = n
}

// FailWrites makes every write to code fail until ClearFaults.
func (p *Plant) FailWrites(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeFaults[code] = true
}

func (p *Plant) ClearFaults() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readFaults = 0
	clear(p.writeFaults)
}

// Counts returns successful writes and attempted reads.
func (p *Plant) Counts() (reads, writes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads, p.writes
}
