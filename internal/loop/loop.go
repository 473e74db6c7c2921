// Package loop runs the fixed-period control cycle.
//
// Each tick reads the arm state, refreshes the attitude estimate and, only
// while armed, runs the control law and mixer and writes the motors. In
// every other state the motors receive a literal zero. The loop is the only
// holder of the motor driver.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/san-kum/quadfc/internal/control"
	"github.com/san-kum/quadfc/internal/craft"
	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/fusion"
	"github.com/san-kum/quadfc/internal/mixer"
	"github.com/san-kum/quadfc/internal/telemetry"
)

// Config holds the timing parameters fixed at startup.
type Config struct {
	Period             time.Duration
	ArmDelay           time.Duration
	LinkTimeout        time.Duration
	CalibrationSamples int
}

// Parts are the components the loop drives.
type Parts struct {
	Fusion  *fusion.Fusion
	Control *control.Attitude
	Mixer   *mixer.Mixer
	Motors  flight.MotorDriver
}

type Loop struct {
	craft *craft.Craft
	parts Parts
	cfg   Config
	log   *slog.Logger
	clock func() time.Time

	lastTick   time.Time
	overruns   atomic.Uint64
	ticks      atomic.Uint64
	motorFails int
}

// New returns a loop and logs every arm state change of c. A nil logger
// uses slog.Default.
func New(c *craft.Craft, p Parts, cfg Config, log *slog.Logger) (*Loop, error) {
	if p.Fusion == nil || p.Control == nil || p.Mixer == nil || p.Motors == nil {
		return nil, errors.New("loop: missing component")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("loop: period must be positive, got %s", cfg.Period)
	}
	if log == nil {
		log = slog.Default()
	}
	transitions := log.With("component", "safety")
	c.Safety().OnTransition(func(from, to flight.ArmState, f flight.Fault) {
		if to == flight.Halted {
			transitions.Warn("arm state changed", "from", from.String(), "to", to.String(), "reason", f.Reason.String())
			return
		}
		transitions.Info("arm state changed", "from", from.String(), "to", to.String())
	})
	return &Loop{
		craft: c,
		parts: p,
		cfg:   cfg,
		log:   log.With("component", "loop"),
		clock: time.Now,
	}, nil
}

// SetClock replaces time.Now for Run.
func (l *Loop) SetClock(now func() time.Time) { l.clock = now }

// Overruns returns how many ticks took longer than the period.
func (l *Loop) Overruns() uint64 { return l.overruns.Load() }

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Control exposes the attitude controller for gain tuning between ticks.
func (l *Loop) Control() *control.Attitude { return l.parts.Control }

// Run ticks every period until ctx is canceled, then zeros the motors.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Period)
	defer ticker.Stop()
	defer l.writeZero(false)

	l.log.Info("control loop started", "period", l.cfg.Period)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("control loop stopped", "ticks", l.Ticks(), "overruns", l.Overruns())
			return nil
		case <-ticker.C:
			start := l.clock()
			l.Step(start)
			if elapsed := l.clock().Sub(start); elapsed > l.cfg.Period {
				n := l.overruns.Add(1)
				l.log.Debug("tick overrun", "elapsed", elapsed, "overruns", n)
			}
		}
	}
}

// Step runs one tick at now and returns the published snapshot.
func (l *Loop) Step(now time.Time) telemetry.Snapshot {
	dt := l.dt(now)
	sm := l.craft.Safety()
	state := sm.State()

	if state == flight.Arming || state == flight.Armed {
		if age := l.craft.LinkAge(now); age > l.cfg.LinkTimeout {
			state = l.trip(flight.Fault{
				Reason: flight.FaultLinkLost,
				Detail: fmt.Sprintf("no command for %s", age.Round(time.Millisecond)),
				At:     now,
			})
		}
	}

	f := l.parts.Fusion
	est := f.Estimate()
	if state != flight.Halted {
		var err error
		est, err = f.Update(dt)
		l.craft.SetSensorHealthy(f.Healthy())
		if err != nil && (state == flight.Arming || state == flight.Armed) {
			state = l.trip(flight.Fault{Reason: flight.FaultSensor, Detail: err.Error(), At: now})
		}
	}

	var duties [flight.NumMotors]float64
	var saturated bool
	sp := l.craft.Setpoint()

	switch state {
	case flight.Disarmed:
		if l.craft.TakeCalibrationRequest() {
			f.StartCalibration(l.cfg.CalibrationSamples)
			l.log.Info("gyro calibration started", "samples", l.cfg.CalibrationSamples)
		}
		l.writeZero(false)

	case flight.Arming:
		if err := l.writeZero(true); err != nil {
			state = l.trip(motorFault(err, now))
			break
		}
		if now.Sub(sm.ArmingSince()) >= l.cfg.ArmDelay && f.Healthy() && !f.Calibrating() {
			if err := sm.CompleteArming(now); err == nil {
				l.parts.Control.Reset()
				state = flight.Armed
			}
		}

	case flight.Armed:
		if sp.Throttle == 0 {
			// idle on the ground: no spin-up and no windup
			l.parts.Control.Reset()
			if err := l.writeZero(true); err != nil {
				state = l.trip(motorFault(err, now))
			}
			break
		}
		torque := l.parts.Control.Update(sp, est, dt)
		out := l.parts.Mixer.Mix(sp.Throttle, torque)
		if err := l.write(out.Duty); err != nil {
			state = l.trip(motorFault(err, now))
			l.writeZero(false)
			break
		}
		duties = out.Duty
		saturated = out.Saturated

	case flight.Halted:
		l.writeZero(false)
	}

	_, total := f.Failures()
	snap := telemetry.Snapshot{
		At:             now,
		ArmState:       state.String(),
		Fault:          sm.Fault().String(),
		Attitude:       est,
		Setpoint:       sp,
		Saturated:      saturated,
		SensorHealthy:  f.Healthy(),
		SensorFailures: total,
		Calibrating:    f.Calibrating(),
		Overruns:       l.Overruns(),
		LastRejection:  l.craft.LastRejection(),
	}
	slots := l.parts.Mixer.Slots()
	for i := range snap.Motors {
		snap.Motors[i] = telemetry.Motor{Code: slots[i].Code, Duty: duties[i]}
	}
	snap.Seq = l.craft.Board().Publish(snap)
	l.ticks.Add(1)
	return snap
}

func (l *Loop) dt(now time.Time) float64 {
	nominal := l.cfg.Period.Seconds()
	prev := l.lastTick
	l.lastTick = now
	if prev.IsZero() {
		return nominal
	}
	d := now.Sub(prev)
	if d <= 0 || d > 5*l.cfg.Period {
		return nominal
	}
	return d.Seconds()
}

func (l *Loop) trip(f flight.Fault) flight.ArmState {
	if err := l.craft.Safety().Trip(f); err == nil {
		l.log.Error("craft halted", "reason", f.Reason.String(), "detail", f.Detail)
	}
	return flight.Halted
}

func motorFault(err error, now time.Time) flight.Fault {
	return flight.Fault{Reason: flight.FaultMotorWrite, Detail: err.Error(), At: now}
}

func (l *Loop) write(duty [flight.NumMotors]float64) error {
	for i, s := range l.parts.Mixer.Slots() {
		if err := l.parts.Motors.WriteDuty(s.Code, duty[i]); err != nil {
			return &flight.MotorWriteError{Code: s.Code, Value: duty[i], Wrapped: err}
		}
	}
	return nil
}

// writeZero writes zero to every motor, attempting all four even when one
// fails. The first error is returned when strict; otherwise failures are
// only logged.
func (l *Loop) writeZero(strict bool) error {
	var first error
	for _, s := range l.parts.Mixer.Slots() {
		if err := l.parts.Motors.WriteDuty(s.Code, 0); err != nil && first == nil {
			first = &flight.MotorWriteError{Code: s.Code, Wrapped: err}
		}
	}
	if first != nil {
		l.motorFails++
		if l.motorFails == 1 {
			l.log.Warn("motor zero write failed", "error", first)
		}
	} else {
		l.motorFails = 0
	}
	if strict {
		return first
	}
	return nil
}
