// Package dispatch applies operator commands to the shared craft state.
//
// All transports feed one Dispatcher goroutine, which is the single
// writer of the setpoint. Dispatch never fails: every event is answered
// with an Ack describing what happened to it.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/san-kum/quadfc/internal/craft"
	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/safety"
)

// Ack statuses.
const (
	StatusApplied  = "applied"
	StatusRejected = "rejected"
	StatusIgnored  = "ignored"
)

// Ack reports the outcome of one event.
type Ack struct {
	Event  string    `json:"command_ack" msgpack:"command_ack"`
	Status string    `json:"status" msgpack:"status"`
	Reason string    `json:"error,omitempty" msgpack:"error,omitempty"`
	At     time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Envelope carries an event and an optional reply callback into Run.
type Envelope struct {
	Event Event
	Reply func(Ack)
}

type Dispatcher struct {
	craft  *craft.Craft
	writer *flight.SetpointWriter
	log    *slog.Logger
	now    func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// New claims the setpoint writer of c. It fails if another component
// already holds it.
func New(c *craft.Craft, opts ...Option) (*Dispatcher, error) {
	w, err := c.ClaimSetpointWriter()
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		craft:  c,
		writer: w,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With("component", "dispatch")
	return d, nil
}

// Dispatch parses and applies one event.
func (d *Dispatcher) Dispatch(e Event) Ack {
	now := d.now()
	ack := Ack{Event: e.Name, At: now}

	cmd, err := Parse(e)
	if err != nil {
		d.log.Warn("ignoring event", "event", e.Name, "error", err)
		ack.Status = StatusIgnored
		ack.Reason = err.Error()
		return ack
	}
	ack.Event = cmd.Name()
	d.craft.TouchLink(now)

	if err := d.apply(cmd, now); err != nil {
		ack.Status = StatusRejected
		ack.Reason = err.Error()
		d.craft.SetLastRejection(cmd.Name() + ": " + err.Error())
		d.log.Info("command rejected", "command", cmd.Name(), "reason", err)
		return ack
	}

	ack.Status = StatusApplied
	d.log.Debug("command applied", "command", cmd.Name())
	return ack
}

func (d *Dispatcher) apply(cmd flight.Command, now time.Time) error {
	sm := d.craft.Safety()

	switch c := cmd.(type) {
	case flight.SetAxis:
		if sm.State() == flight.Halted {
			return safety.ErrHalted
		}
		d.writer.Update(c.Apply)
		return nil

	case flight.Arm:
		return sm.RequestArm(safety.ArmCheck{
			SensorHealthy: d.craft.SensorHealthy(),
			Throttle:      d.writer.Load().Throttle,
		}, now)

	case flight.Disarm:
		err := sm.Disarm(now)
		if errors.Is(err, safety.ErrHalted) {
			return nil
		}
		return err

	case flight.Halt:
		d.writer.Store(flight.Setpoint{})
		if err := sm.Halt(now); err != nil && !errors.Is(err, safety.ErrHalted) {
			return err
		}
		return nil

	case flight.Calibrate:
		if s := sm.State(); s != flight.Disarmed {
			return errors.New("calibration requires disarmed, craft is " + s.String())
		}
		d.craft.RequestCalibration()
		return nil

	case flight.Heartbeat:
		return nil
	}
	return ErrUnknownEvent
}

// Run applies envelopes until ctx is done or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-in:
			if !ok {
				return nil
			}
			ack := d.Dispatch(env.Event)
			if env.Reply != nil {
				env.Reply(ack)
			}
		}
	}
}
