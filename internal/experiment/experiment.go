// Package experiment flies scripted sessions through the real control core
// against the simulated airframe on a virtual clock.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/san-kum/quadfc/internal/config"
	"github.com/san-kum/quadfc/internal/craft"
	"github.com/san-kum/quadfc/internal/dispatch"
	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/fusion"
	"github.com/san-kum/quadfc/internal/loop"
	"github.com/san-kum/quadfc/internal/metrics"
	"github.com/san-kum/quadfc/internal/sim"
	"github.com/san-kum/quadfc/internal/telemetry"
)

// Epoch is the virtual time at which every run starts.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type Result struct {
	Script       string
	Period       time.Duration
	Observations []metrics.Observation
	Acks         []dispatch.Ack
	Metrics      map[string]float64
	FinalState   string
	Fault        string
}

type Experiment struct {
	cfg     *config.Config
	script  *Script
	log     *slog.Logger
	metrics []metrics.Metric

	craft *craft.Craft
	plant *sim.Plant
	loop  *loop.Loop
	disp  *dispatch.Dispatcher
	now   time.Time

	onTick   func(metrics.Observation)
	realTime bool
}

// New wires a fresh craft, plant and loop from cfg. An experiment runs once.
func New(cfg *config.Config, script *Script, log *slog.Logger) (*Experiment, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Experiment{
		cfg:     cfg,
		script:  script,
		log:     log.With("component", "experiment", "script", script.Name),
		metrics: metrics.Default(),
		craft:   craft.New(),
		now:     Epoch,
	}
	clock := func() time.Time { return e.now }

	opt, err := cfg.PlantOptions()
	if err != nil {
		return nil, err
	}
	if e.plant, err = sim.NewPlant(opt); err != nil {
		return nil, err
	}
	e.plant.Place(script.Altitude, 0, 0)

	fopt, err := cfg.FusionOptions()
	if err != nil {
		return nil, err
	}
	fopt.Clock = clock
	mix, err := cfg.NewMixer()
	if err != nil {
		return nil, err
	}
	parts := loop.Parts{
		Fusion:  fusion.New(e.plant, fopt),
		Control: cfg.NewAttitude(),
		Mixer:   mix,
		Motors:  e.plant,
	}
	if e.loop, err = loop.New(e.craft, parts, cfg.LoopConfig(), log); err != nil {
		return nil, err
	}
	e.loop.SetClock(clock)

	if e.disp, err = dispatch.New(e.craft, dispatch.WithClock(clock), dispatch.WithLogger(log)); err != nil {
		return nil, err
	}
	return e, nil
}

// OnTick registers a callback run after every tick.
func (e *Experiment) OnTick(fn func(metrics.Observation)) { e.onTick = fn }

// RealTime paces the run at the loop period instead of as fast as possible.
func (e *Experiment) RealTime(on bool) { e.realTime = on }

// Board returns the telemetry board the loop publishes to.
func (e *Experiment) Board() *telemetry.Board { return e.craft.Board() }

// Plant exposes the simulated airframe.
func (e *Experiment) Plant() *sim.Plant { return e.plant }

func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	period := e.cfg.Period()
	ticks := int(e.script.Duration / period)
	res := &Result{
		Script:       e.script.Name,
		Period:       period,
		Observations: make([]metrics.Observation, 0, ticks+1),
		Metrics:      make(map[string]float64),
	}
	for _, m := range e.metrics {
		m.Reset()
	}
	limits := e.cfg.Limits()

	var pacer *time.Ticker
	if e.realTime {
		pacer = time.NewTicker(period)
		defer pacer.Stop()
	}

	next := 0
	beat := time.Duration(0)
	for i := 0; i <= ticks; i++ {
		elapsed := time.Duration(i) * period
		e.now = Epoch.Add(elapsed)

		if pacer != nil {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-pacer.C:
			}
		} else if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}

		for next < len(e.script.Steps) && e.script.Steps[next].At <= elapsed {
			if ack, ok := e.apply(e.script.Steps[next]); ok {
				res.Acks = append(res.Acks, ack)
			}
			next++
		}
		if hb := e.script.Heartbeat; hb > 0 && elapsed >= beat &&
			(e.script.Silence <= 0 || elapsed < e.script.Silence) {
			e.disp.Dispatch(dispatch.Event{Name: "heartbeat"})
			beat += hb
		}

		snap := e.loop.Step(e.now)
		roll, pitch, _ := e.plant.Attitude()
		obs := metrics.Observation{
			T:           elapsed.Seconds(),
			Snapshot:    snap,
			TrueRoll:    roll,
			TruePitch:   pitch,
			TargetRoll:  snap.Setpoint.Roll * limits.MaxAngle,
			TargetPitch: snap.Setpoint.Pitch * limits.MaxAngle,
		}
		for _, m := range e.metrics {
			m.Observe(obs)
		}
		res.Observations = append(res.Observations, obs)
		if e.onTick != nil {
			e.onTick(obs)
		}

		if err := e.plant.Advance(period); err != nil {
			return res, fmt.Errorf("experiment: %w", err)
		}
	}

	for _, m := range e.metrics {
		res.Metrics[m.Name()] = m.Value()
	}
	res.FinalState = e.craft.ArmState().String()
	res.Fault = e.craft.Safety().Fault().String()
	e.log.Info("run complete", "state", res.FinalState, "fault", res.Fault, "ticks", len(res.Observations))
	return res, nil
}

func (e *Experiment) apply(s Step) (dispatch.Ack, bool) {
	if !s.sim() {
		ack := e.disp.Dispatch(s.dispatchEvent())
		e.log.Debug("event", "event", s.Event, "status", ack.Status, "reason", ack.Reason)
		return ack, true
	}
	v := s.value()
	switch s.Event {
	case "sim.kick_roll":
		e.plant.Kick(v, 0, 0)
	case "sim.kick_pitch":
		e.plant.Kick(0, v, 0)
	case "sim.kick_yaw":
		e.plant.Kick(0, 0, v)
	case "sim.fail_reads":
		e.plant.FailReads(int(v))
	case "sim.fail_motor":
		e.plant.FailWrites(s.Motor)
	case "sim.clear_faults":
		e.plant.ClearFaults()
	}
	e.log.Info("sim action", "action", s.Event, "value", v, "motor", s.Motor)
	return dispatch.Ack{}, false
}

// SeriesNames lists the columns Series understands.
func SeriesNames() []string {
	names := []string{
		"roll", "pitch", "yaw", "roll_rate", "pitch_rate", "yaw_rate",
		"true_roll", "true_pitch", "target_roll", "target_pitch", "throttle",
	}
	for _, p := range flight.Positions {
		names = append(names, "duty_"+p.Code())
	}
	return names
}

// Series extracts one column from the observations.
func Series(obs []metrics.Observation, name string) ([]float64, error) {
	pick, err := column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = pick(o)
	}
	return out, nil
}

func column(name string) (func(metrics.Observation) float64, error) {
	switch name {
	case "roll":
		return func(o metrics.Observation) float64 { return o.Snapshot.Attitude.Roll }, nil
	case "pitch":
		return func(o metrics.Observation) float64 { return o.Snapshot.Attitude.Pitch }, nil
	case "yaw":
		return func(o metrics.Observation) float64 { return o.Snapshot.Attitude.Yaw }, nil
	case "roll_rate":
		return func(o metrics.Observation) float64 { return o.Snapshot.Attitude.RollRate }, nil
	case "pitch_rate":
		return func(o metrics.Observation) float64 { return o.Snapshot.Attitude.PitchRate }, nil
	case "yaw_rate":
		return func(o metrics.Observation) float64 { return o.Snapshot.Attitude.YawRate }, nil
	case "true_roll":
		return func(o metrics.Observation) float64 { return o.TrueRoll }, nil
	case "true_pitch":
		return func(o metrics.Observation) float64 { return o.TruePitch }, nil
	case "target_roll":
		return func(o metrics.Observation) float64 { return o.TargetRoll }, nil
	case "target_pitch":
		return func(o metrics.Observation) float64 { return o.TargetPitch }, nil
	case "throttle":
		return func(o metrics.Observation) float64 { return o.Snapshot.Setpoint.Throttle }, nil
	}
	for i, p := range flight.Positions {
		if name == "duty_"+p.Code() {
			return func(o metrics.Observation) float64 { return o.Snapshot.Motors[i].Duty }, nil
		}
	}
	return nil, fmt.Errorf("unknown series: %s", name)
}
