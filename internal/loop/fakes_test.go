package loop

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/san-kum/quadfc/internal/control"
	"github.com/san-kum/quadfc/internal/craft"
	"github.com/san-kum/quadfc/internal/dispatch"
	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/fusion"
	"github.com/san-kum/quadfc/internal/mixer"
)

type levelSensor struct {
	mu   sync.Mutex
	fail bool
}

func (s *levelSensor) Read() (flight.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return flight.Sample{}, errors.New("bus error")
	}
	return flight.Sample{Accel: [3]float64{0, 0, 1}}, nil
}

func (s *levelSensor) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

type recordingMotors struct {
	mu     sync.Mutex
	duty   map[string]float64
	writes int
	fail   string
}

func newMotors() *recordingMotors {
	return &recordingMotors{duty: make(map[string]float64)}
}

func (m *recordingMotors) WriteDuty(code string, v float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if code == m.fail {
		return errors.New("pwm nack")
	}
	m.duty[code] = v
	return nil
}

func (m *recordingMotors) get(code string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duty[code]
}

func (m *recordingMotors) all() [4]float64 {
	return [4]float64{m.get("FL"), m.get("FR"), m.get("BR"), m.get("BL")}
}

const period = 10 * time.Millisecond

var testConfig = Config{
	Period:             period,
	ArmDelay:           50 * time.Millisecond,
	LinkTimeout:        200 * time.Millisecond,
	CalibrationSamples: 5,
}

// rig wires a full core against fakes and drives it on a virtual clock.
type rig struct {
	craft  *craft.Craft
	loop   *Loop
	disp   *dispatch.Dispatcher
	sensor *levelSensor
	motors *recordingMotors
	logs   *bytes.Buffer
	now    time.Time
}

func newRig(sensor flight.Sensor) *rig {
	r := &rig{craft: craft.New(), motors: newMotors(), logs: &bytes.Buffer{}, now: time.Unix(10_000, 0)}
	if ls, ok := sensor.(*levelSensor); ok {
		r.sensor = ls
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	g := control.Gains{Kp: 1}
	mix, err := mixer.New(mixer.DefaultAssignment(), false)
	if err != nil {
		panic(err)
	}
	l, err := New(r.craft, Parts{
		Fusion:  fusion.New(sensor, fusion.Options{FailureThreshold: 3}),
		Control: control.NewAttitude(control.DefaultLimits(), g, g, g),
		Mixer:   mix,
		Motors:  r.motors,
	}, testConfig, slog.New(slog.NewTextHandler(r.logs, nil)))
	if err != nil {
		panic(err)
	}
	r.loop = l

	d, err := dispatch.New(r.craft, dispatch.WithClock(func() time.Time { return r.now }), dispatch.WithLogger(quiet))
	if err != nil {
		panic(err)
	}
	r.disp = d
	return r
}

func (r *rig) send(name string, v ...float64) dispatch.Ack {
	e := dispatch.Event{Name: name}
	if len(v) > 0 {
		e = dispatch.NewEvent(name, v[0])
	}
	return r.disp.Dispatch(e)
}

// tick advances the clock by one period and steps the loop, sending a
// heartbeat first when keepAlive is set.
func (r *rig) tick(keepAlive bool) {
	r.now = r.now.Add(period)
	if keepAlive {
		r.send("heartbeat")
	}
	r.loop.Step(r.now)
}

func (r *rig) ticks(n int, keepAlive bool) {
	for i := 0; i < n; i++ {
		r.tick(keepAlive)
	}
}

// arm runs the loop until the craft reports Armed.
func (r *rig) arm() {
	r.tick(true)
	if ack := r.send("arm"); ack.Status != dispatch.StatusApplied {
		panic("arm rejected: " + ack.Reason)
	}
	for i := 0; i < 20 && r.craft.ArmState() != flight.Armed; i++ {
		r.tick(true)
	}
}
