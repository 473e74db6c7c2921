package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/san-kum/quadfc/internal/craft"
	"github.com/san-kum/quadfc/internal/flight"
)

func ptr(v float64) *float64 { return &v }

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		want    flight.Command
		wantErr error
	}{
		{"throttle", Event{"throttle", ptr(0.4)}, flight.SetAxis{Axis: flight.AxisThrottle, Value: 0.4}, nil},
		{"case and space", Event{"  Roll ", ptr(-0.2)}, flight.SetAxis{Axis: flight.AxisRoll, Value: -0.2}, nil},
		{"clamped high", Event{"yaw", ptr(3)}, flight.SetAxis{Axis: flight.AxisYaw, Value: 1}, nil},
		{"throttle negative", Event{"throttle", ptr(-0.5)}, flight.SetAxis{Axis: flight.AxisThrottle, Value: 0}, nil},
		{"arm", Event{Name: "ARM"}, flight.Arm{}, nil},
		{"disarm", Event{Name: "disarm"}, flight.Disarm{}, nil},
		{"halt", Event{Name: "halt"}, flight.Halt{}, nil},
		{"calibrate", Event{Name: "calibrate"}, flight.Calibrate{}, nil},
		{"heartbeat", Event{Name: "heartbeat"}, flight.Heartbeat{}, nil},
		{"missing value", Event{Name: "pitch"}, nil, ErrMalformed},
		{"nan", Event{"pitch", ptr(math.NaN())}, nil, ErrMalformed},
		{"inf", Event{"throttle", ptr(math.Inf(1))}, nil, ErrMalformed},
		{"unknown", Event{Name: "barrel_roll"}, nil, ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.event)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fixture struct {
	craft *craft.Craft
	d     *Dispatcher
	now   time.Time
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{craft: craft.New(), now: time.Unix(1000, 0), logs: &bytes.Buffer{}}
	log := slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d, err := New(f.craft, WithClock(func() time.Time { return f.now }), WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	f.d = d
	return f
}

func TestDispatchSetpoint(t *testing.T) {
	f := newFixture(t)
	ack := f.d.Dispatch(NewEvent("throttle", 0.4))
	if ack.Status != StatusApplied {
		t.Fatalf("ack = %+v", ack)
	}
	if got := f.craft.Setpoint().Throttle; got != 0.4 {
		t.Errorf("throttle = %v", got)
	}
	if f.craft.LinkAge(f.now) != 0 {
		t.Error("valid command did not refresh link")
	}
}

func TestDispatchIgnoresBadEvents(t *testing.T) {
	f := newFixture(t)
	for _, e := range []Event{{Name: "warp"}, {Name: "roll"}} {
		ack := f.d.Dispatch(e)
		if ack.Status != StatusIgnored {
			t.Errorf("%q: status %s", e.Name, ack.Status)
		}
	}
	if f.craft.LinkAge(f.now) < time.Hour {
		t.Error("invalid event refreshed link")
	}
	if f.craft.Setpoint() != (flight.Setpoint{}) {
		t.Error("setpoint changed")
	}
	if !strings.Contains(f.logs.String(), "level=WARN") {
		t.Errorf("expected warn log, got %s", f.logs.String())
	}
}

func TestDispatchArm(t *testing.T) {
	t.Run("rejected without sensor", func(t *testing.T) {
		f := newFixture(t)
		ack := f.d.Dispatch(Event{Name: "arm"})
		if ack.Status != StatusRejected || f.craft.ArmState() != flight.Disarmed {
			t.Errorf("ack %+v state %v", ack, f.craft.ArmState())
		}
		if !strings.Contains(f.craft.LastRejection(), "sensor") {
			t.Errorf("LastRejection() = %q", f.craft.LastRejection())
		}
	})

	t.Run("rejected with throttle", func(t *testing.T) {
		f := newFixture(t)
		f.craft.SetSensorHealthy(true)
		f.d.Dispatch(NewEvent("throttle", 0.2))
		ack := f.d.Dispatch(Event{Name: "arm"})
		if ack.Status != StatusRejected || f.craft.ArmState() != flight.Disarmed {
			t.Errorf("ack %+v state %v", ack, f.craft.ArmState())
		}
	})

	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t)
		f.craft.SetSensorHealthy(true)
		ack := f.d.Dispatch(Event{Name: "arm"})
		if ack.Status != StatusApplied || f.craft.ArmState() != flight.Arming {
			t.Errorf("ack %+v state %v", ack, f.craft.ArmState())
		}
	})
}

func TestDispatchHalt(t *testing.T) {
	f := newFixture(t)
	f.d.Dispatch(NewEvent("throttle", 0.6))
	if ack := f.d.Dispatch(Event{Name: "halt"}); ack.Status != StatusApplied {
		t.Fatalf("ack = %+v", ack)
	}
	if f.craft.ArmState() != flight.Halted || f.craft.Setpoint() != (flight.Setpoint{}) {
		t.Errorf("state %v setpoint %+v", f.craft.ArmState(), f.craft.Setpoint())
	}
	if ack := f.d.Dispatch(NewEvent("throttle", 0.3)); ack.Status != StatusRejected {
		t.Errorf("setpoint accepted while halted: %+v", ack)
	}
	if ack := f.d.Dispatch(Event{Name: "halt"}); ack.Status != StatusApplied {
		t.Errorf("repeated halt: %+v", ack)
	}
}

func TestDispatchCalibrate(t *testing.T) {
	f := newFixture(t)
	if ack := f.d.Dispatch(Event{Name: "calibrate"}); ack.Status != StatusApplied {
		t.Fatalf("ack = %+v", ack)
	}
	if !f.craft.TakeCalibrationRequest() {
		t.Error("no calibration request raised")
	}

	f.craft.SetSensorHealthy(true)
	f.d.Dispatch(Event{Name: "arm"})
	if ack := f.d.Dispatch(Event{Name: "calibrate"}); ack.Status != StatusRejected {
		t.Errorf("calibrate while arming: %+v", ack)
	}
}

func TestSingleWriter(t *testing.T) {
	c := craft.New()
	if _, err := New(c); err != nil {
		t.Fatal(err)
	}
	if _, err := New(c); !errors.Is(err, flight.ErrWriterClaimed) {
		t.Errorf("second dispatcher err = %v", err)
	}
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	in := make(chan Envelope)
	acks := make(chan Ack, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- f.d.Run(ctx, in) }()

	in <- Envelope{Event: NewEvent("pitch", 0.1), Reply: func(a Ack) { acks <- a }}
	in <- Envelope{Event: Event{Name: "bogus"}, Reply: func(a Ack) { acks <- a }}

	if a := <-acks; a.Status != StatusApplied || a.Event != "pitch" {
		t.Errorf("first ack %+v", a)
	}
	if a := <-acks; a.Status != StatusIgnored {
		t.Errorf("second ack %+v", a)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
}
