package loop

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/san-kum/quadfc/internal/flight"
)

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, Parts{}, testConfig, nil); err == nil {
		t.Error("expected error for missing parts")
	}
}

func TestDtFallback(t *testing.T) {
	l := &Loop{cfg: testConfig}
	base := time.Unix(0, 0)
	tests := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"first tick", base, period.Seconds()},
		{"regular", base.Add(12 * time.Millisecond), 0.012},
		{"backwards", base, period.Seconds()},
		{"long stall", base.Add(time.Second), period.Seconds()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.dt(tt.at); got != tt.want {
				t.Errorf("dt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDisarmedWritesZero(t *testing.T) {
	r := newRig(&levelSensor{})
	r.send("throttle", 0.8)
	r.ticks(5, true)
	if r.motors.all() != [4]float64{} {
		t.Errorf("duties = %v", r.motors.all())
	}
	if !r.craft.SensorHealthy() {
		t.Error("sensor health not published")
	}
}

func TestArmingNeverSpins(t *testing.T) {
	r := newRig(&levelSensor{})
	r.tick(true)
	r.send("arm")
	r.ticks(3, true)
	if r.craft.ArmState() != flight.Arming {
		t.Fatalf("state = %v", r.craft.ArmState())
	}
	r.send("throttle", 0.5)
	r.ticks(1, true)
	if r.motors.all() != [4]float64{} {
		t.Errorf("duties while arming = %v", r.motors.all())
	}
}

func TestSensorFailureWhileDisarmedStaysDisarmed(t *testing.T) {
	s := &levelSensor{fail: true}
	r := newRig(s)
	r.ticks(10, true)
	if r.craft.ArmState() != flight.Disarmed {
		t.Errorf("state = %v", r.craft.ArmState())
	}
	if ack := r.send("arm"); ack.Status != "rejected" {
		t.Errorf("arm ack %+v", ack)
	}
}

func TestSensorFailureWhileArmedHalts(t *testing.T) {
	s := &levelSensor{}
	r := newRig(s)
	r.arm()
	r.send("throttle", 0.5)
	s.setFail(true)
	r.ticks(3, true)

	snap, _ := r.craft.Board().Latest()
	if r.craft.ArmState() != flight.Halted || r.craft.Safety().Fault().Reason != flight.FaultSensor {
		t.Fatalf("state %v fault %v", r.craft.ArmState(), snap.Fault)
	}
	if r.motors.all() != [4]float64{} {
		t.Errorf("duties = %v", r.motors.all())
	}
}

func TestMotorWriteFailureHalts(t *testing.T) {
	r := newRig(&levelSensor{})
	r.arm()
	r.send("throttle", 0.5)
	r.motors.fail = "BR"
	r.tick(true)

	f := r.craft.Safety().Fault()
	if f.Reason != flight.FaultMotorWrite {
		t.Fatalf("fault = %v", f)
	}
	if r.motors.get("FL") != 0 || r.motors.get("FR") != 0 || r.motors.get("BL") != 0 {
		t.Errorf("healthy motors not zeroed: %v", r.motors.all())
	}
}

func TestCalibrationServicedWhileDisarmed(t *testing.T) {
	r := newRig(&levelSensor{})
	r.tick(true)
	r.send("calibrate")
	r.tick(true)
	snap, _ := r.craft.Board().Latest()
	if !snap.Calibrating {
		t.Fatal("calibration not started")
	}
	r.ticks(testConfig.CalibrationSamples, true)
	snap, _ = r.craft.Board().Latest()
	if snap.Calibrating {
		t.Error("calibration did not finish")
	}
}

func TestArmTransitionsLogged(t *testing.T) {
	r := newRig(&levelSensor{})
	r.arm()
	r.send("halt")

	logs := r.logs.String()
	for _, want := range []string{
		"component=safety",
		"from=disarmed to=arming",
		"from=arming to=armed",
		"from=armed to=halted reason=halt_command",
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("log missing %q:\n%s", want, logs)
		}
	}
}

func TestIdleThrottleWhileArmed(t *testing.T) {
	r := newRig(&levelSensor{})
	r.arm()
	r.send("roll", 0.5)
	r.ticks(5, true)
	if r.motors.all() != [4]float64{} {
		t.Errorf("zero throttle spun motors: %v", r.motors.all())
	}
	if r.loop.Control().Integrals() != [3]float64{} {
		t.Error("integrals accumulated at idle")
	}
}

func TestRunZerosOnExit(t *testing.T) {
	r := newRig(&levelSensor{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := r.loop.Run(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal(err)
	}
	if r.loop.Ticks() == 0 {
		t.Error("no ticks ran")
	}
	if r.motors.all() != [4]float64{} {
		t.Errorf("duties after exit = %v", r.motors.all())
	}
}
