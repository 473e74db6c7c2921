package craft

import (
	"errors"
	"testing"
	"time"

	"github.com/san-kum/quadfc/internal/flight"
)

func TestLinkAge(t *testing.T) {
	c := New()
	now := time.Unix(50, 0)
	if c.LinkAge(now) < time.Hour {
		t.Error("link age before first command should be effectively infinite")
	}
	c.TouchLink(now)
	if got := c.LinkAge(now.Add(300 * time.Millisecond)); got != 300*time.Millisecond {
		t.Errorf("LinkAge() = %v", got)
	}
}

func TestCalibrationRequest(t *testing.T) {
	c := New()
	if c.TakeCalibrationRequest() {
		t.Error("no request pending")
	}
	if !c.RequestCalibration() {
		t.Error("first request refused")
	}
	if c.RequestCalibration() {
		t.Error("duplicate request accepted")
	}
	if !c.TakeCalibrationRequest() || c.TakeCalibrationRequest() {
		t.Error("take did not clear the flag")
	}
}

func TestSharedState(t *testing.T) {
	c := New()
	if c.ArmState() != flight.Disarmed {
		t.Errorf("ArmState() = %v", c.ArmState())
	}
	if _, err := c.ClaimSetpointWriter(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ClaimSetpointWriter(); !errors.Is(err, flight.ErrWriterClaimed) {
		t.Errorf("second claim err = %v", err)
	}
	if c.LastRejection() != "" {
		t.Error("unexpected rejection")
	}
	c.SetLastRejection("arm: throttle not zero")
	if c.LastRejection() != "arm: throttle not zero" {
		t.Errorf("LastRejection() = %q", c.LastRejection())
	}
	c.SetSensorHealthy(true)
	if !c.SensorHealthy() {
		t.Error("SensorHealthy()")
	}
}
