package hw

import (
	"context"
	"fmt"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/san-kum/quadfc/internal/telemetry"
)

// Pin is a digital output. rpio.Pin satisfies it.
type Pin interface {
	High()
	Low()
}

// Pattern is an LED blink cadence. A zero Off keeps the LED solid on; a
// zero On keeps it off.
type Pattern struct {
	On, Off time.Duration
}

var (
	PatternOff       = Pattern{}
	PatternSolid     = Pattern{On: time.Second}
	PatternSlowFlash = Pattern{On: 250 * time.Millisecond, Off: 250 * time.Millisecond}
	PatternFastFlash = Pattern{On: 50 * time.Millisecond, Off: 50 * time.Millisecond}
	PatternFault     = Pattern{On: 100 * time.Millisecond, Off: 400 * time.Millisecond}
)

// StatusLED shows the arm state on a single LED. It is a telemetry sink
// and updates on every snapshot it receives.
type StatusLED struct {
	pin        Pin
	pattern    Pattern
	isOn       bool
	lastToggle time.Time
	now        func() time.Time
}

// OpenStatusLED maps GPIO memory and configures pin (BCM numbering) as an
// output.
func OpenStatusLED(pin int) (*StatusLED, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	return NewStatusLED(p), nil
}

// NewStatusLED wraps an already configured pin.
func NewStatusLED(p Pin) *StatusLED {
	return &StatusLED{pin: p, now: time.Now}
}

// PatternFor picks the cadence for a snapshot.
func PatternFor(s telemetry.Snapshot) Pattern {
	switch {
	case s.ArmState == "halted":
		return PatternFault
	case s.Calibrating, s.ArmState == "arming":
		return PatternFastFlash
	case s.ArmState == "armed":
		return PatternSolid
	case s.ArmState == "disarmed":
		return PatternSlowFlash
	}
	return PatternOff
}

func (l *StatusLED) Name() string { return "led" }

func (l *StatusLED) Send(_ context.Context, s telemetry.Snapshot) error {
	l.Update(PatternFor(s))
	return nil
}

// Update applies p and toggles the pin if the current phase has elapsed.
func (l *StatusLED) Update(p Pattern) {
	now := l.now()
	if p != l.pattern {
		l.pattern = p
		l.lastToggle = now
		l.set(p.On > 0)
		return
	}
	switch {
	case p.On == 0:
		l.set(false)
	case p.Off == 0:
		l.set(true)
	default:
		phase := p.Off
		if l.isOn {
			phase = p.On
		}
		if now.Sub(l.lastToggle) >= phase {
			l.set(!l.isOn)
			l.lastToggle = now
		}
	}
}

// IsOn reports the last level written.
func (l *StatusLED) IsOn() bool { return l.isOn }

func (l *StatusLED) set(on bool) {
	if on {
		l.pin.High()
	} else {
		l.pin.Low()
	}
	l.isOn = on
}

// Close turns the LED off and unmaps GPIO memory.
func (l *StatusLED) Close() error {
	l.set(false)
	if _, ok := l.pin.(rpio.Pin); ok {
		return rpio.Close()
	}
	return nil
}
