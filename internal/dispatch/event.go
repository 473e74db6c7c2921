package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/san-kum/quadfc/internal/flight"
)

var (
	// ErrUnknownEvent indicates an event name outside the command set.
	ErrUnknownEvent = errors.New("dispatch: unknown event")

	// ErrMalformed indicates a known event with an invalid payload.
	ErrMalformed = errors.New("dispatch: malformed event")
)

// Event is a command as it arrives from a transport.
type Event struct {
	Name  string   `json:"event" msgpack:"event"`
	Value *float64 `json:"value,omitempty" msgpack:"value,omitempty"`
}

// NewEvent is a convenience for building an event with a payload.
func NewEvent(name string, v float64) Event {
	return Event{Name: name, Value: &v}
}

var axes = map[string]flight.Axis{
	"throttle": flight.AxisThrottle,
	"roll":     flight.AxisRoll,
	"pitch":    flight.AxisPitch,
	"yaw":      flight.AxisYaw,
}

// Parse turns an event into a command. Axis payloads outside their range
// are clamped; a missing or non-finite payload is malformed.
func Parse(e Event) (flight.Command, error) {
	name := strings.ToLower(strings.TrimSpace(e.Name))

	if axis, ok := axes[name]; ok {
		if e.Value == nil {
			return nil, fmt.Errorf("%w: %s requires a value", ErrMalformed, name)
		}
		v := *e.Value
		if !flight.Finite(v) {
			return nil, fmt.Errorf("%w: %s value %v", ErrMalformed, name, v)
		}
		lo, hi := axis.Range()
		return flight.SetAxis{Axis: axis, Value: flight.Clamp(v, lo, hi)}, nil
	}

	switch name {
	case "arm":
		return flight.Arm{}, nil
	case "disarm":
		return flight.Disarm{}, nil
	case "halt":
		return flight.Halt{}, nil
	case "calibrate":
		return flight.Calibrate{}, nil
	case "heartbeat", "ping":
		return flight.Heartbeat{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Name)
}
