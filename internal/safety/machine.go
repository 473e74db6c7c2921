// Package safety implements the arm/disarm state machine that gates motor
// output.
//
// State reads are wait-free so the control loop never blocks on a command
// in flight. Transitions are serialised by a mutex held only for the
// duration of the state check and swap.
package safety

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/san-kum/quadfc/internal/flight"
)

var (
	// ErrArmRejected indicates an arm request failed a precondition.
	ErrArmRejected = errors.New("safety: arm rejected")

	// ErrHalted indicates the machine is latched in Halted.
	ErrHalted = errors.New("safety: halted")
)

// ArmCheck carries the preconditions evaluated on an arm request.
type ArmCheck struct {
	SensorHealthy bool
	Throttle      float64
}

// Machine is the arm state machine. The zero value is not usable; call New.
type Machine struct {
	state atomic.Int32

	mu          sync.Mutex
	fault       flight.Fault
	armingSince time.Time
	armedAt     time.Time
	onChange    func(from, to flight.ArmState, f flight.Fault)
}

// New returns a machine in Disarmed.
func New() *Machine {
	m := &Machine{}
	m.state.Store(int32(flight.Disarmed))
	return m
}

// OnTransition registers a callback invoked after every state change. It
// runs under the transition lock and must not call back into the machine.
func (m *Machine) OnTransition(fn func(from, to flight.ArmState, f flight.Fault)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// State returns the current state without locking.
func (m *Machine) State() flight.ArmState {
	return flight.ArmState(m.state.Load())
}

// Fault returns the fault that latched the machine, if any.
func (m *Machine) Fault() flight.Fault {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fault
}

// ArmingSince returns when the current arming sequence started.
func (m *Machine) ArmingSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armingSince
}

// RequestArm moves Disarmed -> Arming when every precondition holds.
func (m *Machine) RequestArm(c ArmCheck, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch s := m.State(); s {
	case flight.Halted:
		return ErrHalted
	case flight.Disarmed:
	default:
		return fmt.Errorf("%w: already %s", ErrArmRejected, s)
	}

	if !c.SensorHealthy {
		return fmt.Errorf("%w: sensor unavailable", ErrArmRejected)
	}
	if c.Throttle != 0 {
		return fmt.Errorf("%w: throttle %.3f not zero", ErrArmRejected, c.Throttle)
	}

	m.armingSince = now
	m.set(flight.Arming)
	return nil
}

// CompleteArming moves Arming -> Armed.
func (m *Machine) CompleteArming(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch s := m.State(); s {
	case flight.Arming:
		m.armedAt = now
		m.set(flight.Armed)
		return nil
	case flight.Halted:
		return ErrHalted
	default:
		return fmt.Errorf("safety: cannot complete arming from %s", s)
	}
}

// Disarm stops an armed craft by latching it in Halted, or aborts an
// arming sequence back to Disarmed. It is a no-op when already disarmed.
func (m *Machine) Disarm(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.State() {
	case flight.Armed:
		m.latch(flight.Fault{Reason: flight.FaultDisarmCommand, At: now})
	case flight.Arming:
		m.armingSince = time.Time{}
		m.set(flight.Disarmed)
	case flight.Halted:
		return ErrHalted
	}
	return nil
}

// Halt latches the machine from any state.
func (m *Machine) Halt(now time.Time) error {
	return m.Trip(flight.Fault{Reason: flight.FaultHaltCommand, At: now})
}

// Trip latches the machine with the given fault.
func (m *Machine) Trip(f flight.Fault) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == flight.Halted {
		return ErrHalted
	}
	m.latch(f)
	return nil
}

func (m *Machine) latch(f flight.Fault) {
	m.fault = f
	m.set(flight.Halted)
}

func (m *Machine) set(to flight.ArmState) {
	from := flight.ArmState(m.state.Swap(int32(to)))
	if m.onChange != nil && from != to {
		m.onChange(from, to, m.fault)
	}
}
