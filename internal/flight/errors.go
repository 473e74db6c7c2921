package flight

import "errors"

// Boundary and ownership errors shared by the core packages.
var (
	// ErrSensorFailed indicates consecutive sensor failures reached the threshold.
	ErrSensorFailed = errors.New("flight: sensor failed")

	// ErrSensorUnavailable indicates no sensor is attached.
	ErrSensorUnavailable = errors.New("flight: sensor unavailable")

	// ErrMotorWrite indicates a motor driver rejected a duty write.
	ErrMotorWrite = errors.New("flight: motor write failed")

	// ErrWriterClaimed indicates the setpoint writer has already been handed out.
	ErrWriterClaimed = errors.New("flight: setpoint writer already claimed")
)

// MotorWriteError wraps a driver failure with the slot that caused it.
type MotorWriteError struct {
	Code    string
	Value   float64
	Wrapped error
}

func (e *MotorWriteError) Error() string {
	return "flight: motor " + e.Code + ": " + e.Wrapped.Error()
}

func (e *MotorWriteError) Unwrap() []error {
	return []error{ErrMotorWrite, e.Wrapped}
}
