// Package flight defines the shared vocabulary of the flight-control core.
//
// The types here are exchanged between the core components:
//
//   - [AttitudeEstimate]: fused orientation produced by the fusion stage
//   - [Setpoint]: pilot demand (throttle, roll, pitch, yaw)
//   - [ArmState]: safety gate for motor output
//   - [Command]: closed set of parsed operator commands
//   - [Sensor], [MotorDriver]: hardware boundaries
//
// # Shared setpoint
//
// [SetpointStore] publishes the setpoint through a copy-on-write pointer.
// Exactly one [SetpointWriter] may exist per store; readers take a
// wait-free snapshot and can never observe a partially written value.
package flight
