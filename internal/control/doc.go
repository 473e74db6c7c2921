// Package control implements the attitude control law.
//
//   - [PID]: single-axis PID with derivative on measurement and a clamped
//     integral
//   - [Attitude]: roll and pitch in angle mode, yaw in rate mode
//
// # Usage
//
//	ctl := control.NewAttitude(control.DefaultLimits(), roll, pitch, yaw)
//	torque := ctl.Update(setpoint, estimate, dt)
//
// Controllers do no I/O, take no locks and do not allocate per update.
// Gains can be adjusted between ticks through [PID.SetParam].
package control
