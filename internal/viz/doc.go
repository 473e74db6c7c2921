// Package viz is the live flight console: a Bubble Tea program that
// renders the latest telemetry snapshot and turns key presses into
// operator events.
//
// # Key Bindings
//
//	a        - arm
//	d        - disarm
//	space/h  - halt
//	c        - calibrate gyro
//	w/s      - throttle up/down
//	x        - throttle to zero
//	arrows   - roll and pitch
//	[ ]      - yaw
//	0        - center roll, pitch and yaw
//	t        - cycle themes
//	q        - quit
package viz
