// Package sim provides a simulated quadrotor that stands in for the
// inertial sensor and the motor driver.
//
// A [Plant] integrates [physics.Quad] with the duties last written to it
// and reports noisy accelerometer and gyro samples. Sensor and motor
// faults can be injected to exercise the safety paths.
package sim
