// Package dynamo provides the numerical primitives behind the simulated
// airframe.
//
//   - [State]: vector representing plant state
//   - [System]: interface for ODE systems (dX/dt = f(X, u, t))
//   - [Integrator]: fixed-step numerical integrator
//
// # Example
//
//	quad := physics.NewQuad(physics.DefaultQuadParams())
//	rk4 := integrators.NewRK4()
//	x = rk4.Step(quad, x, u, t, dt)
package dynamo
