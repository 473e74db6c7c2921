// Package physics provides the airframe model used by the simulator.
//
// [Quad] implements [dynamo.System] for an X-frame quadrotor: Euler-angle
// kinematics, rigid-body rotation driven by differential thrust and rotor
// drag, and vertical translation.
//
//	quad := physics.NewQuad(physics.DefaultQuadParams())
//	u := dynamo.Control{t, t, t, t}
//	dx := quad.Derive(x, u, 0)
package physics
