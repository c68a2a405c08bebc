package open_manipulator

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"open_manipulator/ommath"
)

// To-world states are never stored. Every query walks world -> component and composes the
// relative geometry with the joint state, so a getter always sees the latest writes.
//
// For a component c with parent p (both in the world frame):
//
//	R_c = R_p · R_rel · Rot(axis, q)          p_c = p_p + R_p · p_rel
//	ω_c = ω_p + z q̇ + ω_off                   v_c = v_p + ω_p × r + v_off
//	α_c = α_p + z q̈ + ω_p × z q̇ + α_off        a_c = a_p + α_p × r + ω_p × (ω_p × r) + a_off
//
// where z = R_c · axis and r = p_c - p_p. The _off terms are the component's Relative
// velocity/acceleration and are zero unless set through a to-world setter.

// path returns the chain from name up to, but excluding, the world. Caller holds mu.
func (m *Manipulator) path(name Name) ([]*Component, error) {
	if m.world == nil {
		return nil, ErrWorldNotSet
	}
	var chain []*Component
	for cur := name; cur != m.world.Name; {
		c, ok := m.components[cur]
		if !ok {
			if cur == name {
				return nil, notFound(name)
			}
			return nil, errors.Wrapf(ErrBrokenChain, "%q has missing ancestor %q", name, cur)
		}
		chain = append(chain, c)
		if len(chain) > len(m.components) {
			return nil, errors.Wrapf(ErrBrokenChain, "cycle above %q", name)
		}
		cur = c.Parent
	}
	return chain, nil
}

// parentState returns the world state of name's parent. Caller holds mu.
func (m *Manipulator) parentState(name Name) (*Component, State, error) {
	chain, err := m.path(name)
	if err != nil {
		return nil, State{}, err
	}
	s := m.world.State
	for i := len(chain) - 1; i >= 1; i-- {
		s = propagate(s, chain[i])
	}
	return chain[0], s, nil
}

// worldState returns the world state of name, which may be the world itself. Caller holds mu.
func (m *Manipulator) worldState(name Name) (State, error) {
	if m.world != nil && name == m.world.Name {
		return m.world.State, nil
	}
	c, parent, err := m.parentState(name)
	if err != nil {
		return State{}, err
	}
	return propagate(parent, c), nil
}

// jointTerms returns the joint rotation, world-frame axis scaled by velocity and by
// acceleration for c given its orientation before the joint.
func jointTerms(c *Component, preJoint ommath.Matrix3) (ommath.Matrix3, ommath.Vector3, ommath.Vector3) {
	if c.Joint == nil || !c.Joint.Movable() {
		return ommath.Identity(), r3.Vector{}, r3.Vector{}
	}
	j := c.Joint
	// the axis is invariant under its own rotation, so R_c·axis == preJoint·axis
	z := ommath.MulVec(preJoint, j.Axis)
	return ommath.RotateAbout(j.Axis, j.Angle), z.Mul(j.Velocity), z.Mul(j.Acceleration)
}

func propagate(parent State, c *Component) State {
	rel := c.Relative
	preJoint := parent.Orientation.Mul3(rel.Orientation)
	jointRot, zqd, zqdd := jointTerms(c, preJoint)

	var out State
	out.Orientation = preJoint.Mul3(jointRot)
	out.Position = parent.Position.Add(ommath.MulVec(parent.Orientation, rel.Position))

	r := out.Position.Sub(parent.Position)
	w := parent.Velocity.Angular
	dw := parent.Acceleration.Angular

	out.Velocity.Angular = w.Add(zqd).Add(rel.Velocity.Angular)
	out.Velocity.Linear = parent.Velocity.Linear.Add(w.Cross(r)).Add(rel.Velocity.Linear)
	out.Acceleration.Angular = dw.Add(zqdd).Add(w.Cross(zqd)).Add(rel.Acceleration.Angular)
	out.Acceleration.Linear = parent.Acceleration.Linear.
		Add(dw.Cross(r)).
		Add(w.Cross(w.Cross(r))).
		Add(rel.Acceleration.Linear)
	return out
}

// propagatedMotion is what propagate would give c with zero velocity/acceleration offsets.
func propagatedMotion(parent State, c *Component) State {
	bare := *c
	bare.Relative.Velocity = ommath.SpatialVector{}
	bare.Relative.Acceleration = ommath.SpatialVector{}
	return propagate(parent, &bare)
}

// relativePoseFor back-solves the relative pose that puts c at world pose target, keeping the
// joint angle. Caller holds mu.
func relativePoseFor(parent State, c *Component, target Pose) (Pose, error) {
	rel := parent.Pose.Relative(target)
	jointRot, _, _ := jointTerms(c, ommath.Identity())
	rel.Orientation = rel.Orientation.Mul3(jointRot.Transpose())
	return rel.normalized()
}

// motionOffsets back-solves the velocity and acceleration offsets that make c's world motion
// equal vel and acc. The pose must already be in place.
func motionOffsets(parent State, c *Component, vel, acc ommath.SpatialVector) (ommath.SpatialVector, ommath.SpatialVector) {
	base := propagatedMotion(parent, c)
	return vel.Sub(base.Velocity), acc.Sub(base.Acceleration)
}

// centerOfMassPose returns the world pose of c's center of mass given c's world pose.
func centerOfMassPose(world Pose, c *Component) Pose {
	return world.Compose(Pose{Position: c.Inertia.CenterOfMass, Orientation: ommath.Identity()})
}
