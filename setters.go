package open_manipulator

import (
	"slices"

	"github.com/pkg/errors"

	"open_manipulator/ommath"
)

// Every setter validates its input before touching the tree; on error the prior state is kept.

func (m *Manipulator) writeComponent(name Name, fn func(*Component) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[name]
	if !ok {
		return notFound(name)
	}
	return fn(c)
}

func (m *Manipulator) writeWorld(fn func(*World) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.world == nil {
		return ErrWorldNotSet
	}
	return fn(m.world)
}

func checkSpatial(what string, v ommath.SpatialVector) error {
	if !v.IsFinite() {
		return invalid("%s %v is not finite", what, v)
	}
	return nil
}

func (m *Manipulator) SetWorldPose(pose Pose) error {
	pose, err := pose.normalized()
	if err != nil {
		return err
	}
	return m.writeWorld(func(w *World) error {
		w.State.Pose = pose
		return nil
	})
}

func (m *Manipulator) SetWorldPosition(position ommath.Vector3) error {
	if !ommath.IsFiniteVector(position) {
		return invalid("position %v is not finite", position)
	}
	return m.writeWorld(func(w *World) error {
		w.State.Position = position
		return nil
	})
}

func (m *Manipulator) SetWorldOrientation(orientation ommath.Matrix3) error {
	pose, err := Pose{Orientation: orientation}.normalized()
	if err != nil {
		return err
	}
	return m.writeWorld(func(w *World) error {
		w.State.Orientation = pose.Orientation
		return nil
	})
}

func (m *Manipulator) SetWorldState(state State) error {
	if err := state.Validate(); err != nil {
		return err
	}
	pose, err := state.Pose.normalized()
	if err != nil {
		return err
	}
	state.Pose = pose
	return m.writeWorld(func(w *World) error {
		w.State = state
		return nil
	})
}

func (m *Manipulator) SetWorldVelocity(velocity ommath.SpatialVector) error {
	if err := checkSpatial("velocity", velocity); err != nil {
		return err
	}
	return m.writeWorld(func(w *World) error {
		w.State.Velocity = velocity
		return nil
	})
}

func (m *Manipulator) SetWorldAcceleration(acceleration ommath.SpatialVector) error {
	if err := checkSpatial("acceleration", acceleration); err != nil {
		return err
	}
	return m.writeWorld(func(w *World) error {
		w.State.Acceleration = acceleration
		return nil
	})
}

// SetComponent replaces the non-structural fields of a component: relative state, joint,
// tool and inertia. Name, parent and children must match the stored ones, and a link stays a
// link and a tool stays a tool. Changing the joint's actuator id follows SetComponentJointID.
func (m *Manipulator) SetComponent(name Name, comp Component) error {
	relative, err := comp.Relative.Pose.normalized()
	if err != nil {
		return errors.Wrapf(err, "component %q", name)
	}
	if err := checkSpatial("relative velocity", comp.Relative.Velocity); err != nil {
		return err
	}
	if err := checkSpatial("relative acceleration", comp.Relative.Acceleration); err != nil {
		return err
	}
	if err := comp.Inertia.Validate(); err != nil {
		return errors.Wrapf(err, "component %q", name)
	}
	comp = comp.clone()
	comp.Relative.Pose = relative
	if comp.Joint != nil {
		if err := comp.Joint.validate(); err != nil {
			return errors.Wrapf(err, "component %q", name)
		}
	}
	if comp.Tool != nil && (comp.Tool.ID < NoID || !finite(comp.Tool.Value)) {
		return invalid("tool of %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[name]
	if !ok {
		return notFound(name)
	}
	if comp.Name != c.Name || comp.Parent != c.Parent || !slices.Equal(comp.Children, c.Children) {
		return invalid("%q: name, parent and children cannot be changed through SetComponent", name)
	}
	if (comp.Joint == nil) != (c.Joint == nil) || (comp.Tool == nil) != (c.Tool == nil) {
		return invalid("%q: joint and tool presence cannot change", name)
	}
	dof := m.dof
	if c.Joint != nil && comp.Joint.ID != c.Joint.ID {
		if dof, err = m.checkJointIDChange(c, *comp.Joint); err != nil {
			return err
		}
	}

	c.Relative = comp.Relative
	c.Inertia = comp.Inertia
	c.Joint = comp.Joint
	c.Tool = comp.Tool
	m.dof = dof
	if c.Joint != nil {
		m.jointWrites.Add(1)
	}
	return nil
}

// checkJointIDChange validates replacing c's joint by next, whose actuator id differs, and
// returns the resulting DOF. Caller holds mu.
func (m *Manipulator) checkJointIDChange(c *Component, next Joint) (int, error) {
	id := next.ID
	if m.closed {
		return 0, errors.Wrapf(ErrTreeClosed, "cannot change actuator id of %q", c.Name)
	}
	if id < NoID {
		return 0, invalid("joint id %d", id)
	}
	dof := m.dof
	if c.Joint.Actuated() {
		dof--
	}
	if id >= 0 {
		if !next.Movable() {
			return 0, invalid("%q: actuated joint %d needs a rotation axis", c.Name, id)
		}
		if other, ok := m.actuatorOwner(id); ok && other != c.Name {
			return 0, errors.Wrapf(ErrDuplicateActuatorID, "id %d on %q and %q", id, other, c.Name)
		}
		dof++
	}
	return dof, nil
}

// SetComponentJointID assigns (id >= 0) or clears (NoID) the actuator of a joint and updates
// the DOF. Only allowed before the tree is closed.
func (m *Manipulator) SetComponentJointID(name Name, id int) error {
	return m.writeComponent(name, func(c *Component) error {
		if c.Joint == nil {
			return errNoJoint(name)
		}
		if id == c.Joint.ID {
			return nil
		}
		next := *c.Joint
		next.ID = id
		dof, err := m.checkJointIDChange(c, next)
		if err != nil {
			return err
		}
		c.Joint.ID = id
		m.dof = dof
		return nil
	})
}

func (m *Manipulator) SetComponentPoseToWorld(name Name, pose Pose) error {
	if err := pose.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, parent, err := m.parentState(name)
	if err != nil {
		return err
	}
	rel, err := relativePoseFor(parent, c, pose)
	if err != nil {
		return err
	}
	c.Relative.Pose = rel
	return nil
}

func (m *Manipulator) SetComponentPositionToWorld(name Name, position ommath.Vector3) error {
	if !ommath.IsFiniteVector(position) {
		return invalid("position %v is not finite", position)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, parent, err := m.parentState(name)
	if err != nil {
		return err
	}
	c.Relative.Position = parent.Pose.Relative(Pose{Position: position, Orientation: ommath.Identity()}).Position
	return nil
}

func (m *Manipulator) SetComponentOrientationToWorld(name Name, orientation ommath.Matrix3) error {
	if err := ommath.CheckRotation(orientation); err != nil {
		return invalid("orientation: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, parent, err := m.parentState(name)
	if err != nil {
		return err
	}
	current := propagate(parent, c)
	rel, err := relativePoseFor(parent, c, Pose{Position: current.Position, Orientation: orientation})
	if err != nil {
		return err
	}
	c.Relative.Orientation = rel.Orientation
	return nil
}

func (m *Manipulator) SetComponentStateToWorld(name Name, state State) error {
	if err := state.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, parent, err := m.parentState(name)
	if err != nil {
		return err
	}
	rel, err := relativePoseFor(parent, c, state.Pose)
	if err != nil {
		return err
	}
	next := *c
	next.Relative.Pose = rel
	vel, acc := motionOffsets(parent, &next, state.Velocity, state.Acceleration)
	c.Relative = State{Pose: rel, Velocity: vel, Acceleration: acc}
	return nil
}

func (m *Manipulator) SetComponentVelocityToWorld(name Name, velocity ommath.SpatialVector) error {
	if err := checkSpatial("velocity", velocity); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, parent, err := m.parentState(name)
	if err != nil {
		return err
	}
	vel, _ := motionOffsets(parent, c, velocity, ommath.SpatialVector{})
	c.Relative.Velocity = vel
	return nil
}

func (m *Manipulator) SetComponentAccelerationToWorld(name Name, acceleration ommath.SpatialVector) error {
	if err := checkSpatial("acceleration", acceleration); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, parent, err := m.parentState(name)
	if err != nil {
		return err
	}
	_, acc := motionOffsets(parent, c, ommath.SpatialVector{}, acceleration)
	c.Relative.Acceleration = acc
	return nil
}

// movableJointID returns the actuator id of name's joint, failing for tools and fixed joints.
func (m *Manipulator) movableJointID(name Name) (int, error) {
	return readComponent(m, name, func(c *Component) (int, error) {
		if c.Joint == nil || !c.Joint.Movable() {
			return 0, errNoJoint(name)
		}
		return c.Joint.ID, nil
	})
}

// SetComponentJointAngle pushes angle to the actuator (when the joint has one and a driver is
// connected) and then stores it. It holds the actuator lock throughout, so it waits for an
// in-flight control tick and the tick cannot overwrite it afterwards.
func (m *Manipulator) SetComponentJointAngle(name Name, angle float64) error {
	if !finite(angle) {
		return invalid("joint angle %v is not finite", angle)
	}
	return m.actuator.Do(func(a Actuator) error {
		id, err := m.movableJointID(name)
		if err != nil {
			return err
		}
		if a != nil && id >= 0 {
			if err := a.SetJointAngle(id, angle); err != nil {
				return errors.Wrapf(err, "actuator %d of %q", id, name)
			}
		}
		if err := m.writeComponent(name, func(c *Component) error {
			c.Joint.Angle = angle
			return nil
		}); err != nil {
			return err
		}
		m.jointWrites.Add(1)
		return nil
	})
}

func (m *Manipulator) SetComponentJointVelocity(name Name, velocity float64) error {
	if !finite(velocity) {
		return invalid("joint velocity %v is not finite", velocity)
	}
	return m.writeComponent(name, func(c *Component) error {
		if c.Joint == nil || !c.Joint.Movable() {
			return errNoJoint(name)
		}
		c.Joint.Velocity = velocity
		return nil
	})
}

func (m *Manipulator) SetComponentJointAcceleration(name Name, acceleration float64) error {
	if !finite(acceleration) {
		return invalid("joint acceleration %v is not finite", acceleration)
	}
	return m.writeComponent(name, func(c *Component) error {
		if c.Joint == nil || !c.Joint.Movable() {
			return errNoJoint(name)
		}
		c.Joint.Acceleration = acceleration
		return nil
	})
}

// SetAllJointAngle writes every actuated joint at once, ordered by actuator id, pushing the
// angles to the actuator first.
func (m *Manipulator) SetAllJointAngle(angles []float64) error {
	for _, a := range angles {
		if !finite(a) {
			return invalid("joint angle %v is not finite", a)
		}
	}
	angles = append([]float64(nil), angles...)
	return m.actuator.Do(func(a Actuator) error {
		if n := m.DOF(); len(angles) != n {
			return invalid("got %d joint angles for %d DOF", len(angles), n)
		}
		if a != nil {
			if err := a.SetAllJointAngle(angles); err != nil {
				return errors.Wrap(err, "actuator")
			}
		}
		if err := m.storeActiveAngles(angles); err != nil {
			return err
		}
		m.jointWrites.Add(1)
		return nil
	})
}

func (m *Manipulator) storeActiveAngles(angles []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.activeJoints()
	if len(angles) != len(active) {
		return invalid("got %d joint angles for %d DOF", len(angles), len(active))
	}
	for i, c := range active {
		c.Joint.Angle = angles[i]
	}
	return nil
}

// applyJointSolution stores a solver's joint angles all-or-nothing. It does not count as a
// foreground write.
func (m *Manipulator) applyJointSolution(sol JointSolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkJointSolution(sol); err != nil {
		return err
	}
	for name, angle := range sol {
		m.components[name].Joint.Angle = angle
	}
	return nil
}

// solvedJointAngles returns the actuated joint angles, ordered by actuator id, with sol laid
// over the current ones. The tree is not modified.
func (m *Manipulator) solvedJointAngles(sol JointSolution) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkJointSolution(sol); err != nil {
		return nil, err
	}
	active := m.activeJoints()
	out := make([]float64, len(active))
	for i, c := range active {
		out[i] = c.Joint.Angle
		if angle, ok := sol[c.Name]; ok {
			out[i] = angle
		}
	}
	return out, nil
}

func (m *Manipulator) checkJointSolution(sol JointSolution) error {
	for name, angle := range sol {
		c, ok := m.components[name]
		if !ok {
			return notFound(name)
		}
		if c.Joint == nil || !c.Joint.Movable() {
			return errNoJoint(name)
		}
		if !finite(angle) {
			return invalid("joint angle %v for %q is not finite", angle, name)
		}
	}
	return nil
}

func (m *Manipulator) SetComponentToolOnOff(name Name, on bool) error {
	return m.writeComponent(name, func(c *Component) error {
		if c.Tool == nil {
			return errNoTool(name)
		}
		c.Tool.On = on
		return nil
	})
}

func (m *Manipulator) SetComponentToolValue(name Name, value float64) error {
	if !finite(value) {
		return invalid("tool value %v is not finite", value)
	}
	return m.writeComponent(name, func(c *Component) error {
		if c.Tool == nil {
			return errNoTool(name)
		}
		c.Tool.Value = value
		return nil
	})
}
