package open_manipulator

import (
	"open_manipulator/ommath"
)

// readComponent runs fn on the named component under the read lock.
func readComponent[T any](m *Manipulator, name Name, fn func(*Component) (T, error)) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.components[name]
	if !ok {
		var zero T
		return zero, notFound(name)
	}
	return fn(c)
}

func readWorld[T any](m *Manipulator, fn func(*World) T) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.world == nil {
		var zero T
		return zero, ErrWorldNotSet
	}
	return fn(m.world), nil
}

func readJoint[T any](m *Manipulator, name Name, fn func(*Joint) T) (T, error) {
	return readComponent(m, name, func(c *Component) (T, error) {
		if c.Joint == nil {
			var zero T
			return zero, errNoJoint(name)
		}
		return fn(c.Joint), nil
	})
}

func readTool[T any](m *Manipulator, name Name, fn func(*Tool) T) (T, error) {
	return readComponent(m, name, func(c *Component) (T, error) {
		if c.Tool == nil {
			var zero T
			return zero, errNoTool(name)
		}
		return fn(c.Tool), nil
	})
}

// DOF returns the number of actuated joints.
func (m *Manipulator) DOF() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dof
}

// ComponentSize returns the number of components, tools included, world excluded.
func (m *Manipulator) ComponentSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.components)
}

func (m *Manipulator) WorldName() (Name, error) {
	return readWorld(m, func(w *World) Name { return w.Name })
}

func (m *Manipulator) WorldChildName() (Name, error) {
	return readWorld(m, func(w *World) Name { return w.Child })
}

func (m *Manipulator) WorldState() (State, error) {
	return readWorld(m, func(w *World) State { return w.State })
}

func (m *Manipulator) WorldPose() (Pose, error) {
	return readWorld(m, func(w *World) Pose { return w.State.Pose })
}

func (m *Manipulator) WorldPosition() (ommath.Vector3, error) {
	return readWorld(m, func(w *World) ommath.Vector3 { return w.State.Position })
}

func (m *Manipulator) WorldOrientation() (ommath.Matrix3, error) {
	return readWorld(m, func(w *World) ommath.Matrix3 { return w.State.Orientation })
}

func (m *Manipulator) WorldVelocity() (ommath.SpatialVector, error) {
	return readWorld(m, func(w *World) ommath.SpatialVector { return w.State.Velocity })
}

func (m *Manipulator) WorldAcceleration() (ommath.SpatialVector, error) {
	return readWorld(m, func(w *World) ommath.SpatialVector { return w.State.Acceleration })
}

// AllComponents returns a deep copy of every component keyed by name.
func (m *Manipulator) AllComponents() map[Name]Component {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Name]Component, len(m.components))
	for name, c := range m.components {
		out[name] = c.clone()
	}
	return out
}

// Component returns a deep copy of the named component.
func (m *Manipulator) Component(name Name) (Component, error) {
	return readComponent(m, name, func(c *Component) (Component, error) { return c.clone(), nil })
}

func (m *Manipulator) ComponentParentName(name Name) (Name, error) {
	return readComponent(m, name, func(c *Component) (Name, error) { return c.Parent, nil })
}

// ComponentChildName returns the ordered child list.
func (m *Manipulator) ComponentChildName(name Name) ([]Name, error) {
	return readComponent(m, name, func(c *Component) ([]Name, error) {
		return append([]Name(nil), c.Children...), nil
	})
}

// ComponentStateToWorld derives the full world-frame state of the named component.
func (m *Manipulator) ComponentStateToWorld(name Name) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.components[name]; !ok {
		return State{}, notFound(name)
	}
	return m.worldState(name)
}

func (m *Manipulator) ComponentPoseToWorld(name Name) (Pose, error) {
	s, err := m.ComponentStateToWorld(name)
	return s.Pose, err
}

func (m *Manipulator) ComponentPositionToWorld(name Name) (ommath.Vector3, error) {
	s, err := m.ComponentStateToWorld(name)
	return s.Position, err
}

func (m *Manipulator) ComponentOrientationToWorld(name Name) (ommath.Matrix3, error) {
	s, err := m.ComponentStateToWorld(name)
	if err != nil {
		return ommath.Identity(), err
	}
	return s.Orientation, nil
}

func (m *Manipulator) ComponentVelocityToWorld(name Name) (ommath.SpatialVector, error) {
	s, err := m.ComponentStateToWorld(name)
	return s.Velocity, err
}

func (m *Manipulator) ComponentAccelerationToWorld(name Name) (ommath.SpatialVector, error) {
	s, err := m.ComponentStateToWorld(name)
	return s.Acceleration, err
}

func (m *Manipulator) ComponentRelativePoseToParent(name Name) (Pose, error) {
	return readComponent(m, name, func(c *Component) (Pose, error) { return c.Relative.Pose, nil })
}

func (m *Manipulator) ComponentRelativePositionToParent(name Name) (ommath.Vector3, error) {
	return readComponent(m, name, func(c *Component) (ommath.Vector3, error) { return c.Relative.Position, nil })
}

func (m *Manipulator) ComponentRelativeOrientationToParent(name Name) (ommath.Matrix3, error) {
	return readComponent(m, name, func(c *Component) (ommath.Matrix3, error) { return c.Relative.Orientation, nil })
}

// ComponentJoint returns a copy of the joint. Tools have none and return ErrNoJoint.
func (m *Manipulator) ComponentJoint(name Name) (Joint, error) {
	return readJoint(m, name, func(j *Joint) Joint { return *j })
}

func (m *Manipulator) ComponentJointID(name Name) (int, error) {
	return readJoint(m, name, func(j *Joint) int { return j.ID })
}

func (m *Manipulator) ComponentJointAxis(name Name) (ommath.Vector3, error) {
	return readJoint(m, name, func(j *Joint) ommath.Vector3 { return j.Axis })
}

func (m *Manipulator) ComponentJointAngle(name Name) (float64, error) {
	return readJoint(m, name, func(j *Joint) float64 { return j.Angle })
}

func (m *Manipulator) ComponentJointVelocity(name Name) (float64, error) {
	return readJoint(m, name, func(j *Joint) float64 { return j.Velocity })
}

func (m *Manipulator) ComponentJointAcceleration(name Name) (float64, error) {
	return readJoint(m, name, func(j *Joint) float64 { return j.Acceleration })
}

// ComponentTool returns a copy of the tool. Links have none and return ErrNoTool.
func (m *Manipulator) ComponentTool(name Name) (Tool, error) {
	return readTool(m, name, func(t *Tool) Tool { return *t })
}

func (m *Manipulator) ComponentToolID(name Name) (int, error) {
	return readTool(m, name, func(t *Tool) int { return t.ID })
}

func (m *Manipulator) ComponentToolOnOff(name Name) (bool, error) {
	return readTool(m, name, func(t *Tool) bool { return t.On })
}

func (m *Manipulator) ComponentToolValue(name Name) (float64, error) {
	return readTool(m, name, func(t *Tool) float64 { return t.Value })
}

func (m *Manipulator) ComponentMass(name Name) (float64, error) {
	return readComponent(m, name, func(c *Component) (float64, error) { return c.Inertia.Mass, nil })
}

func (m *Manipulator) ComponentInertiaTensor(name Name) (ommath.Matrix3, error) {
	return readComponent(m, name, func(c *Component) (ommath.Matrix3, error) { return c.Inertia.Tensor, nil })
}

// ComponentCenterOfMassPose is the component's world pose moved to its center of mass.
func (m *Manipulator) ComponentCenterOfMassPose(name Name) (Pose, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.components[name]
	if !ok {
		return Pose{}, notFound(name)
	}
	s, err := m.worldState(name)
	if err != nil {
		return Pose{}, err
	}
	return centerOfMassPose(s.Pose, c), nil
}

func (m *Manipulator) ComponentCenterOfMassPosition(name Name) (ommath.Vector3, error) {
	p, err := m.ComponentCenterOfMassPose(name)
	return p.Position, err
}

func (m *Manipulator) ComponentCenterOfMassOrientation(name Name) (ommath.Matrix3, error) {
	p, err := m.ComponentCenterOfMassPose(name)
	if err != nil {
		return ommath.Identity(), err
	}
	return p.Orientation, nil
}

// ActiveJointNames lists actuated components ordered by actuator id.
func (m *Manipulator) ActiveJointNames() []Name {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := m.activeJoints()
	out := make([]Name, len(active))
	for i, c := range active {
		out[i] = c.Name
	}
	return out
}

// AllJointAngles returns the actuated joint angles ordered by actuator id, the same order
// SetAllJointAngle and the actuator driver use.
func (m *Manipulator) AllJointAngles() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := m.activeJoints()
	out := make([]float64, len(active))
	for i, c := range active {
		out[i] = c.Joint.Angle
	}
	return out
}
