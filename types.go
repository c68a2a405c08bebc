package open_manipulator

import (
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"

	"open_manipulator/ommath"
)

// Name addresses a node of the tree. Names are unique across the world and all components.
type Name string

// NoID marks a joint without an actuator or a tool without a tool channel.
const NoID = -1

// Pose is a position plus an orientation.
type Pose struct {
	Position    ommath.Vector3 `json:"position"`
	Orientation ommath.Matrix3 `json:"orientation"`
}

// NewPose returns a pose at position with the given orientation.
func NewPose(position ommath.Vector3, orientation ommath.Matrix3) Pose {
	return Pose{Position: position, Orientation: orientation}
}

// IdentityPose is the zero position with identity orientation.
func IdentityPose() Pose {
	return Pose{Orientation: ommath.Identity()}
}

// Validate checks that the position is finite and the orientation is a rotation.
func (p Pose) Validate() error {
	if !ommath.IsFiniteVector(p.Position) {
		return invalid("position %v is not finite", p.Position)
	}
	if err := ommath.CheckRotation(p.Orientation); err != nil {
		return invalid("orientation: %v", err)
	}
	return nil
}

// normalized validates p and snaps its orientation back onto SO(3), so that rotations accepted
// within tolerance do not accumulate drift once stored.
func (p Pose) normalized() (Pose, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	r, err := ommath.Orthonormalize(p.Orientation)
	if err != nil {
		return p, invalid("orientation: %v", err)
	}
	p.Orientation = r
	return p, nil
}

// Compose returns the pose of a frame whose pose relative to p is child.
func (p Pose) Compose(child Pose) Pose {
	return Pose{
		Position:    p.Position.Add(ommath.MulVec(p.Orientation, child.Position)),
		Orientation: p.Orientation.Mul3(child.Orientation),
	}
}

// Relative returns the pose of other expressed in p's frame, so that p.Compose(p.Relative(o)) == o.
func (p Pose) Relative(other Pose) Pose {
	inv := p.Orientation.Transpose()
	return Pose{
		Position:    ommath.MulVec(inv, other.Position.Sub(p.Position)),
		Orientation: inv.Mul3(other.Orientation),
	}
}

// Spatialmath converts the pose into an rdk pose. rdk poses are in millimeters, so the position
// is scaled by 1000. The orientation goes through axis-angle form.
func (p Pose) Spatialmath() (spatialmath.Pose, error) {
	if err := ommath.CheckRotation(p.Orientation); err != nil {
		return nil, err
	}
	position := p.Position.Mul(1000)
	v := ommath.MakeRotationVector(p.Orientation)
	theta := v.Norm()
	if theta == 0 {
		return spatialmath.NewPoseFromPoint(position), nil
	}
	axis := v.Mul(1 / theta)
	return spatialmath.NewPose(position, &spatialmath.R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}), nil
}

// State is a pose plus spatial velocity and acceleration.
type State struct {
	Pose
	Velocity     ommath.SpatialVector `json:"velocity"`
	Acceleration ommath.SpatialVector `json:"acceleration"`
}

// Validate checks the pose and that velocity and acceleration are finite.
func (s State) Validate() error {
	if err := s.Pose.Validate(); err != nil {
		return err
	}
	if !s.Velocity.IsFinite() {
		return invalid("velocity is not finite")
	}
	if !s.Acceleration.IsFinite() {
		return invalid("acceleration is not finite")
	}
	return nil
}

func defaultState() State {
	return State{Pose: IdentityPose()}
}

// Joint is the single revolute joint a component may carry. A zero axis makes the joint fixed.
type Joint struct {
	ID           int            `json:"id"`
	Axis         ommath.Vector3 `json:"axis"`
	Angle        float64        `json:"angle"`
	Velocity     float64        `json:"velocity"`
	Acceleration float64        `json:"acceleration"`
}

// Actuated reports whether the joint is driven by an actuator and counts toward the DOF.
func (j Joint) Actuated() bool {
	return j.ID >= 0
}

// Movable reports whether the joint has a rotation axis.
func (j Joint) Movable() bool {
	return j.Axis != (r3.Vector{})
}

func (j *Joint) validate() error {
	if j.ID < NoID {
		return invalid("joint id %d", j.ID)
	}
	if !ommath.IsFiniteVector(j.Axis) {
		return invalid("joint axis %v is not finite", j.Axis)
	}
	if j.Axis.Norm() < 1e-9 {
		j.Axis = r3.Vector{}
	} else {
		j.Axis = j.Axis.Normalize()
	}
	if j.Actuated() && !j.Movable() {
		return invalid("actuated joint %d needs a rotation axis", j.ID)
	}
	for _, f := range []float64{j.Angle, j.Velocity, j.Acceleration} {
		if !finite(f) {
			return invalid("joint value %v is not finite", f)
		}
	}
	return nil
}

// Tool is an end effector channel, e.g. a gripper.
type Tool struct {
	ID    int     `json:"id"`
	On    bool    `json:"on"`
	Value float64 `json:"value"`
}

// Inertia holds the mass properties of a component. CenterOfMass is in the component frame.
type Inertia struct {
	Mass         float64        `json:"mass"`
	Tensor       ommath.Matrix3 `json:"tensor"`
	CenterOfMass ommath.Vector3 `json:"center_of_mass"`
}

const inertiaTolerance = 1e-9

// Validate checks mass >= 0 and a symmetric positive semi-definite tensor.
func (in Inertia) Validate() error {
	if !finite(in.Mass) || in.Mass < 0 {
		return invalid("mass %v", in.Mass)
	}
	for _, f := range in.Tensor {
		if !finite(f) {
			return invalid("inertia tensor is not finite")
		}
	}
	if !ommath.IsSymmetric(in.Tensor, inertiaTolerance) {
		return invalid("inertia tensor is not symmetric")
	}
	if !ommath.IsPositiveSemiDefinite(in.Tensor, inertiaTolerance) {
		return invalid("inertia tensor is not positive semi-definite")
	}
	if !ommath.IsFiniteVector(in.CenterOfMass) {
		return invalid("center of mass is not finite")
	}
	return nil
}

// Component is a snapshot of one tree node.
//
// Relative.Pose is the pose relative to the parent. Relative.Velocity and Relative.Acceleration
// are world-frame offsets added on top of the motion propagated from the parent; they stay zero
// unless a to-world velocity or acceleration was set directly.
type Component struct {
	Name     Name    `json:"name"`
	Parent   Name    `json:"parent"`
	Children []Name  `json:"children"`
	Relative State   `json:"relative"`
	Joint    *Joint  `json:"joint,omitempty"`
	Tool     *Tool   `json:"tool,omitempty"`
	Inertia  Inertia `json:"inertia"`
}

func (c Component) clone() Component {
	out := c
	out.Children = append([]Name(nil), c.Children...)
	if c.Joint != nil {
		j := *c.Joint
		out.Joint = &j
	}
	if c.Tool != nil {
		t := *c.Tool
		out.Tool = &t
	}
	return out
}

// World is the root frame.
type World struct {
	Name  Name  `json:"name"`
	Child Name  `json:"child"`
	State State `json:"state"`
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
