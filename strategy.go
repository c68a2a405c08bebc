package open_manipulator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// JointSolution maps joint names to angles in radians.
type JointSolution map[Name]float64

// ForwardKinematics updates the tree's derived quantities from its joint state.
type ForwardKinematics interface {
	Forward(m *Manipulator) error
}

// InverseKinematics computes joint angles for the current target. It must not write joint
// angles itself; the control loop applies the solution.
type InverseKinematics interface {
	Inverse(m *Manipulator) (JointSolution, error)
}

// PathGenerator returns the target pose at time t along a trajectory.
type PathGenerator interface {
	Generate(m *Manipulator, t float64) (Pose, error)
}

// PassiveJointSolver derives the angles of joints that are not actuated.
type PassiveJointSolver interface {
	PassiveJointAngles(m *Manipulator) (JointSolution, error)
}

// ForwardFunc adapts a function to ForwardKinematics.
type ForwardFunc func(m *Manipulator) error

func (f ForwardFunc) Forward(m *Manipulator) error { return f(m) }

// InverseFunc adapts a function to InverseKinematics.
type InverseFunc func(m *Manipulator) (JointSolution, error)

func (f InverseFunc) Inverse(m *Manipulator) (JointSolution, error) { return f(m) }

// PathFunc adapts a function to PathGenerator.
type PathFunc func(m *Manipulator, t float64) (Pose, error)

func (f PathFunc) Generate(m *Manipulator, t float64) (Pose, error) { return f(m, t) }

// PassiveFunc adapts a function to PassiveJointSolver.
type PassiveFunc func(m *Manipulator) (JointSolution, error)

func (f PassiveFunc) PassiveJointAngles(m *Manipulator) (JointSolution, error) { return f(m) }

// Slot names a registry slot.
type Slot string

const (
	SlotForward      Slot = "forward"
	SlotInverse      Slot = "inverse"
	SlotLine         Slot = "line"
	SlotArc          Slot = "arc"
	SlotCustom       Slot = "custom"
	SlotPassiveJoint Slot = "passive_joint"
)

// Registry holds at most one strategy per slot. Connecting replaces the previous occupant.
// Invoking an empty slot returns ErrUnregistered.
type Registry struct {
	mu      sync.RWMutex
	forward ForwardKinematics
	inverse InverseKinematics
	paths   map[Slot]PathGenerator
	passive PassiveJointSolver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{paths: make(map[Slot]PathGenerator)}
}

func (r *Registry) ConnectForward(f ForwardKinematics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forward = f
}

func (r *Registry) ConnectInverse(f InverseKinematics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inverse = f
}

func (r *Registry) ConnectLine(p PathGenerator)   { r.connectPath(SlotLine, p) }
func (r *Registry) ConnectArc(p PathGenerator)    { r.connectPath(SlotArc, p) }
func (r *Registry) ConnectCustom(p PathGenerator) { r.connectPath(SlotCustom, p) }

func (r *Registry) connectPath(slot Slot, p PathGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == nil {
		delete(r.paths, slot)
		return
	}
	r.paths[slot] = p
}

func (r *Registry) ConnectPassiveJoint(p PassiveJointSolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passive = p
}

// Forward runs the forward-kinematics strategy.
func (r *Registry) Forward(m *Manipulator) error {
	r.mu.RLock()
	f := r.forward
	r.mu.RUnlock()
	if f == nil {
		return errors.Wrapf(ErrUnregistered, "%s", SlotForward)
	}
	return f.Forward(m)
}

// Inverse runs the inverse-kinematics strategy.
func (r *Registry) Inverse(m *Manipulator) (JointSolution, error) {
	r.mu.RLock()
	f := r.inverse
	r.mu.RUnlock()
	if f == nil {
		return nil, errors.Wrapf(ErrUnregistered, "%s", SlotInverse)
	}
	return f.Inverse(m)
}

// Path runs the path generator in slot (line, arc or custom) at time t.
func (r *Registry) Path(slot Slot, m *Manipulator, t float64) (Pose, error) {
	r.mu.RLock()
	p := r.paths[slot]
	r.mu.RUnlock()
	if p == nil {
		return Pose{}, errors.Wrapf(ErrUnregistered, "%s", slot)
	}
	return p.Generate(m, t)
}

// PassiveJointAngles runs the passive-joint solver.
func (r *Registry) PassiveJointAngles(m *Manipulator) (JointSolution, error) {
	r.mu.RLock()
	p := r.passive
	r.mu.RUnlock()
	if p == nil {
		return nil, errors.Wrapf(ErrUnregistered, "%s", SlotPassiveJoint)
	}
	return p.PassiveJointAngles(m)
}

// Registered reports whether slot has an occupant.
func (r *Registry) Registered(slot Slot) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch slot {
	case SlotForward:
		return r.forward != nil
	case SlotInverse:
		return r.inverse != nil
	case SlotPassiveJoint:
		return r.passive != nil
	default:
		return r.paths[slot] != nil
	}
}

// Status returns the filled slots in sorted order and a one-line summary.
func (r *Registry) Status() ([]Slot, string) {
	var filled []Slot
	for _, s := range []Slot{SlotForward, SlotInverse, SlotLine, SlotArc, SlotCustom, SlotPassiveJoint} {
		if r.Registered(s) {
			filled = append(filled, s)
		}
	}
	sort.Slice(filled, func(i, j int) bool { return filled[i] < filled[j] })
	names := make([]string, len(filled))
	for i, s := range filled {
		names[i] = string(s)
	}
	return filled, fmt.Sprintf("%d/6 strategies registered: %s", len(filled), strings.Join(names, ", "))
}
