package open_manipulator

import (
	"sync"
)

// JointTarget is an InverseKinematics that steers the actuated joints to commanded angles.
// Until the first Set it returns an empty solution, which leaves the tree untouched.
type JointTarget struct {
	mu     sync.Mutex
	names  []Name
	angles []float64
}

// NewJointTarget returns a target for m's actuated joints, ordered by actuator id.
func NewJointTarget(m *Manipulator) *JointTarget {
	return &JointTarget{names: m.ActiveJointNames()}
}

// Set commands one angle per actuated joint.
func (j *JointTarget) Set(angles []float64) error {
	if len(angles) != len(j.names) {
		return invalid("got %d joint targets for %d DOF", len(angles), len(j.names))
	}
	for _, a := range angles {
		if !finite(a) {
			return invalid("joint target %v is not finite", a)
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.angles = append(j.angles[:0], angles...)
	return nil
}

// Clear drops the target so that ticks stop writing joint angles.
func (j *JointTarget) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.angles = nil
}

// Target returns the commanded angles, nil when none is set.
func (j *JointTarget) Target() []float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.angles == nil {
		return nil
	}
	return append([]float64(nil), j.angles...)
}

func (j *JointTarget) Inverse(*Manipulator) (JointSolution, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	sol := make(JointSolution, len(j.angles))
	for i, a := range j.angles {
		sol[j.names[i]] = a
	}
	return sol, nil
}
