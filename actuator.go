package open_manipulator

import (
	"sync"
)

// Actuator is the driver that moves the physical joints. Angles are radians, ordered by
// actuator id (the order of AllJointAngles).
type Actuator interface {
	SetAllJointAngle(angles []float64) error
	SetJointAngle(id int, angle float64) error
	Angles() ([]float64, error)
}

// SharedActuator guards the actuator-angle exchange between the control loop and foreground
// callers. Every access goes through Do, which holds the lock for the duration of fn only.
type SharedActuator struct {
	mu sync.Mutex
	a  Actuator
}

// Connect installs the driver, replacing any previous one. nil disconnects.
func (s *SharedActuator) Connect(a Actuator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a = a
}

// Connected reports whether a driver is installed.
func (s *SharedActuator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a != nil
}

// Do runs fn with the lock held. fn receives nil when no driver is connected.
func (s *SharedActuator) Do(fn func(Actuator) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.a)
}

// ConnectActuator attaches the driver that joint writes are pushed to.
func (m *Manipulator) ConnectActuator(a Actuator) {
	m.actuator.Connect(a)
}

// Actuator returns the shared actuator cell.
func (m *Manipulator) Actuator() *SharedActuator {
	return m.actuator
}

func (m *Manipulator) jointGeneration() uint64 {
	return m.jointWrites.Load()
}
