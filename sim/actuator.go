// Package sim implements an Actuator that moves its joints toward commanded angles over time.
// It offers an API to do so in a completely deterministic manner for testing.
package sim

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// ErrUnknownID is returned for an actuator id the simulator was not built with.
var ErrUnknownID = errors.New("unknown actuator id")

// Actuator simulates one motor per actuator id. Every joint moves at the same speed toward
// its target. Angles are ordered by ascending id.
type Actuator struct {
	ids   []int
	index map[int]int
	// radians per second
	speed float64

	mu          sync.Mutex
	current     []float64
	target      []float64
	lastUpdated time.Time

	timeSimulation *utils.StoppableWorkers
	logger         logging.Logger
}

// NewActuator returns a simulator for the given actuator ids, all starting at angle 0. Time
// does not pass until Step is called or StartClock runs it in the background.
func NewActuator(ids []int, speedRadsPerSec float64, logger logging.Logger) (*Actuator, error) {
	if speedRadsPerSec <= 0 {
		return nil, errors.Errorf("speed must be positive, got %v", speedRadsPerSec)
	}
	if logger == nil {
		logger = logging.NewLogger("sim-actuator")
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	index := make(map[int]int, len(sorted))
	for i, id := range sorted {
		if _, dup := index[id]; dup {
			return nil, errors.Errorf("duplicate actuator id %d", id)
		}
		index[id] = i
	}
	return &Actuator{
		ids:     sorted,
		index:   index,
		speed:   speedRadsPerSec,
		current: make([]float64, len(sorted)),
		target:  make([]float64, len(sorted)),
		logger:  logger,
	}, nil
}

// StartClock advances the simulation from a real-time clock every 10 ms until Close.
func (a *Actuator) StartClock() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timeSimulation != nil {
		return
	}
	// avoid a huge first step from the zero time
	a.lastUpdated = time.Now()
	a.timeSimulation = utils.NewStoppableWorkerWithTicker(10*time.Millisecond, func(_ context.Context) {
		a.Step(time.Now())
	})
}

// Close stops the background clock.
func (a *Actuator) Close() {
	a.mu.Lock()
	w := a.timeSimulation
	a.timeSimulation = nil
	a.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// Step moves every joint toward its target by at most speed·(now - last step).
func (a *Actuator) Step(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lastUpdated.IsZero() {
		a.lastUpdated = now
		return
	}
	travel := now.Sub(a.lastUpdated).Seconds() * a.speed
	a.lastUpdated = now
	if travel <= 0 {
		return
	}
	const epsilon = 1e-9
	for i := range a.current {
		diff := a.target[i] - a.current[i]
		if travel > math.Abs(diff)-epsilon {
			a.current[i] = a.target[i]
			continue
		}
		if diff < 0 {
			a.current[i] -= travel
		} else {
			a.current[i] += travel
		}
	}
}

// IsMoving reports whether any joint is away from its target.
func (a *Actuator) IsMoving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.current {
		if a.current[i] != a.target[i] {
			return true
		}
	}
	return false
}

// IDs returns the actuator ids in angle order.
func (a *Actuator) IDs() []int {
	return append([]int(nil), a.ids...)
}

// SetAllJointAngle commands every joint.
func (a *Actuator) SetAllJointAngle(angles []float64) error {
	if len(angles) != len(a.ids) {
		return errors.Errorf("expected %d angles, got %d", len(a.ids), len(angles))
	}
	for _, v := range angles {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("angle %v is not finite", v)
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(a.target, angles)
	a.logger.Debugf("commanded %v", angles)
	return nil
}

// SetJointAngle commands one joint.
func (a *Actuator) SetJointAngle(id int, angle float64) error {
	i, ok := a.index[id]
	if !ok {
		return errors.Wrapf(ErrUnknownID, "%d", id)
	}
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return errors.Errorf("angle %v is not finite", angle)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.target[i] = angle
	return nil
}

// Angles returns the current joint angles.
func (a *Actuator) Angles() ([]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.current...), nil
}

// Targets returns the commanded joint angles.
func (a *Actuator) Targets() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.target...)
}
