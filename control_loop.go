package open_manipulator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// DefaultPeriod is the control loop period when none is configured.
const DefaultPeriod = 10 * time.Millisecond

// LoopConfig configures a ControlLoop.
type LoopConfig struct {
	Period time.Duration
	// ReadBack reads the actuator angles after each push and stores them in the tree.
	ReadBack bool
}

// LoopStats counts what the loop has done since it was created.
type LoopStats struct {
	Ticks     uint64
	Applied   uint64
	Skipped   uint64 // no inverse-kinematics strategy registered
	Preempted uint64 // a foreground joint write landed during the tick
	Errors    uint64
}

// ControlLoop periodically solves inverse kinematics and exchanges joint angles with the
// actuator. The solver runs without the actuator lock; only the exchange holds it.
type ControlLoop struct {
	m        *Manipulator
	registry *Registry
	cfg      LoopConfig
	logger   logging.Logger

	mu      sync.Mutex
	workers *utils.StoppableWorkers

	ticks, applied, skipped, preempted, errs atomic.Uint64
}

// NewControlLoop wires a loop to a tree and a strategy registry.
func NewControlLoop(m *Manipulator, registry *Registry, cfg LoopConfig, logger logging.Logger) *ControlLoop {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if logger == nil {
		logger = m.logger.Sublogger("control")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &ControlLoop{m: m, registry: registry, cfg: cfg, logger: logger}
}

// Start runs Tick every period on a background worker. Calling Start twice is a no-op.
func (l *ControlLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers != nil {
		return
	}
	l.logger.Infof("starting control loop every %v", l.cfg.Period)
	l.workers = utils.NewStoppableWorkerWithTicker(l.cfg.Period, func(ctx context.Context) {
		// failures are counted and logged inside Tick
		_ = l.Tick(ctx)
	})
}

// Stop halts the background worker and waits for the current tick to finish.
func (l *ControlLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers == nil {
		return
	}
	l.workers.Stop()
	l.workers = nil
	l.logger.Debug("control loop stopped")
}

// Stats returns a snapshot of the loop counters.
func (l *ControlLoop) Stats() LoopStats {
	return LoopStats{
		Ticks:     l.ticks.Load(),
		Applied:   l.applied.Load(),
		Skipped:   l.skipped.Load(),
		Preempted: l.preempted.Load(),
		Errors:    l.errs.Load(),
	}
}

// Tick runs one control cycle:
//  1. note the foreground joint-write generation,
//  2. solve inverse kinematics with no lock held,
//  3. under the actuator lock, drop the solution if a foreground write happened meanwhile;
//     otherwise push it to the actuator, store it once the push succeeds and optionally
//     read the angles back,
//  4. solve and store passive joints, again yielding to foreground writes.
//
// An unregistered solver skips the tick without error.
func (l *ControlLoop) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.ticks.Add(1)

	gen := l.m.jointGeneration()
	sol, err := l.registry.Inverse(l.m)
	switch {
	case errors.Is(err, ErrUnregistered):
		l.skipped.Add(1)
		l.logger.Debugf("tick skipped: %v", err)
		return nil
	case err != nil:
		return l.fail(errors.Wrap(err, "inverse kinematics"))
	}

	stale := false
	err = l.m.actuator.Do(func(a Actuator) error {
		if l.m.jointGeneration() != gen {
			stale = true
			return nil
		}
		if a == nil {
			return l.m.applyJointSolution(sol)
		}
		if len(sol) > 0 {
			angles, err := l.m.solvedJointAngles(sol)
			if err != nil {
				return err
			}
			if err := a.SetAllJointAngle(angles); err != nil {
				return errors.Wrap(err, "push joint angles")
			}
			if err := l.m.applyJointSolution(sol); err != nil {
				return err
			}
		}
		if !l.cfg.ReadBack {
			return nil
		}
		angles, err := a.Angles()
		if err != nil {
			return errors.Wrap(err, "read joint angles")
		}
		return l.m.storeActiveAngles(angles)
	})
	if err != nil {
		return l.fail(err)
	}
	if stale {
		l.preempted.Add(1)
		l.logger.Debug("tick preempted by a foreground joint write")
		return nil
	}
	l.applied.Add(1)

	return l.solvePassive()
}

func (l *ControlLoop) solvePassive() error {
	gen := l.m.jointGeneration()
	sol, err := l.registry.PassiveJointAngles(l.m)
	switch {
	case errors.Is(err, ErrUnregistered):
		return nil
	case err != nil:
		return l.fail(errors.Wrap(err, "passive joints"))
	}
	err = l.m.actuator.Do(func(Actuator) error {
		if l.m.jointGeneration() != gen {
			return nil
		}
		return l.m.applyJointSolution(sol)
	})
	if err != nil {
		return l.fail(err)
	}
	return nil
}

func (l *ControlLoop) fail(err error) error {
	l.errs.Add(1)
	l.logger.Warnf("control tick failed: %v", err)
	return err
}
