package open_manipulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.viam.com/rdk/logging"

	"open_manipulator/sim"
)

// blockingActuator parks the first SetAllJointAngle call until release is closed.
type blockingActuator struct {
	mu      sync.Mutex
	angles  []float64
	calls   []string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingActuator(n int) *blockingActuator {
	return &blockingActuator{
		angles:  make([]float64, n),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingActuator) SetAllJointAngle(angles []float64) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "all")
	copy(b.angles, angles)
	return nil
}

func (b *blockingActuator) SetJointAngle(id int, angle float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "one")
	b.angles[id] = angle
	return nil
}

func (b *blockingActuator) Angles() ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.angles...), nil
}

func fixedSolution(sol JointSolution) InverseFunc {
	return func(*Manipulator) (JointSolution, error) { return sol, nil }
}

func TestForegroundWriteWaitsForTick(t *testing.T) {
	m := buildExample(t)
	act := newBlockingActuator(2)
	m.ConnectActuator(act)

	r := NewRegistry()
	r.ConnectInverse(fixedSolution(JointSolution{"link1": 0.5, "link2": 0.25}))
	loop := NewControlLoop(m, r, LoopConfig{ReadBack: true}, logging.NewTestLogger(t))

	tickDone := make(chan error, 1)
	go func() { tickDone <- loop.Tick(context.Background()) }()
	select {
	case <-act.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("tick never reached the actuator")
	}

	fgDone := make(chan error, 1)
	go func() { fgDone <- m.SetComponentJointAngle("link1", 1) }()
	select {
	case err := <-fgDone:
		t.Fatalf("foreground write did not wait for the tick: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(act.release)
	require.NoError(t, <-tickDone)
	require.NoError(t, <-fgDone)

	// the foreground write lands last, in the tree and on the actuator
	angle, err := m.ComponentJointAngle("link1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, angle)
	angle, err = m.ComponentJointAngle("link2")
	require.NoError(t, err)
	assert.Equal(t, 0.25, angle)

	angles, err := act.Angles()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.25}, angles)
	assert.Equal(t, []string{"all", "one"}, act.calls)

	stats := loop.Stats()
	assert.Equal(t, uint64(1), stats.Applied)
	assert.Equal(t, uint64(0), stats.Preempted)
}

func TestTickPreemptedByForegroundWrite(t *testing.T) {
	m := buildExample(t)
	r := NewRegistry()
	r.ConnectInverse(InverseFunc(func(m *Manipulator) (JointSolution, error) {
		// a foreground write between the snapshot and the apply
		if err := m.SetComponentJointAngle("link1", 0.7); err != nil {
			return nil, err
		}
		return JointSolution{"link1": 0.1}, nil
	}))
	loop := NewControlLoop(m, r, LoopConfig{}, nil)

	require.NoError(t, loop.Tick(context.Background()))
	angle, err := m.ComponentJointAngle("link1")
	require.NoError(t, err)
	assert.Equal(t, 0.7, angle)

	stats := loop.Stats()
	assert.Equal(t, uint64(1), stats.Ticks)
	assert.Equal(t, uint64(1), stats.Preempted)
	assert.Equal(t, uint64(0), stats.Applied)
}

func TestTickSkipsWithoutSolver(t *testing.T) {
	m := buildExample(t)
	loop := NewControlLoop(m, NewRegistry(), LoopConfig{}, nil)

	require.NoError(t, loop.Tick(context.Background()))
	assert.Equal(t, LoopStats{Ticks: 1, Skipped: 1}, loop.Stats())
	assert.Equal(t, []float64{0, 0}, m.AllJointAngles())
}

func TestTickErrors(t *testing.T) {
	m := buildExample(t)
	r := NewRegistry()
	r.ConnectInverse(InverseFunc(func(*Manipulator) (JointSolution, error) {
		return nil, errors.New("unreachable target")
	}))
	loop := NewControlLoop(m, r, LoopConfig{}, nil)

	err := loop.Tick(context.Background())
	assert.ErrorContains(t, err, "unreachable target")

	r.ConnectInverse(fixedSolution(JointSolution{"link1": 0.3, "gripper": 1}))
	assert.ErrorIs(t, loop.Tick(context.Background()), ErrNoJoint)
	// all-or-nothing
	assert.Equal(t, []float64{0, 0}, m.AllJointAngles())
	assert.Equal(t, uint64(2), loop.Stats().Errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, loop.Tick(ctx), context.Canceled)
}

// downActuator rejects every write and reports the angles it last accepted.
type downActuator struct {
	angles []float64
}

func (d *downActuator) SetAllJointAngle([]float64) error { return errors.New("bus down") }
func (d *downActuator) SetJointAngle(int, float64) error { return errors.New("bus down") }
func (d *downActuator) Angles() ([]float64, error) { return append([]float64(nil), d.angles...), nil }

func TestTickFailedPushKeepsTree(t *testing.T) {
	m := buildExample(t)
	act := &downActuator{angles: []float64{0, 0}}
	m.ConnectActuator(act)

	r := NewRegistry()
	r.ConnectInverse(fixedSolution(JointSolution{"link1": 0.5, "link2": 0.25}))
	loop := NewControlLoop(m, r, LoopConfig{ReadBack: true}, nil)

	assert.ErrorContains(t, loop.Tick(context.Background()), "bus down")
	assert.Equal(t, []float64{0, 0}, m.AllJointAngles())
	angles, err := act.Angles()
	require.NoError(t, err)
	assert.Equal(t, angles, m.AllJointAngles())

	stats := loop.Stats()
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Equal(t, uint64(0), stats.Applied)
}

func TestTickPassiveJoints(t *testing.T) {
	m := NewManipulator(nil)
	require.NoError(t, m.AddWorld("base", "link1"))
	require.NoError(t, m.AddComponent("link1", "base", WithJoint(0, zAxis)))
	require.NoError(t, m.AddComponent("link2", "link1", WithJoint(NoID, yAxis)))
	require.NoError(t, m.CheckManipulatorSetting())

	r := NewRegistry()
	r.ConnectInverse(fixedSolution(JointSolution{"link1": 0.4}))
	r.ConnectPassiveJoint(PassiveFunc(func(m *Manipulator) (JointSolution, error) {
		q, err := m.ComponentJointAngle("link1")
		if err != nil {
			return nil, err
		}
		return JointSolution{"link2": -q}, nil
	}))
	loop := NewControlLoop(m, r, LoopConfig{}, nil)

	require.NoError(t, loop.Tick(context.Background()))
	angle, err := m.ComponentJointAngle("link2")
	require.NoError(t, err)
	assert.Equal(t, -0.4, angle)
	assert.Equal(t, 1, m.DOF())
}

func TestControlLoopDrivesSimulator(t *testing.T) {
	logger := logging.NewTestLogger(t)
	m := buildExample(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	act, err := sim.NewActuator([]int{0, 1}, 20, logger)
	require.NoError(t, err)
	act.StartClock()
	defer act.Close()
	m.ConnectActuator(act)

	target := JointSolution{"link1": 0.3, "link2": -0.2}
	r := NewRegistry()
	r.ConnectInverse(fixedSolution(target))
	loop := NewControlLoop(m, r, LoopConfig{Period: 5 * time.Millisecond, ReadBack: true}, logger)
	loop.Start()
	defer loop.Stop()

	assert.Eventually(t, func() bool {
		angles := m.AllJointAngles()
		return angles[0] == 0.3 && angles[1] == -0.2 && !act.IsMoving()
	}, 5*time.Second, 10*time.Millisecond)

	loop.Stop()
	assert.Positive(t, loop.Stats().Applied)
	assert.Equal(t, uint64(0), loop.Stats().Errors)
}
