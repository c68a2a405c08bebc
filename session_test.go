package open_manipulator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"open_manipulator/ommath"
)

func testSessionConfig() *Config {
	chain := DefaultChainConfig()
	return &Config{Chain: &chain, PeriodMs: 5, ReadBack: true, SpeedDegsPerSec: 3600}
}

func TestSessionRegistry(t *testing.T) {
	logger := logging.NewTestLogger(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewSessionRegistry()
	first, err := r.Acquire("arm", testSessionConfig(), logger)
	require.NoError(t, err)
	second, err := r.Acquire("arm", testSessionConfig(), logger)
	require.NoError(t, err)
	assert.Same(t, first, second)

	other := testSessionConfig()
	other.PeriodMs = 50
	_, err = r.Acquire("arm", other, logger)
	assert.ErrorContains(t, err, "conflict")

	joined, err := r.Join("arm")
	require.NoError(t, err)
	assert.Same(t, first, joined)
	_, err = r.Join("nope")
	assert.Error(t, err)

	refs, live := r.Status("arm")
	assert.Equal(t, int64(3), refs)
	assert.True(t, live)

	r.Release("arm")
	r.Release("arm")
	refs, live = r.Status("arm")
	assert.Equal(t, int64(1), refs)
	assert.True(t, live)

	r.Release("arm")
	_, live = r.Status("arm")
	assert.False(t, live)
	_, err = r.Join("arm")
	assert.Error(t, err)
}

func TestAcquireAfterConcurrentRelease(t *testing.T) {
	logger := logging.NewTestLogger(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewSessionRegistry()
	first, err := r.Acquire("arm", testSessionConfig(), logger)
	require.NoError(t, err)

	// the entry found by a lookup is released before it is locked
	r.mu.RLock()
	stale := r.entries["arm"]
	r.mu.RUnlock()
	r.Release("arm")

	second, err := r.acquireExisting("arm", stale, testSessionConfig(), logger)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	refs, live := r.Status("arm")
	assert.Equal(t, int64(1), refs)
	assert.True(t, live)

	r.Release("arm")
	_, live = r.Status("arm")
	assert.False(t, live)
}

func TestSessionBuildFailureIsNotCached(t *testing.T) {
	logger := logging.NewTestLogger(t)
	r := NewSessionRegistry()

	bad := &Config{ChainFile: "/nonexistent/chain.yaml"}
	_, err := r.Acquire("arm", bad, logger)
	require.Error(t, err)
	_, live := r.Status("arm")
	assert.False(t, live)

	s, err := r.Acquire("arm", testSessionConfig(), logger)
	require.NoError(t, err)
	defer r.Release("arm")
	assert.Equal(t, 2, s.Manipulator.DOF())
}

func TestKinematicChainMatchesTree(t *testing.T) {
	m := buildExample(t)
	require.NoError(t, m.SetWorldPosition(ommath.NewVector3(0.5, 0, 0)))
	chain, err := m.KinematicChain("example", "")
	require.NoError(t, err)
	assert.Equal(t, Name("gripper"), chain.End)
	assert.Equal(t, []Name{"link1", "link2"}, chain.Joints)

	for _, q := range [][]float64{{0, 0}, {math.Pi / 2, 0}, {0.3, -1.1}} {
		require.NoError(t, m.SetAllJointAngle(q))
		pose, err := referenceframe.ComputeOOBPosition(chain.Model, []referenceframe.Input{q[0], q[1]})
		require.NoError(t, err)

		world, err := m.WorldPose()
		require.NoError(t, err)
		end, err := m.ComponentPoseToWorld("gripper")
		require.NoError(t, err)
		want, err := world.Relative(end).Spatialmath()
		require.NoError(t, err)

		assert.InDelta(t, want.Point().X, pose.Point().X, 1e-6)
		assert.InDelta(t, want.Point().Y, pose.Point().Y, 1e-6)
		assert.InDelta(t, want.Point().Z, pose.Point().Z, 1e-6)
	}

	_, err = m.KinematicChain("example", "nope")
	assert.ErrorIs(t, err, ErrNameNotFound)
}

func TestArmAndGripper(t *testing.T) {
	logger := logging.NewTestLogger(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sessions := NewSessionRegistry()
	chain := DefaultChainConfig()
	armCfg := &ArmConfig{Chain: &chain, PeriodMs: 5, ReadBack: true, SpeedDegsPerSec: 3600}
	_, _, err := armCfg.Validate("arm1")
	require.NoError(t, err)

	a, err := NewArm(resource.NewName(arm.API, "arm1"), armCfg, sessions, logger)
	require.NoError(t, err)
	defer a.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	target := []referenceframe.Input{math.Pi / 2, 0}
	require.NoError(t, a.MoveToJointPositions(ctx, target, nil))
	positions, err := a.JointPositions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, math.Pi/2, positions[0])
	assert.Equal(t, 0.0, positions[1])

	end, err := a.EndPosition(ctx, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0, end.Point().X, 1e-9)
	assert.InDelta(t, 100, end.Point().Y, 1e-9)
	assert.InDelta(t, 300, end.Point().Z, 1e-9)
	assert.True(t, spatialmath.OrientationAlmostEqual(&spatialmath.R4AA{Theta: math.Pi / 2, RZ: 1}, end.Orientation()))
	tip := spatialmath.Compose(end, spatialmath.NewPoseFromPoint(r3.Vector{X: 100})).Point()
	assert.InDelta(t, 0, tip.X, 1e-9)
	assert.InDelta(t, 200, tip.Y, 1e-9)

	moving, err := a.IsMoving(ctx)
	require.NoError(t, err)
	assert.False(t, moving)

	assert.Error(t, a.MoveToJointPositions(ctx, target[:1], nil))

	status, err := a.DoCommand(ctx, map[string]interface{}{"command": "status"})
	require.NoError(t, err)
	assert.Equal(t, 2, status["dof"])

	line, err := a.DoCommand(ctx, map[string]interface{}{
		"command":  "plan_line",
		"position": []interface{}{0.1, 0.1, 0.3},
		"steps":    4.0,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1, line["duration"], 1e-9)
	assert.InDelta(t, math.Pi/2, line["angle"], 1e-9)
	poses, ok := line["poses"].([]interface{})
	require.True(t, ok)
	require.Len(t, poses, 5)
	last := poses[4].([]interface{})
	assert.InDelta(t, 0.1, last[0], 1e-9)
	assert.InDelta(t, 0.1, last[1], 1e-9)
	assert.InDelta(t, 0.0, last[5], 1e-9)
	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "plan_line", "position": []interface{}{0.1}})
	assert.Error(t, err)

	gripperCfg := &GripperConfig{Arm: "arm1", Tool: "gripper"}
	deps, _, err := gripperCfg.Validate("gripper1")
	require.NoError(t, err)
	assert.Equal(t, []string{"arm1"}, deps)

	g, err := NewGripper(resource.NewName(gripper.API, "gripper1"), gripperCfg, sessions, logger)
	require.NoError(t, err)
	defer g.Close(ctx)

	grabbed, err := g.Grab(ctx, nil)
	require.NoError(t, err)
	assert.True(t, grabbed)
	holding, err := g.IsHoldingSomething(ctx, nil)
	require.NoError(t, err)
	assert.True(t, holding.IsHoldingSomething)

	require.NoError(t, g.Open(ctx, nil))
	tool, err := g.DoCommand(ctx, map[string]interface{}{"command": "get_tool"})
	require.NoError(t, err)
	assert.Equal(t, false, tool["on"])
	assert.Equal(t, 1.0, tool["value"])

	_, err = NewGripper(resource.NewName(gripper.API, "bad"), &GripperConfig{Arm: "arm1", Tool: "link1"}, sessions, logger)
	assert.ErrorIs(t, err, ErrNoTool)
	refs, _ := sessions.Status("arm1")
	assert.Equal(t, int64(2), refs)
}
