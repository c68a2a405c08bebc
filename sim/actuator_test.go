package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.viam.com/rdk/logging"
)

func TestNewActuator(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := NewActuator([]int{0, 1}, 0, logger)
	assert.Error(t, err)

	_, err = NewActuator([]int{1, 1}, 1, logger)
	assert.Error(t, err)

	a, err := NewActuator([]int{3, 0, 1}, 1, logger)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, a.IDs())
	angles, err := a.Angles()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, angles)
}

func TestStepMovesAtSpeed(t *testing.T) {
	a, err := NewActuator([]int{0, 1}, 1, logging.NewTestLogger(t))
	require.NoError(t, err)

	start := time.Now()
	a.Step(start)
	require.NoError(t, a.SetAllJointAngle([]float64{1, -0.25}))
	assert.True(t, a.IsMoving())

	a.Step(start.Add(500 * time.Millisecond))
	angles, err := a.Angles()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, angles[0], 1e-9)
	// the short move finishes early and stays put
	assert.InDelta(t, -0.25, angles[1], 1e-9)

	a.Step(start.Add(2 * time.Second))
	angles, err = a.Angles()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -0.25}, angles)
	assert.False(t, a.IsMoving())
}

func TestSetJointAngle(t *testing.T) {
	a, err := NewActuator([]int{4, 7}, 2, logging.NewTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, a.SetJointAngle(7, 0.3))
	assert.Equal(t, []float64{0, 0.3}, a.Targets())

	assert.ErrorIs(t, a.SetJointAngle(5, 1), ErrUnknownID)
	assert.Error(t, a.SetAllJointAngle([]float64{1}))
}

func TestClockConverges(t *testing.T) {
	logger := logging.NewTestLogger(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a, err := NewActuator([]int{0}, 10, logger)
	require.NoError(t, err)
	a.StartClock()
	defer a.Close()

	require.NoError(t, a.SetJointAngle(0, 0.2))
	assert.Eventually(t, func() bool { return !a.IsMoving() }, 2*time.Second, 10*time.Millisecond)
}
