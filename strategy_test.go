package open_manipulator

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open_manipulator/ommath"
)

func TestRegistryUnregistered(t *testing.T) {
	m := buildExample(t)
	r := NewRegistry()

	assert.ErrorIs(t, r.Forward(m), ErrUnregistered)
	_, err := r.Inverse(m)
	assert.ErrorIs(t, err, ErrUnregistered)
	assert.Equal(t, KindUnregistered, KindOf(err))
	for _, slot := range []Slot{SlotLine, SlotArc, SlotCustom} {
		_, err := r.Path(slot, m, 0)
		assert.ErrorIs(t, err, ErrUnregistered)
	}
	_, err = r.PassiveJointAngles(m)
	assert.ErrorIs(t, err, ErrUnregistered)

	filled, summary := r.Status()
	assert.Empty(t, filled)
	assert.Contains(t, summary, "0/6")
}

func TestRegistryLastConnectWins(t *testing.T) {
	m := buildExample(t)
	r := NewRegistry()

	r.ConnectInverse(InverseFunc(func(*Manipulator) (JointSolution, error) {
		return JointSolution{"link1": 1}, nil
	}))
	r.ConnectInverse(InverseFunc(func(*Manipulator) (JointSolution, error) {
		return JointSolution{"link1": 2}, nil
	}))
	sol, err := r.Inverse(m)
	require.NoError(t, err)
	assert.Equal(t, JointSolution{"link1": 2}, sol)

	line := PathFunc(func(_ *Manipulator, t float64) (Pose, error) {
		return NewPose(ommath.NewVector3(t, 0, 0), ommath.Identity()), nil
	})
	r.ConnectLine(line)
	r.ConnectArc(PathFunc(func(*Manipulator, float64) (Pose, error) {
		return Pose{}, errors.New("arc failed")
	}))
	p, err := r.Path(SlotLine, m, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.Position.X)
	_, err = r.Path(SlotArc, m, 0.5)
	assert.EqualError(t, err, "arc failed")
	_, err = r.Path(SlotCustom, m, 0.5)
	assert.ErrorIs(t, err, ErrUnregistered)

	calls := 0
	r.ConnectForward(ForwardFunc(func(*Manipulator) error { calls++; return nil }))
	require.NoError(t, r.Forward(m))
	assert.Equal(t, 1, calls)

	filled, summary := r.Status()
	assert.Equal(t, []Slot{SlotArc, SlotForward, SlotInverse, SlotLine}, filled)
	assert.Contains(t, summary, "4/6")
	assert.True(t, r.Registered(SlotLine))
	assert.False(t, r.Registered(SlotPassiveJoint))
}
