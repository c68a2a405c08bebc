package ommath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/spatialmath"
)

const tol = 1e-9

func assertVecNear(t *testing.T, want, got Vector3, delta float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, delta, "x")
	assert.InDelta(t, want.Y, got.Y, delta, "y")
	assert.InDelta(t, want.Z, got.Z, delta, "z")
}

func assertMatNear(t *testing.T, want, got Matrix3, delta float64) {
	t.Helper()
	assert.Truef(t, ApproxEqual(want, got, delta), "want %v\ngot  %v", want, got)
}

var testAxes = []Vector3{
	{X: 1}, {Y: 1}, {Z: 1},
	{X: 1, Y: 1, Z: 1},
	{X: -0.3, Y: 0.5, Z: 2},
	{X: 0.1, Y: -4, Z: 0.2},
}

var testAngles = []float64{-3, -1.5, -0.2, 1e-6, 0.5, 1.2, 2.9}

func TestSign(t *testing.T) {
	assert.Equal(t, 1.0, Sign(3.2))
	assert.Equal(t, -1.0, Sign(-0.1))
	assert.Equal(t, 0.0, Sign(0))
}

func TestNewMatrix3RowMajor(t *testing.T) {
	m := NewMatrix3(1, 2, 3, 4, 5, 6, 7, 8, 9)
	assert.Equal(t, 2.0, m.At(0, 1))
	assert.Equal(t, 4.0, m.At(1, 0))
	assert.Equal(t, 9.0, m.At(2, 2))
}

func TestSkewSymmetricMatrix(t *testing.T) {
	v := NewVector3(1, -2, 3)
	w := NewVector3(0.5, 4, -1)
	assertVecNear(t, v.Cross(w), MulVec(SkewSymmetricMatrix(v), w), tol)
	assertVecNear(t, v, Vee(SkewSymmetricMatrix(v)), tol)
	assertMatNear(t, SkewSymmetricMatrix(v).Transpose(), SkewSymmetricMatrix(v).Mul(-1), tol)
}

func TestRodriguesIsRotation(t *testing.T) {
	for _, axis := range testAxes {
		for _, angle := range testAngles {
			r, err := RodriguesRotationMatrix(axis, angle)
			require.NoError(t, err)
			assert.True(t, IsRotationMatrix(r, 1e-9), "axis %v angle %v", axis, angle)
			// the axis is a fixed point
			unit := axis.Normalize()
			assertVecNear(t, unit, MulVec(r, unit), 1e-9)
		}
	}
}

func TestRodriguesMatchesAxisAngle(t *testing.T) {
	points := []Vector3{NewVector3(1, 0, 0), NewVector3(0, 1, 0), NewVector3(0, 0, 1), NewVector3(0.3, -2, 0.7)}
	for _, axis := range testAxes {
		unit := axis.Normalize()
		for _, angle := range testAngles {
			r, err := RodriguesRotationMatrix(axis, angle)
			require.NoError(t, err)
			ref := spatialmath.NewPoseFromOrientation(&spatialmath.R4AA{Theta: angle, RX: unit.X, RY: unit.Y, RZ: unit.Z})
			for _, p := range points {
				want := spatialmath.Compose(ref, spatialmath.NewPoseFromPoint(p)).Point()
				assertVecNear(t, want, MulVec(r, p), 1e-9)
			}
		}
	}
}

func TestRodriguesZeroAxis(t *testing.T) {
	r, err := RodriguesRotationMatrix(r3.Vector{}, 1)
	assert.ErrorIs(t, err, ErrZeroAxis)
	assert.Equal(t, Identity(), r)
}

func TestMatrixLogarithmIdentity(t *testing.T) {
	assert.Equal(t, r3.Vector{}, MatrixLogarithm(Identity()))
}

func TestMatrixLogarithmInvertsRodrigues(t *testing.T) {
	for _, axis := range testAxes {
		for _, angle := range []float64{0.3, 1, 2, 3.1} {
			r, err := RodriguesRotationMatrix(axis, angle)
			require.NoError(t, err)
			assertVecNear(t, axis.Normalize().Mul(angle), MatrixLogarithm(r), 1e-8)
		}
	}
}

func TestMatrixLogarithmAtPi(t *testing.T) {
	// acos loses precision next to -1, so the angle is only good to ~1e-8
	for _, axis := range testAxes {
		r, err := RodriguesRotationMatrix(axis, math.Pi)
		require.NoError(t, err)
		v := MatrixLogarithm(r)
		assert.False(t, math.IsNaN(v.Norm()))
		assert.InDelta(t, math.Pi, v.Norm(), 1e-6)
		// parallel to the axis, either sign
		assert.InDelta(t, 1, math.Abs(v.Normalize().Dot(axis.Normalize())), 1e-6)
		// both signs reconstruct the same rotation
		assertMatNear(t, r, MakeRotationMatrixFromVector(v), 1e-6)
		assertMatNear(t, r, MakeRotationMatrixFromVector(v.Mul(-1)), 1e-6)
	}
}

func TestMatrixLogarithmJustBelowPi(t *testing.T) {
	axis := NewVector3(0.2, -0.7, 0.4).Normalize()
	angle := math.Pi - 5e-5
	r, err := RodriguesRotationMatrix(axis, angle)
	require.NoError(t, err)
	// inside the eigen-decomposition band the sign still follows the rotation direction
	assertVecNear(t, axis.Mul(angle), MatrixLogarithm(r), 1e-6)
}

func TestEulerRoundTrip(t *testing.T) {
	for _, rpy := range [][3]float64{
		{0, 0, 0},
		{0.1, 0.2, 0.3},
		{-1.2, 0.7, 2.5},
		{3, -1.4, -3},
	} {
		r := MakeRotationMatrix(rpy[0], rpy[1], rpy[2])
		assert.True(t, IsRotationMatrix(r, 1e-9))
		roll, pitch, yaw := EulerAngles(r)
		assert.InDelta(t, rpy[0], roll, 1e-9)
		assert.InDelta(t, rpy[1], pitch, 1e-9)
		assert.InDelta(t, rpy[2], yaw, 1e-9)
	}
}

func TestEulerGimbalLock(t *testing.T) {
	r := MakeRotationMatrix(0.4, math.Pi/2, 0.9)
	roll, pitch, yaw := EulerAngles(r)
	assert.Equal(t, 0.0, roll)
	assert.InDelta(t, math.Pi/2, pitch, 1e-6)
	// angles are not unique but must rebuild the same matrix
	assertMatNear(t, r, MakeRotationMatrix(roll, pitch, yaw), 1e-6)
}

func TestMakeRotationMatrixComposition(t *testing.T) {
	// yaw only rotates x onto y
	r := MakeRotationMatrix(0, 0, math.Pi/2)
	assertVecNear(t, NewVector3(0, 1, 0), MulVec(r, NewVector3(1, 0, 0)), tol)

	// roll is applied before yaw about the fixed axes
	r = MakeRotationMatrix(math.Pi/2, 0, math.Pi/2)
	assertVecNear(t, NewVector3(0, 0, 1), MulVec(r, NewVector3(0, 1, 0)), tol)
}

func TestRotationVectorRoundTrip(t *testing.T) {
	for _, rpy := range [][3]float64{{0.1, 0.2, 0.3}, {-2, 1, 0.5}, {1.5, -0.3, -2.8}} {
		r := MakeRotationMatrix(rpy[0], rpy[1], rpy[2])
		assertMatNear(t, r, MakeRotationMatrixFromVector(MakeRotationVector(r)), 1e-9)
	}
	assert.Equal(t, Identity(), MakeRotationMatrixFromVector(r3.Vector{}))
}

func TestDifferentialPose(t *testing.T) {
	present := MakeRotationMatrix(0.2, -0.1, 0.4)
	delta := NewVector3(0.05, 0.1, -0.2)
	// a world-frame rotation applied on the left
	desired := MakeRotationMatrixFromVector(delta).Mul3(present)

	assertVecNear(t, delta, DifferentialOrientation(desired, present), 1e-9)
	assert.Equal(t, r3.Vector{}, DifferentialOrientation(present, present))

	dp := DifferentialPose(NewVector3(1, 2, 3), NewVector3(0.5, 2, 4), desired, present)
	arr := dp.Array()
	assert.InDelta(t, 0.5, arr[0], tol)
	assert.InDelta(t, 0.0, arr[1], tol)
	assert.InDelta(t, -1.0, arr[2], tol)
	assert.InDelta(t, delta.X, arr[3], 1e-9)
	assert.InDelta(t, delta.Y, arr[4], 1e-9)
	assert.InDelta(t, delta.Z, arr[5], 1e-9)
}

func TestOrthonormalize(t *testing.T) {
	r := MakeRotationMatrix(0.3, 0.2, 0.1)
	noisy := r.Add(NewMatrix3(1e-3, 0, 2e-3, 0, -1e-3, 0, 1e-3, 0, 0))
	assert.False(t, IsRotationMatrix(noisy, 1e-6))
	fixed, err := Orthonormalize(noisy)
	require.NoError(t, err)
	assert.True(t, IsRotationMatrix(fixed, 1e-9))
	assertMatNear(t, r, fixed, 1e-2)

	_, err = Orthonormalize(Matrix3{})
	assert.ErrorIs(t, err, ErrNotRotation)
}

func TestCheckRotation(t *testing.T) {
	assert.NoError(t, CheckRotation(Identity()))
	assert.ErrorIs(t, CheckRotation(Identity().Mul(2)), ErrNotRotation)
	// a reflection is orthonormal but has det -1
	assert.ErrorIs(t, CheckRotation(NewMatrix3(1, 0, 0, 0, 1, 0, 0, 0, -1)), ErrNotRotation)
	nan := Identity()
	nan[0] = math.NaN()
	assert.ErrorIs(t, CheckRotation(nan), ErrNotRotation)
}

func TestSlerp(t *testing.T) {
	from := Identity()
	to := MakeRotationMatrix(0, 0, 1)
	mid := Slerp(from, to, 0.5)
	assert.InDelta(t, 0.5, AngleBetween(from, mid), 1e-9)
	assertMatNear(t, to, Slerp(from, to, 1), 1e-9)
}

func TestInertiaChecks(t *testing.T) {
	psd := NewMatrix3(2, 0.1, 0, 0.1, 1, 0, 0, 0, 0.5)
	assert.True(t, IsSymmetric(psd, 1e-12))
	assert.True(t, IsPositiveSemiDefinite(psd, 1e-12))
	assert.True(t, IsPositiveSemiDefinite(Matrix3{}, 1e-12))
	assert.False(t, IsPositiveSemiDefinite(NewMatrix3(1, 0, 0, 0, -1, 0, 0, 0, 1), 1e-12))
	assert.False(t, IsSymmetric(NewMatrix3(1, 2, 0, 0, 1, 0, 0, 0, 1), 1e-12))
}

func TestSpatialVector(t *testing.T) {
	a := NewSpatialVector(1, 2, 3, 4, 5, 6)
	b := SpatialVectorFromArray([6]float64{1, 1, 1, 1, 1, 1})
	assert.Equal(t, [6]float64{2, 3, 4, 5, 6, 7}, a.Add(b).Array())
	assert.Equal(t, [6]float64{0, 1, 2, 3, 4, 5}, a.Sub(b).Array())
	assert.Equal(t, [6]float64{2, 4, 6, 8, 10, 12}, a.Scale(2).Array())
	assert.True(t, SpatialVector{}.IsZero())
	assert.True(t, a.IsFinite())
	assert.False(t, NewSpatialVector(math.Inf(1), 0, 0, 0, 0, 0).IsFinite())
}
