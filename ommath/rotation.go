package ommath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// MakeRotationMatrix returns Rz(yaw)·Ry(pitch)·Rx(roll): roll about the fixed X axis first,
// then pitch about fixed Y, then yaw about fixed Z (equivalently intrinsic Z-Y'-X'').
func MakeRotationMatrix(roll, pitch, yaw float64) Matrix3 {
	return mgl64.Rotate3DZ(yaw).Mul3(mgl64.Rotate3DY(pitch)).Mul3(mgl64.Rotate3DX(roll))
}

// EulerAngles inverts MakeRotationMatrix. Pitch is in [-π/2, π/2]. At gimbal lock
// (|pitch| = π/2) roll and yaw are not separable; roll is reported as 0.
func EulerAngles(r Matrix3) (roll, pitch, yaw float64) {
	sp := mgl64.Clamp(-r.At(2, 0), -1, 1)
	pitch = math.Asin(sp)
	if math.Abs(sp) > 1-1e-9 {
		yaw = math.Atan2(-r.At(0, 1), r.At(1, 1))
		return 0, pitch, yaw
	}
	roll = math.Atan2(r.At(2, 1), r.At(2, 2))
	yaw = math.Atan2(r.At(1, 0), r.At(0, 0))
	return roll, pitch, yaw
}

// MakeRotationMatrixFromVector is the exponential map: the rotation by |v| about v.
// The zero vector maps to the identity.
func MakeRotationMatrixFromVector(v Vector3) Matrix3 {
	angle := v.Norm()
	if angle < smallAngle {
		return Identity()
	}
	r, _ := RodriguesRotationMatrix(v, angle)
	return r
}

// MakeRotationVector returns the rotation vector (axis·angle) of r. It is the inverse of
// MakeRotationMatrixFromVector for angles below π.
func MakeRotationVector(r Matrix3) Vector3 {
	return MatrixLogarithm(r)
}

// DifferentialPosition returns desired - present.
func DifferentialPosition(desired, present Vector3) Vector3 {
	return desired.Sub(present)
}

// DifferentialOrientation returns the rotation vector that takes present to desired,
// expressed in the frame both matrices are given in (the world frame for to-world
// orientations): present · log(presentᵀ · desired).
func DifferentialOrientation(desired, present Matrix3) Vector3 {
	local := MatrixLogarithm(present.Transpose().Mul3(desired))
	return MulVec(present, local)
}

// DifferentialPose stacks the position and orientation errors into one spatial vector,
// linear part first.
func DifferentialPose(desiredPos, presentPos Vector3, desiredOri, presentOri Matrix3) SpatialVector {
	return SpatialVector{
		Linear:  DifferentialPosition(desiredPos, presentPos),
		Angular: DifferentialOrientation(desiredOri, presentOri),
	}
}

// Slerp interpolates between two orientations along the geodesic, t in [0, 1].
func Slerp(from, to Matrix3, t float64) Matrix3 {
	delta := MatrixLogarithm(from.Transpose().Mul3(to))
	return from.Mul3(MakeRotationMatrixFromVector(delta.Mul(t)))
}

// AngleBetween returns the angle of the rotation taking a to b.
func AngleBetween(a, b Matrix3) float64 {
	return MatrixLogarithm(a.Transpose().Mul3(b)).Norm()
}

// RotateAbout is shorthand for Rodrigues about a known unit axis that never fails; a zero axis
// gives the identity.
func RotateAbout(axis Vector3, angle float64) Matrix3 {
	if axis == (r3.Vector{}) || angle == 0 {
		return Identity()
	}
	r, err := RodriguesRotationMatrix(axis, angle)
	if err != nil {
		return Identity()
	}
	return r
}
