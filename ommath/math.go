// Package ommath implements the rotation and pose math used by the manipulator model:
// rotation matrices, the so(3) logarithm/exponential maps, Euler angles and pose differences.
//
// Vectors are r3.Vector and 3x3 matrices are mgl64.Mat3 (column-major storage, row/column
// access through At). Every function is pure.
package ommath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Vector3 is a 3D vector.
type Vector3 = r3.Vector

// Matrix3 is a 3x3 matrix.
type Matrix3 = mgl64.Mat3

const (
	// RotationTolerance bounds |RRᵀ - I| and |det R - 1| for a matrix to count as a rotation.
	RotationTolerance = 1e-4

	// below this angle a rotation is treated as the identity
	smallAngle = 1e-9
	// within this distance of π the antisymmetric part is too small to recover the axis
	nearPi = 1e-4
)

var (
	// ErrZeroAxis is returned when a rotation axis has zero length.
	ErrZeroAxis = errors.New("rotation axis has zero length")
	// ErrNotRotation is returned when a matrix is not orthonormal with determinant +1.
	ErrNotRotation = errors.New("matrix is not a rotation matrix")
)

// Sign returns -1, 0 or +1.
func Sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// NewVector3 builds a vector from its components.
func NewVector3(x, y, z float64) Vector3 {
	return r3.Vector{X: x, Y: y, Z: z}
}

// NewMatrix3 builds a matrix from its entries given row by row.
func NewMatrix3(m11, m12, m13, m21, m22, m23, m31, m32, m33 float64) Matrix3 {
	return mgl64.Mat3FromRows(
		mgl64.Vec3{m11, m12, m13},
		mgl64.Vec3{m21, m22, m23},
		mgl64.Vec3{m31, m32, m33},
	)
}

// Identity returns the 3x3 identity matrix.
func Identity() Matrix3 {
	return mgl64.Ident3()
}

// MulVec returns m·v.
func MulVec(m Matrix3, v Vector3) Vector3 {
	return fromVec3(m.Mul3x1(toVec3(v)))
}

// SkewSymmetricMatrix returns the so(3) hat operator of v, so that
// SkewSymmetricMatrix(v)·w == v × w.
func SkewSymmetricMatrix(v Vector3) Matrix3 {
	return NewMatrix3(
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	)
}

// Vee is the inverse of SkewSymmetricMatrix. Only the antisymmetric part of m contributes.
func Vee(m Matrix3) Vector3 {
	return NewVector3(
		(m.At(2, 1)-m.At(1, 2))/2,
		(m.At(0, 2)-m.At(2, 0))/2,
		(m.At(1, 0)-m.At(0, 1))/2,
	)
}

// RodriguesRotationMatrix returns R = I + sinθ K + (1 - cosθ) K² for the unit axis along
// axis. The axis is normalized first; a zero axis yields ErrZeroAxis.
func RodriguesRotationMatrix(axis Vector3, angle float64) (Matrix3, error) {
	n := axis.Norm()
	if n < smallAngle {
		return Identity(), ErrZeroAxis
	}
	k := SkewSymmetricMatrix(axis.Mul(1 / n))
	r := Identity().
		Add(k.Mul(math.Sin(angle))).
		Add(k.Mul3(k).Mul(1 - math.Cos(angle)))
	return r, nil
}

// MatrixLogarithm maps a rotation matrix to its rotation vector (axis scaled by angle,
// angle in [0, π]). Near the identity it returns the zero vector. At angle π the axis is
// only defined up to sign; the principal eigenvector of (R + I)/2 is returned.
func MatrixLogarithm(r Matrix3) Vector3 {
	cosTheta := mgl64.Clamp((r.Trace()-1)/2, -1, 1)
	theta := math.Acos(cosTheta)

	switch {
	case theta < smallAngle:
		return r3.Vector{}
	case math.Pi-theta < nearPi:
		axis := axisNearPi(r)
		// when not exactly at π the antisymmetric part still carries the sign
		if w := Vee(r); w.Norm() > smallAngle && w.Dot(axis) < 0 {
			axis = axis.Mul(-1)
		}
		return axis.Mul(theta)
	default:
		return Vee(r).Mul(theta / math.Sin(theta))
	}
}

// IsRotationMatrix reports whether m is orthonormal with determinant +1 within tol.
func IsRotationMatrix(m Matrix3, tol float64) bool {
	for _, f := range m {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	if !ApproxEqual(m.Mul3(m.Transpose()), Identity(), tol) {
		return false
	}
	return math.Abs(m.Det()-1) <= tol
}

// CheckRotation returns ErrNotRotation unless m is a rotation within RotationTolerance.
func CheckRotation(m Matrix3) error {
	if !IsRotationMatrix(m, RotationTolerance) {
		return ErrNotRotation
	}
	return nil
}

// Orthonormalize returns the rotation closest to m in the Gram-Schmidt sense: the first
// column is kept in direction, the second is made orthogonal to it and the third is their
// cross product.
func Orthonormalize(m Matrix3) (Matrix3, error) {
	x := fromVec3(m.Col(0))
	y := fromVec3(m.Col(1))
	if x.Norm() < smallAngle {
		return Identity(), ErrNotRotation
	}
	x = x.Normalize()
	y = y.Sub(x.Mul(x.Dot(y)))
	if y.Norm() < smallAngle {
		return Identity(), ErrNotRotation
	}
	y = y.Normalize()
	z := x.Cross(y)
	return mgl64.Mat3FromCols(toVec3(x), toVec3(y), toVec3(z)), nil
}

// ApproxEqual reports whether every entry of a and b differs by at most tol.
func ApproxEqual(a, b Matrix3, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// IsFiniteVector reports whether no component of v is NaN or infinite.
func IsFiniteVector(v Vector3) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func toVec3(v Vector3) mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

func fromVec3(v mgl64.Vec3) Vector3 {
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}
