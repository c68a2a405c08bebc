package ommath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// axisNearPi recovers the rotation axis of a rotation by (nearly) π. For such a rotation
// (R + I)/2 ≈ a·aᵀ, so the axis is the eigenvector of its largest eigenvalue.
func axisNearPi(r Matrix3) Vector3 {
	sym := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			v := (r.At(i, j) + r.At(j, i)) / 4
			if i == j {
				v += 0.5
			}
			sym.SetSym(i, j, v)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return columnAxis(r)
	}
	// eigenvalues come back in ascending order
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	axis := r3.Vector{X: vecs.At(0, 2), Y: vecs.At(1, 2), Z: vecs.At(2, 2)}
	if axis.Norm() < smallAngle {
		return columnAxis(r)
	}
	return canonicalSign(axis.Normalize())
}

// columnAxis is the fallback when the eigen solver fails: the largest column of R + I is
// parallel to the axis.
func columnAxis(r Matrix3) Vector3 {
	b := r.Add(Identity())
	best := r3.Vector{}
	for c := 0; c < 3; c++ {
		col := fromVec3(b.Col(c))
		if col.Norm() > best.Norm() {
			best = col
		}
	}
	if best.Norm() < smallAngle {
		return r3.Vector{X: 1}
	}
	return canonicalSign(best.Normalize())
}

// canonicalSign flips v so its largest-magnitude component is positive.
func canonicalSign(v Vector3) Vector3 {
	largest := v.X
	if math.Abs(v.Y) > math.Abs(largest) {
		largest = v.Y
	}
	if math.Abs(v.Z) > math.Abs(largest) {
		largest = v.Z
	}
	if largest < 0 {
		return v.Mul(-1)
	}
	return v
}

// IsPositiveSemiDefinite reports whether the symmetric matrix m has no eigenvalue below -tol.
// m must already be symmetric; the upper triangle is used.
func IsPositiveSemiDefinite(m Matrix3, tol float64) bool {
	sym := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			sym.SetSym(i, j, m.At(i, j))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return false
	}
	for _, v := range eig.Values(nil) {
		if v < -tol {
			return false
		}
	}
	return true
}

// IsSymmetric reports whether m equals its transpose within tol.
func IsSymmetric(m Matrix3, tol float64) bool {
	return ApproxEqual(m, m.Transpose(), tol)
}
