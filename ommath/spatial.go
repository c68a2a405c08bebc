package ommath

import "github.com/golang/geo/r3"

// SpatialVector is a 6D motion vector: a linear part and an angular part.
type SpatialVector struct {
	Linear  Vector3 `json:"linear" yaml:"linear"`
	Angular Vector3 `json:"angular" yaml:"angular"`
}

// NewSpatialVector builds a spatial vector from linear then angular components.
func NewSpatialVector(lx, ly, lz, ax, ay, az float64) SpatialVector {
	return SpatialVector{
		Linear:  r3.Vector{X: lx, Y: ly, Z: lz},
		Angular: r3.Vector{X: ax, Y: ay, Z: az},
	}
}

// SpatialVectorFromArray is the inverse of Array.
func SpatialVectorFromArray(a [6]float64) SpatialVector {
	return NewSpatialVector(a[0], a[1], a[2], a[3], a[4], a[5])
}

// Add returns s + o.
func (s SpatialVector) Add(o SpatialVector) SpatialVector {
	return SpatialVector{Linear: s.Linear.Add(o.Linear), Angular: s.Angular.Add(o.Angular)}
}

// Sub returns s - o.
func (s SpatialVector) Sub(o SpatialVector) SpatialVector {
	return SpatialVector{Linear: s.Linear.Sub(o.Linear), Angular: s.Angular.Sub(o.Angular)}
}

// Scale returns s·k.
func (s SpatialVector) Scale(k float64) SpatialVector {
	return SpatialVector{Linear: s.Linear.Mul(k), Angular: s.Angular.Mul(k)}
}

// Array flattens s as [lx ly lz ax ay az].
func (s SpatialVector) Array() [6]float64 {
	return [6]float64{s.Linear.X, s.Linear.Y, s.Linear.Z, s.Angular.X, s.Angular.Y, s.Angular.Z}
}

// IsZero reports whether every component is zero.
func (s SpatialVector) IsZero() bool {
	return s == SpatialVector{}
}

// IsFinite reports whether no component is NaN or infinite.
func (s SpatialVector) IsFinite() bool {
	return IsFiniteVector(s.Linear) && IsFiniteVector(s.Angular)
}
