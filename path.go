package open_manipulator

import (
	"math"

	"open_manipulator/ommath"
)

// LinePath moves a pose along a straight line while slerping its orientation. Its duration is
// set by whichever of the linear and angular speed limits is slower to satisfy.
type LinePath struct {
	start, goal Pose
	duration    float64
}

// NewLinePath plans a line from start to goal. Speeds are in m/s and rad/s.
func NewLinePath(start, goal Pose, linearSpeed, angularSpeed float64) (*LinePath, error) {
	if err := start.Validate(); err != nil {
		return nil, err
	}
	if err := goal.Validate(); err != nil {
		return nil, err
	}
	if !finite(linearSpeed) || linearSpeed <= 0 || !finite(angularSpeed) || angularSpeed <= 0 {
		return nil, invalid("path speeds must be positive, got %v m/s and %v rad/s", linearSpeed, angularSpeed)
	}
	linear := goal.Position.Sub(start.Position).Norm() / linearSpeed
	angular := ommath.AngleBetween(start.Orientation, goal.Orientation) / angularSpeed
	return &LinePath{start: start, goal: goal, duration: math.Max(linear, angular)}, nil
}

// Duration is the time in seconds the path takes.
func (p *LinePath) Duration() float64 {
	return p.duration
}

// Generate returns the pose t seconds into the path. Times outside the path clamp to its ends.
func (p *LinePath) Generate(_ *Manipulator, t float64) (Pose, error) {
	if !finite(t) {
		return Pose{}, invalid("path time %v is not finite", t)
	}
	s := 1.0
	if p.duration > 0 {
		s = math.Min(math.Max(t/p.duration, 0), 1)
	}
	return Pose{
		Position:    p.start.Position.Add(p.goal.Position.Sub(p.start.Position).Mul(s)),
		Orientation: ommath.Slerp(p.start.Orientation, p.goal.Orientation, s),
	}, nil
}
