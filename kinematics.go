package open_manipulator

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"go.viam.com/rdk/referenceframe"

	"open_manipulator/ommath"
)

// rdk model files use millimeters and degrees.
const (
	metersToMM     = 1000
	jointLimitDegs = 360
)

type modelVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type modelAxisAngle struct {
	Theta float64 `json:"th"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

type modelOrientation struct {
	Type  string         `json:"type"`
	Value modelAxisAngle `json:"value"`
}

type modelLink struct {
	ID          string            `json:"id"`
	Parent      string            `json:"parent"`
	Translation modelVector       `json:"translation"`
	Orientation *modelOrientation `json:"orientation,omitempty"`
}

type modelJoint struct {
	ID     string      `json:"id"`
	Type   string      `json:"type"`
	Parent string      `json:"parent"`
	Axis   modelVector `json:"axis"`
	Max    float64     `json:"max"`
	Min    float64     `json:"min"`
}

type modelFile struct {
	Name               string       `json:"name"`
	KinematicParamType string       `json:"kinematic_param_type"`
	Links              []modelLink  `json:"links"`
	Joints             []modelJoint `json:"joints"`
}

// KinematicChain is the serial path from the world to one end effector, as an rdk model.
type KinematicChain struct {
	Model referenceframe.Model
	// actuated joints along the path, in model input order
	Joints []Name
	End    Name
}

func orientationConfig(r ommath.Matrix3) *modelOrientation {
	v := ommath.MakeRotationVector(r)
	theta := v.Norm()
	if theta < 1e-12 {
		return nil
	}
	axis := v.Mul(1 / theta)
	return &modelOrientation{
		Type:  "axis_angles",
		Value: modelAxisAngle{Theta: theta, X: axis.X, Y: axis.Y, Z: axis.Z},
	}
}

// defaultEnd picks the first tool by name, or the first leaf when there are no tools. Caller
// holds mu.
func (m *Manipulator) defaultEnd() (Name, error) {
	var tools, leaves []Name
	for name, c := range m.components {
		if c.Tool != nil {
			tools = append(tools, name)
		}
		if len(c.Children) == 0 {
			leaves = append(leaves, name)
		}
	}
	for _, names := range [][]Name{tools, leaves} {
		if len(names) > 0 {
			sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
			return names[0], nil
		}
	}
	return "", invalid("manipulator has no components")
}

// ModelJSON renders the path from the world to end as an rdk kinematics file. Actuated joints
// become revolute joints; passive joints are frozen at their current angle. An empty end
// selects the default end effector.
func (m *Manipulator) ModelJSON(name string, end Name) ([]byte, []Name, Name, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if end == "" {
		var err error
		if end, err = m.defaultEnd(); err != nil {
			return nil, nil, "", err
		}
	}
	chain, err := m.path(end)
	if err != nil {
		return nil, nil, "", err
	}

	file := modelFile{Name: name, KinematicParamType: "SVA"}
	var joints []Name
	parent := referenceframe.World
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i]
		rel := c.Relative.Pose
		actuated := c.Joint != nil && c.Joint.Actuated()
		orientation := rel.Orientation
		if !actuated {
			jointRot, _, _ := jointTerms(c, ommath.Identity())
			orientation = orientation.Mul3(jointRot)
		}

		linkID := string(c.Name)
		if actuated {
			linkID += "_offset"
		}
		p := rel.Position.Mul(metersToMM)
		file.Links = append(file.Links, modelLink{
			ID:          linkID,
			Parent:      parent,
			Translation: modelVector{X: p.X, Y: p.Y, Z: p.Z},
			Orientation: orientationConfig(orientation),
		})
		parent = linkID
		if !actuated {
			continue
		}
		a := c.Joint.Axis
		file.Joints = append(file.Joints, modelJoint{
			ID:     string(c.Name),
			Type:   "revolute",
			Parent: linkID,
			Axis:   modelVector{X: a.X, Y: a.Y, Z: a.Z},
			Max:    jointLimitDegs,
			Min:    -jointLimitDegs,
		})
		parent = string(c.Name)
		joints = append(joints, c.Name)
	}

	data, err := json.Marshal(file)
	if err != nil {
		return nil, nil, "", errors.Wrap(err, "failed to marshal kinematics")
	}
	return data, joints, end, nil
}

// KinematicChain builds an rdk model of the path from the world to end.
func (m *Manipulator) KinematicChain(name string, end Name) (*KinematicChain, error) {
	data, joints, end, err := m.ModelJSON(name, end)
	if err != nil {
		return nil, err
	}
	cfg := &referenceframe.ModelConfigJSON{
		OriginalFile: &referenceframe.ModelFile{
			Bytes:     data,
			Extension: "json",
		},
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal kinematics")
	}
	model, err := cfg.ParseConfig(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse kinematics")
	}
	return &KinematicChain{Model: model, Joints: joints, End: end}, nil
}
