package open_manipulator

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/motionplan/armplanning"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/utils"

	"open_manipulator/ommath"
)

var ArmModel = resource.NewModel("open-manipulator", "arm", "sim")

func init() {
	resource.RegisterComponent(arm.API, ArmModel,
		resource.Registration[arm.Arm, *ArmConfig]{
			Constructor: newArm,
		},
	)
}

// ArmConfig runs a session and exposes the path to EndEffector as an arm. Grippers join the
// session through its key: Session when set, otherwise the arm's name.
type ArmConfig struct {
	Session         string       `json:"session,omitempty"`
	Chain           *ChainConfig `json:"chain,omitempty"`
	ChainFile       string       `json:"chain_file,omitempty"`
	PeriodMs        float64      `json:"period_ms,omitempty"`
	ReadBack        bool         `json:"read_back,omitempty"`
	SpeedDegsPerSec float64      `json:"speed_degs_per_sec,omitempty"`
	EndEffector     string       `json:"end_effector,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *ArmConfig) Validate(path string) ([]string, []string, error) {
	if err := cfg.sessionConfig(nil).Validate(path); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

func (cfg *ArmConfig) sessionConfig(logger logging.Logger) *Config {
	return &Config{
		Chain:           cfg.Chain,
		ChainFile:       cfg.ChainFile,
		PeriodMs:        cfg.PeriodMs,
		ReadBack:        cfg.ReadBack,
		SpeedDegsPerSec: cfg.SpeedDegsPerSec,
		Logger:          logger,
	}
}

func sessionKey(session string, name resource.Name) string {
	if session != "" {
		return session
	}
	return name.ShortName()
}

type simArm struct {
	resource.AlwaysRebuild

	name     resource.Name
	logger   logging.Logger
	key      string
	sessions *SessionRegistry
	session  *Session
	chain    *KinematicChain
	opMgr    *operation.SingleOperationManager

	moveLock sync.Mutex
}

func newArm(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*ArmConfig](rawConf)
	if err != nil {
		return nil, err
	}
	return NewArm(rawConf.ResourceName(), conf, globalSessions, logger)
}

// NewArm acquires the configured session from sessions and wraps it as an arm.
func NewArm(name resource.Name, conf *ArmConfig, sessions *SessionRegistry, logger logging.Logger) (arm.Arm, error) {
	key := sessionKey(conf.Session, name)
	cfg := conf.sessionConfig(logger)
	if err := cfg.Validate(name.ShortName()); err != nil {
		return nil, err
	}
	session, err := sessions.Acquire(key, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start session %q: %w", key, err)
	}

	chain, err := session.Manipulator.KinematicChain(name.ShortName(), Name(conf.EndEffector))
	if err != nil {
		sessions.Release(key)
		return nil, fmt.Errorf("failed to create kinematic model: %w", err)
	}

	logger.Infof("arm %s drives %v to %q in session %q", name.ShortName(), chain.Joints, chain.End, key)
	return &simArm{
		name:     name,
		logger:   logger,
		key:      key,
		sessions: sessions,
		session:  session,
		chain:    chain,
		opMgr:    operation.NewSingleOperationManager(),
	}, nil
}

func (s *simArm) Name() resource.Name {
	return s.name
}

func (s *simArm) Close(context.Context) error {
	s.logger.Info("Closing arm")
	s.sessions.Release(s.key)
	return nil
}

// EndPosition is the end effector pose in the world frame's coordinates, from the tree.
func (s *simArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	m := s.session.Manipulator
	base, err := m.WorldPose()
	if err != nil {
		return nil, err
	}
	end, err := m.ComponentPoseToWorld(s.chain.End)
	if err != nil {
		return nil, err
	}
	return base.Relative(end).Spatialmath()
}

func (s *simArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	return armplanning.MoveArm(ctx, s.logger, s, pose)
}

// MoveToJointPositions retargets the chain's joints and waits until the actuator settles and
// the tree reports the target. Joints off the chain keep their target.
func (s *simArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	s.moveLock.Lock()
	defer s.moveLock.Unlock()

	if len(positions) != len(s.chain.Joints) {
		return fmt.Errorf("expected %d joint positions, got %d", len(s.chain.Joints), len(positions))
	}
	ctx, done := s.opMgr.New(ctx)
	defer done()

	m := s.session.Manipulator
	target := s.session.Target.Target()
	if target == nil {
		target = m.AllJointAngles()
	}
	active := m.ActiveJointNames()
	for i, name := range s.chain.Joints {
		target[slices.Index(active, name)] = positions[i]
	}
	if err := s.session.MoveTo(target); err != nil {
		return fmt.Errorf("failed to move to joint positions: %w", err)
	}

	act := s.session.Actuator
	for {
		if slices.Equal(act.Targets(), target) && !act.IsMoving() && slices.Equal(m.AllJointAngles(), target) {
			return nil
		}
		if !utils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			return ctx.Err()
		}
	}
}

func (s *simArm) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error {
	for _, jointPositions := range positions {
		if err := s.MoveToJointPositions(ctx, jointPositions, extra); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// JointPositions reads the chain's joint angles from the tree, in model input order.
func (s *simArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	m := s.session.Manipulator
	positions := make([]referenceframe.Input, len(s.chain.Joints))
	for i, name := range s.chain.Joints {
		angle, err := m.ComponentJointAngle(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read joint positions: %w", err)
		}
		positions[i] = angle
	}
	return positions, nil
}

func (s *simArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	s.opMgr.CancelRunning(ctx)
	return s.session.Halt()
}

func (s *simArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return s.chain.Model, nil
}

func (s *simArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return s.JointPositions(ctx, nil)
}

func (s *simArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return s.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

func (s *simArm) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	m := s.session.Manipulator
	switch cmd["command"] {
	case "status":
		_, strategies := s.session.Registry.Status()
		stats := s.session.Loop.Stats()
		return map[string]interface{}{
			"dof":        m.DOF(),
			"components": m.ComponentSize(),
			"strategies": strategies,
			"ticks":      stats.Ticks,
			"applied":    stats.Applied,
			"preempted":  stats.Preempted,
			"errors":     stats.Errors,
		}, nil

	case "get_pose":
		name, ok := cmd["component"].(string)
		if !ok {
			return nil, errors.New("get_pose command requires 'component' string parameter")
		}
		pose, err := m.ComponentPoseToWorld(Name(name))
		if err != nil {
			return nil, err
		}
		roll, pitch, yaw := ommath.EulerAngles(pose.Orientation)
		return map[string]interface{}{
			"position": []interface{}{pose.Position.X, pose.Position.Y, pose.Position.Z},
			"rpy":      []interface{}{roll, pitch, yaw},
		}, nil

	case "set_tool":
		name, ok := cmd["component"].(string)
		if !ok {
			return nil, errors.New("set_tool command requires 'component' string parameter")
		}
		if on, ok := cmd["on"].(bool); ok {
			if err := m.SetComponentToolOnOff(Name(name), on); err != nil {
				return nil, err
			}
		}
		if value, ok := cmd["value"].(float64); ok {
			if err := m.SetComponentToolValue(Name(name), value); err != nil {
				return nil, err
			}
		}
		return map[string]interface{}{"success": true}, nil

	case "plan_line":
		return s.planLine(cmd)

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

// planLine connects a line from the end effector to a world-frame goal and samples it.
func (s *simArm) planLine(cmd map[string]interface{}) (map[string]interface{}, error) {
	position, ok := floats(cmd["position"], 3)
	if !ok {
		return nil, errors.New("plan_line command requires 'position' [x, y, z] in meters")
	}
	rpy := []float64{0, 0, 0}
	if raw, exists := cmd["rpy"]; exists {
		if rpy, ok = floats(raw, 3); !ok {
			return nil, errors.New("plan_line 'rpy' must be [roll, pitch, yaw] in radians")
		}
	}
	linearSpeed, angularSpeed, steps := 0.1, math.Pi/2, 10.0
	if v, ok := cmd["speed"].(float64); ok {
		linearSpeed = v
	}
	if v, ok := cmd["angular_speed"].(float64); ok {
		angularSpeed = v
	}
	if v, ok := cmd["steps"].(float64); ok {
		steps = v
	}
	if steps < 1 {
		return nil, fmt.Errorf("plan_line 'steps' must be at least 1, got %v", steps)
	}

	m := s.session.Manipulator
	start, err := m.ComponentPoseToWorld(s.chain.End)
	if err != nil {
		return nil, err
	}
	goal := NewPose(ommath.NewVector3(position[0], position[1], position[2]), ommath.MakeRotationMatrix(rpy[0], rpy[1], rpy[2]))
	path, err := NewLinePath(start, goal, linearSpeed, angularSpeed)
	if err != nil {
		return nil, err
	}
	registry := s.session.Registry
	registry.ConnectLine(path)

	n := int(steps)
	poses := make([]interface{}, 0, n+1)
	for i := 0; i <= n; i++ {
		pose, err := registry.Path(SlotLine, m, path.Duration()*float64(i)/float64(n))
		if err != nil {
			return nil, err
		}
		roll, pitch, yaw := ommath.EulerAngles(pose.Orientation)
		poses = append(poses, []interface{}{pose.Position.X, pose.Position.Y, pose.Position.Z, roll, pitch, yaw})
	}
	return map[string]interface{}{
		"duration": path.Duration(),
		"angle":    ommath.AngleBetween(start.Orientation, goal.Orientation),
		"poses":    poses,
	}, nil
}

// floats reads a JSON number array of length n.
func floats(v interface{}, n int) ([]float64, bool) {
	raw, ok := v.([]interface{})
	if !ok || len(raw) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, x := range raw {
		if out[i], ok = x.(float64); !ok {
			return nil, false
		}
	}
	return out, true
}

// Get3DModels returns no meshes; the chain has no visual geometry.
func (s *simArm) Get3DModels(ctx context.Context, extra map[string]interface{}) (map[string]*commonpb.Mesh, error) {
	return map[string]*commonpb.Mesh{}, nil
}

func (s *simArm) IsMoving(ctx context.Context) (bool, error) {
	return s.session.Actuator.IsMoving(), nil
}

func (s *simArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	inputs, err := s.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	gif, err := s.chain.Model.Geometries(inputs)
	if err != nil {
		return nil, err
	}
	return gif.Geometries(), nil
}
