package open_manipulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

var GripperModel = resource.NewModel("open-manipulator", "gripper", "tool")

// GripperConfig exposes a tool of an arm's session as a gripper. The arm must be configured
// first, so it is declared as a dependency.
type GripperConfig struct {
	Arm string `json:"arm"`
	// Defaults to the arm's session key, which is the arm's name unless the arm sets session.
	Session string `json:"session,omitempty"`
	Tool    string `json:"tool"`

	// Tool values commanded by Open and Grab.
	OpenValue   *float64 `json:"open_value,omitempty"`
	ClosedValue *float64 `json:"closed_value,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *GripperConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Arm == "" {
		return nil, nil, fmt.Errorf("%s: must specify arm", path)
	}
	if cfg.Tool == "" {
		return nil, nil, fmt.Errorf("%s: must specify tool", path)
	}
	return []string{cfg.Arm}, nil, nil
}

func (cfg *GripperConfig) values() (float64, float64) {
	open, closed := 1.0, 0.0
	if cfg.OpenValue != nil {
		open = *cfg.OpenValue
	}
	if cfg.ClosedValue != nil {
		closed = *cfg.ClosedValue
	}
	return open, closed
}

type toolGripper struct {
	resource.AlwaysRebuild

	name     resource.Name
	logger   logging.Logger
	key      string
	sessions *SessionRegistry
	m        *Manipulator
	tool     Name

	openValue   float64
	closedValue float64

	mu       sync.Mutex
	isMoving atomic.Bool
}

func init() {
	resource.RegisterComponent(
		gripper.API,
		GripperModel,
		resource.Registration[gripper.Gripper, *GripperConfig]{
			Constructor: newGripper,
		},
	)
}

func newGripper(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (gripper.Gripper, error) {
	cfg, err := resource.NativeConfig[*GripperConfig](conf)
	if err != nil {
		return nil, err
	}
	return NewGripper(conf.ResourceName(), cfg, globalSessions, logger)
}

// NewGripper joins the arm's running session and checks that the tool exists.
func NewGripper(name resource.Name, cfg *GripperConfig, sessions *SessionRegistry, logger logging.Logger) (gripper.Gripper, error) {
	key := cfg.Session
	if key == "" {
		key = cfg.Arm
	}
	session, err := sessions.Join(key)
	if err != nil {
		return nil, fmt.Errorf("failed to join session for gripper: %w", err)
	}
	if _, err := session.Manipulator.ComponentTool(Name(cfg.Tool)); err != nil {
		sessions.Release(key)
		return nil, err
	}

	open, closed := cfg.values()
	g := &toolGripper{
		name:        name,
		logger:      logger,
		key:         key,
		sessions:    sessions,
		m:           session.Manipulator,
		tool:        Name(cfg.Tool),
		openValue:   open,
		closedValue: closed,
	}
	logger.Debugf("gripper on tool %q in session %q, open=%v, closed=%v", cfg.Tool, key, open, closed)
	return g, nil
}

func (g *toolGripper) Name() resource.Name {
	return g.name
}

func (g *toolGripper) set(on bool, value float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.isMoving.Store(true)
	defer g.isMoving.Store(false)

	if err := g.m.SetComponentToolValue(g.tool, value); err != nil {
		return err
	}
	return g.m.SetComponentToolOnOff(g.tool, on)
}

func (g *toolGripper) Open(ctx context.Context, extra map[string]interface{}) error {
	g.logger.Debug("Opening gripper")
	if err := g.set(false, g.openValue); err != nil {
		return fmt.Errorf("failed to open gripper: %w", err)
	}
	return nil
}

// Grab closes the tool. The model has no contact sensing, so it reports a grab whenever the
// tool is switched on.
func (g *toolGripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	g.logger.Debug("Closing gripper")
	if err := g.set(true, g.closedValue); err != nil {
		return false, fmt.Errorf("failed to close gripper: %w", err)
	}
	return true, nil
}

func (g *toolGripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	g.isMoving.Store(false)
	return nil
}

func (g *toolGripper) IsMoving(ctx context.Context) (bool, error) {
	return g.isMoving.Load(), nil
}

func (g *toolGripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}

func (g *toolGripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "get_tool":
		tool, err := g.m.ComponentTool(g.tool)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": tool.ID, "on": tool.On, "value": tool.Value}, nil

	case "set_value":
		value, ok := cmd["value"].(float64)
		if !ok {
			return nil, fmt.Errorf("set_value command requires 'value' number parameter")
		}
		if err := g.m.SetComponentToolValue(g.tool, value); err != nil {
			return nil, err
		}
		return map[string]interface{}{"success": true}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (g *toolGripper) Close(ctx context.Context) error {
	g.sessions.Release(g.key)
	return nil
}

func (g *toolGripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return nil, errors.ErrUnsupported
}

func (g *toolGripper) GoToInputs(ctx context.Context, inputs ...[]referenceframe.Input) error {
	return errors.ErrUnsupported
}

func (g *toolGripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}

func (g *toolGripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	on, err := g.m.ComponentToolOnOff(g.tool)
	if err != nil {
		return gripper.HoldingStatus{}, err
	}
	return gripper.HoldingStatus{IsHoldingSomething: on}, nil
}
