package open_manipulator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gopkg.in/yaml.v3"

	"open_manipulator/ommath"
)

// DataDirEnv names the directory relative chain and config paths resolve against.
const DataDirEnv = "OPEN_MANIPULATOR_DATA"

// Config is the on-disk description of a manipulator and its control loop. The chain is given
// inline or through ChainFile, not both.
type Config struct {
	Chain     *ChainConfig `json:"chain,omitempty" yaml:"chain,omitempty"`
	ChainFile string       `json:"chain_file,omitempty" yaml:"chain_file,omitempty"`

	PeriodMs float64 `json:"period_ms,omitempty" yaml:"period_ms,omitempty"`
	ReadBack bool    `json:"read_back,omitempty" yaml:"read_back,omitempty"`

	// speed of the simulated actuator
	SpeedDegsPerSec float64 `json:"speed_degs_per_sec,omitempty" yaml:"speed_degs_per_sec,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-" yaml:"-"`
}

// ChainConfig declares the world, links and tools of a tree. Components must be listed
// parent first.
type ChainConfig struct {
	World      WorldConfig       `json:"world" yaml:"world"`
	Components []ComponentConfig `json:"components" yaml:"components"`
	Tools      []ToolConfig      `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// WorldConfig places the world frame. RPY is roll, pitch, yaw in radians.
type WorldConfig struct {
	Name     string    `json:"name,omitempty" yaml:"name,omitempty"`
	Child    string    `json:"child" yaml:"child"`
	Position []float64 `json:"position,omitempty" yaml:"position,omitempty"`
	RPY      []float64 `json:"rpy,omitempty" yaml:"rpy,omitempty"`
}

// ComponentConfig declares a link. JointID nil means no actuator.
type ComponentConfig struct {
	Name         string    `json:"name" yaml:"name"`
	Parent       string    `json:"parent" yaml:"parent"`
	Position     []float64 `json:"position,omitempty" yaml:"position,omitempty"`
	RPY          []float64 `json:"rpy,omitempty" yaml:"rpy,omitempty"`
	JointID      *int      `json:"joint_id,omitempty" yaml:"joint_id,omitempty"`
	Axis         []float64 `json:"axis,omitempty" yaml:"axis,omitempty"`
	Mass         float64   `json:"mass,omitempty" yaml:"mass,omitempty"`
	Inertia      []float64 `json:"inertia,omitempty" yaml:"inertia,omitempty"`
	CenterOfMass []float64 `json:"center_of_mass,omitempty" yaml:"center_of_mass,omitempty"`
	Children     []string  `json:"children,omitempty" yaml:"children,omitempty"`
}

// ToolConfig declares an end effector.
type ToolConfig struct {
	Name         string    `json:"name" yaml:"name"`
	Parent       string    `json:"parent" yaml:"parent"`
	Position     []float64 `json:"position,omitempty" yaml:"position,omitempty"`
	RPY          []float64 `json:"rpy,omitempty" yaml:"rpy,omitempty"`
	ToolID       *int      `json:"tool_id,omitempty" yaml:"tool_id,omitempty"`
	Mass         float64   `json:"mass,omitempty" yaml:"mass,omitempty"`
	Inertia      []float64 `json:"inertia,omitempty" yaml:"inertia,omitempty"`
	CenterOfMass []float64 `json:"center_of_mass,omitempty" yaml:"center_of_mass,omitempty"`
}

func intPtr(i int) *int { return &i }

// DefaultChainConfig is a two-joint arm with a gripper: the base link rotates about z 0.1 m
// above the world, the second link pitches about y 0.2 m further up, and the gripper sits
// 0.1 m along the second link's x axis.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		World: WorldConfig{Name: "world", Child: "link1"},
		Components: []ComponentConfig{
			{Name: "link1", Parent: "world", Position: []float64{0, 0, 0.1}, JointID: intPtr(0), Axis: []float64{0, 0, 1}},
			{Name: "link2", Parent: "link1", Position: []float64{0, 0, 0.2}, JointID: intPtr(1), Axis: []float64{0, 1, 0}},
		},
		Tools: []ToolConfig{
			{Name: "gripper", Parent: "link2", Position: []float64{0.1, 0, 0}, ToolID: intPtr(2)},
		},
	}
}

// Validate fills defaults and checks the config. path locates the config in error messages.
func (cfg *Config) Validate(path string) error {
	switch {
	case cfg.Chain != nil && cfg.ChainFile != "":
		return fmt.Errorf("%s: specify either chain or chain_file, not both", path)
	case cfg.Chain == nil && cfg.ChainFile == "":
		return fmt.Errorf("%s: must specify chain or chain_file", path)
	}
	if cfg.PeriodMs < 0 {
		return fmt.Errorf("%s: period_ms must be positive, got %v", path, cfg.PeriodMs)
	}
	if cfg.PeriodMs == 0 {
		cfg.PeriodMs = float64(DefaultPeriod / time.Millisecond)
	}
	if cfg.SpeedDegsPerSec < 0 {
		return fmt.Errorf("%s: speed_degs_per_sec must be positive, got %v", path, cfg.SpeedDegsPerSec)
	}
	if cfg.SpeedDegsPerSec == 0 {
		cfg.SpeedDegsPerSec = 90
	}
	if cfg.Chain != nil {
		return cfg.Chain.Validate(path + ".chain")
	}
	return nil
}

// LoopConfig converts the loop settings.
func (cfg *Config) LoopConfig() LoopConfig {
	return LoopConfig{
		Period:   time.Duration(cfg.PeriodMs * float64(time.Millisecond)),
		ReadBack: cfg.ReadBack,
	}
}

// LoadChain returns the inline chain or reads ChainFile. Relative chain files resolve against
// $OPEN_MANIPULATOR_DATA when it is set.
func (cfg *Config) LoadChain() (ChainConfig, error) {
	if cfg.Chain != nil {
		return *cfg.Chain, nil
	}
	path := ResolvePath(cfg.ChainFile)
	chain, err := LoadChainFile(path)
	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.Warnf("failed to load chain from %s: %v", path, err)
		}
		return ChainConfig{}, err
	}
	if cfg.Logger != nil {
		cfg.Logger.Infof("loaded chain from %s", path)
	}
	return chain, nil
}

// Validate fills the world name default and checks shapes and names.
func (c *ChainConfig) Validate(path string) error {
	if c.World.Name == "" {
		c.World.Name = "world"
	}
	if c.World.Child == "" {
		return fmt.Errorf("%s.world: child is required", path)
	}
	if err := checkTriples(path+".world", c.World.Position, c.World.RPY); err != nil {
		return err
	}
	if len(c.Components) == 0 {
		return fmt.Errorf("%s: at least one component is required", path)
	}
	for i, comp := range c.Components {
		p := fmt.Sprintf("%s.components.%d", path, i)
		if comp.Name == "" || comp.Parent == "" {
			return fmt.Errorf("%s: name and parent are required", p)
		}
		if err := checkTriples(p, comp.Position, comp.RPY, comp.Axis, comp.CenterOfMass); err != nil {
			return err
		}
		if n := len(comp.Inertia); n != 0 && n != 9 {
			return fmt.Errorf("%s: inertia needs 9 values, got %d", p, n)
		}
	}
	for i, tool := range c.Tools {
		p := fmt.Sprintf("%s.tools.%d", path, i)
		if tool.Name == "" || tool.Parent == "" {
			return fmt.Errorf("%s: name and parent are required", p)
		}
		if err := checkTriples(p, tool.Position, tool.RPY, tool.CenterOfMass); err != nil {
			return err
		}
		if n := len(tool.Inertia); n != 0 && n != 9 {
			return fmt.Errorf("%s: inertia needs 9 values, got %d", p, n)
		}
	}
	return nil
}

func checkTriples(path string, vs ...[]float64) error {
	for _, v := range vs {
		if len(v) != 0 && len(v) != 3 {
			return fmt.Errorf("%s: expected 3 values, got %v", path, v)
		}
	}
	return nil
}

func vec(v []float64) ommath.Vector3 {
	if len(v) != 3 {
		return ommath.Vector3{}
	}
	return ommath.NewVector3(v[0], v[1], v[2])
}

func rpy(v []float64) ommath.Matrix3 {
	if len(v) != 3 {
		return ommath.Identity()
	}
	return ommath.MakeRotationMatrix(v[0], v[1], v[2])
}

func tensor(v []float64) ommath.Matrix3 {
	if len(v) != 9 {
		return ommath.Matrix3{}
	}
	return ommath.NewMatrix3(v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7], v[8])
}

// BuildManipulator replays chain through the build API and validates the result. The first
// failing step aborts the build.
func BuildManipulator(chain ChainConfig, logger logging.Logger) (*Manipulator, error) {
	if err := chain.Validate("chain"); err != nil {
		return nil, errors.Wrap(ErrInvalidValue, err.Error())
	}
	m := NewManipulator(logger)

	w := chain.World
	if err := m.AddWorld(Name(w.Name), Name(w.Child), WithWorldPose(NewPose(vec(w.Position), rpy(w.RPY)))); err != nil {
		return nil, err
	}
	for _, c := range chain.Components {
		opts := []ComponentOption{
			WithRelativePose(vec(c.Position), rpy(c.RPY)),
			WithInertia(c.Mass, tensor(c.Inertia), vec(c.CenterOfMass)),
		}
		if c.JointID != nil || len(c.Axis) != 0 {
			id := NoID
			if c.JointID != nil {
				id = *c.JointID
			}
			opts = append(opts, WithJoint(id, vec(c.Axis)))
		}
		if err := m.AddComponent(Name(c.Name), Name(c.Parent), opts...); err != nil {
			return nil, err
		}
	}
	for _, c := range chain.Components {
		for _, child := range c.Children {
			if err := m.AddComponentChild(Name(c.Name), Name(child)); err != nil {
				return nil, err
			}
		}
	}
	for _, t := range chain.Tools {
		opts := []ComponentOption{
			WithRelativePose(vec(t.Position), rpy(t.RPY)),
			WithInertia(t.Mass, tensor(t.Inertia), vec(t.CenterOfMass)),
		}
		if t.ToolID != nil {
			opts = append(opts, WithToolID(*t.ToolID))
		}
		if err := m.AddTool(Name(t.Name), Name(t.Parent), opts...); err != nil {
			return nil, err
		}
	}
	if err := m.CheckManipulatorSetting(); err != nil {
		return nil, err
	}
	return m, nil
}

// ResolvePath joins a relative path onto $OPEN_MANIPULATOR_DATA when that is set.
func ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return filepath.Join(dir, path)
	}
	return path
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func decodeFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	if isJSON(path) {
		err = json.Unmarshal(data, v)
	} else {
		err = yaml.Unmarshal(data, v)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}
	return nil
}

// LoadConfig reads and validates a config file: .json as JSON, anything else as YAML.
func LoadConfig(path string) (*Config, error) {
	path = ResolvePath(path)
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	// chain files are resolved relative to the config when no data dir is set
	if cfg.ChainFile != "" && !filepath.IsAbs(cfg.ChainFile) && os.Getenv(DataDirEnv) == "" {
		cfg.ChainFile = filepath.Join(filepath.Dir(path), cfg.ChainFile)
	}
	return &cfg, nil
}

// LoadChainFile reads and validates a chain file.
func LoadChainFile(path string) (ChainConfig, error) {
	var chain ChainConfig
	if err := decodeFile(path, &chain); err != nil {
		return ChainConfig{}, err
	}
	if err := chain.Validate(path); err != nil {
		return ChainConfig{}, err
	}
	return chain, nil
}

// SaveChainToFile writes chain as JSON or YAML depending on the extension.
func SaveChainToFile(path string, chain ChainConfig) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(chain, "", "  ")
	} else {
		data, err = yaml.Marshal(chain)
	}
	if err != nil {
		return errors.Wrap(err, "failed to marshal chain")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
