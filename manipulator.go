// Package open_manipulator models a serial manipulator as a kinematic tree: a world frame and
// named components (links with an optional joint, tools) linked parent to child. It derives
// to-world poses, velocities and accelerations from the relative geometry and joint state,
// and runs a control loop that keeps an actuator driver in step with the model.
package open_manipulator

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"open_manipulator/ommath"
)

// Manipulator is the kinematic tree. All methods are safe for concurrent use.
type Manipulator struct {
	logger logging.Logger

	mu         sync.RWMutex
	world      *World
	components map[Name]*Component
	order      []Name
	dof        int
	closed     bool

	// bumped by every foreground joint write; the control loop compares it across a tick
	jointWrites atomic.Uint64

	actuator *SharedActuator
}

// NewManipulator returns an empty tree. A nil logger is replaced by a default one.
func NewManipulator(logger logging.Logger) *Manipulator {
	if logger == nil {
		logger = logging.NewLogger("open-manipulator")
	}
	return &Manipulator{
		logger:     logger,
		components: make(map[Name]*Component),
		actuator:   &SharedActuator{},
	}
}

// WorldOption configures AddWorld.
type WorldOption func(*World)

// WithWorldPose places the world frame.
func WithWorldPose(p Pose) WorldOption {
	return func(w *World) { w.State.Pose = p }
}

// AddWorld creates the root frame and names the base link that will hang off it.
func (m *Manipulator) AddWorld(name, child Name, opts ...WorldOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrTreeClosed
	}
	if m.world != nil {
		return errors.Wrapf(ErrWorldExists, "cannot add %q", name)
	}
	if name == "" || child == "" {
		return invalid("world and child names must not be empty")
	}
	if name == child {
		return errors.Wrapf(ErrDuplicateName, "world child %q", child)
	}
	if _, ok := m.components[name]; ok {
		return errors.Wrapf(ErrDuplicateName, "%q", name)
	}

	w := &World{Name: name, Child: child, State: defaultState()}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.State.Validate(); err != nil {
		return errors.Wrapf(err, "world %q", name)
	}
	pose, err := w.State.Pose.normalized()
	if err != nil {
		return errors.Wrapf(err, "world %q", name)
	}
	w.State.Pose = pose
	m.world = w
	m.logger.Debugf("added world %q with base %q", name, child)
	return nil
}

type componentSpec struct {
	relative  Pose
	joint     *Joint
	tool      *Tool
	inertia   Inertia
	children  []Name
	jointSet  bool
	toolIDSet bool
}

// ComponentOption configures AddComponent and AddTool.
type ComponentOption func(*componentSpec)

// WithRelativePose sets the pose relative to the parent.
func WithRelativePose(position ommath.Vector3, orientation ommath.Matrix3) ComponentOption {
	return func(s *componentSpec) { s.relative = NewPose(position, orientation) }
}

// WithJoint gives the component a revolute joint. id is the actuator id, NoID for a passive joint.
func WithJoint(id int, axis ommath.Vector3) ComponentOption {
	return func(s *componentSpec) {
		s.joint = &Joint{ID: id, Axis: axis}
		s.jointSet = true
	}
}

// WithInertia sets the mass properties.
func WithInertia(mass float64, tensor ommath.Matrix3, centerOfMass ommath.Vector3) ComponentOption {
	return func(s *componentSpec) {
		s.inertia = Inertia{Mass: mass, Tensor: tensor, CenterOfMass: centerOfMass}
	}
}

// WithChildren pre-declares children that will be added later.
func WithChildren(children ...Name) ComponentOption {
	return func(s *componentSpec) { s.children = append(s.children, children...) }
}

// WithToolID sets the tool channel id. Only valid for AddTool.
func WithToolID(id int) ComponentOption {
	return func(s *componentSpec) {
		s.tool = &Tool{ID: id}
		s.toolIDSet = true
	}
}

// AddComponent adds a link under parent. The link is appended to the parent's child list; on
// any error nothing is inserted.
func (m *Manipulator) AddComponent(name, parent Name, opts ...ComponentOption) error {
	spec := componentSpec{relative: IdentityPose(), joint: &Joint{ID: NoID}}
	for _, opt := range opts {
		opt(&spec)
	}
	if spec.toolIDSet {
		return invalid("component %q: tool id given to a link, use AddTool", name)
	}
	spec.tool = nil
	return m.insert(name, parent, spec)
}

// AddTool adds an end effector under parent. Tools carry no joint.
func (m *Manipulator) AddTool(name, parent Name, opts ...ComponentOption) error {
	spec := componentSpec{relative: IdentityPose(), tool: &Tool{ID: NoID}}
	for _, opt := range opts {
		opt(&spec)
	}
	if spec.jointSet {
		return invalid("tool %q cannot carry a joint", name)
	}
	spec.joint = nil
	return m.insert(name, parent, spec)
}

func (m *Manipulator) insert(name, parent Name, spec componentSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrTreeClosed
	}
	if m.world == nil {
		return errors.Wrapf(ErrWorldNotSet, "cannot add %q", name)
	}
	if name == "" {
		return invalid("component name must not be empty")
	}
	if m.exists(name) {
		return errors.Wrapf(ErrDuplicateName, "%q", name)
	}
	if parent != m.world.Name && m.components[parent] == nil {
		return errors.Wrapf(ErrUnknownParent, "%q for %q", parent, name)
	}
	if parent == m.world.Name && m.world.Child != name {
		return errors.Wrapf(ErrBrokenChain, "world child is %q, not %q", m.world.Child, name)
	}

	relative, err := spec.relative.normalized()
	if err != nil {
		return errors.Wrapf(err, "component %q", name)
	}
	if err := spec.inertia.Validate(); err != nil {
		return errors.Wrapf(err, "component %q", name)
	}
	if spec.joint != nil {
		if err := spec.joint.validate(); err != nil {
			return errors.Wrapf(err, "component %q", name)
		}
		if spec.joint.Actuated() {
			if other, ok := m.actuatorOwner(spec.joint.ID); ok {
				return errors.Wrapf(ErrDuplicateActuatorID, "id %d on %q and %q", spec.joint.ID, other, name)
			}
		}
	}
	if spec.tool != nil && spec.tool.ID < NoID {
		return invalid("tool %q id %d", name, spec.tool.ID)
	}
	children, err := dedupe(name, spec.children)
	if err != nil {
		return err
	}

	c := &Component{
		Name:     name,
		Parent:   parent,
		Children: children,
		Relative: State{Pose: relative},
		Joint:    spec.joint,
		Tool:     spec.tool,
		Inertia:  spec.inertia,
	}
	m.components[name] = c
	m.order = append(m.order, name)
	if p := m.components[parent]; p != nil && !containsName(p.Children, name) {
		p.Children = append(p.Children, name)
	}
	if c.Joint != nil && c.Joint.Actuated() {
		m.dof++
	}
	m.logger.Debugf("added %q under %q", name, parent)
	return nil
}

// AddComponentChild appends child to name's child list; adding an existing child is a no-op.
// The child need not exist yet, CheckManipulatorSetting verifies it later.
func (m *Manipulator) AddComponentChild(name, child Name) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrTreeClosed
	}
	c, ok := m.components[name]
	if !ok {
		return notFound(name)
	}
	if child == "" || child == name {
		return invalid("child %q of %q", child, name)
	}
	// AddComponent already wired it
	if containsName(c.Children, child) {
		return nil
	}
	c.Children = append(c.Children, child)
	return nil
}

// CheckManipulatorSetting walks the tree from the world and reports every dangling reference,
// parent mismatch, cycle and orphan. On success the tree is closed to structural changes.
func (m *Manipulator) CheckManipulatorSetting() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.world == nil {
		return ErrWorldNotSet
	}

	var errs error
	base, ok := m.components[m.world.Child]
	switch {
	case !ok:
		errs = multierr.Append(errs, errors.Wrapf(ErrBrokenChain, "world child %q does not exist", m.world.Child))
	case base.Parent != m.world.Name:
		errs = multierr.Append(errs, errors.Wrapf(ErrBrokenChain, "world child %q has parent %q", base.Name, base.Parent))
	}

	visited := make(map[Name]bool, len(m.components))
	if ok {
		stack := []Name{base.Name}
		visited[base.Name] = true
		for len(stack) > 0 {
			name := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, child := range m.components[name].Children {
				c, ok := m.components[child]
				switch {
				case !ok:
					errs = multierr.Append(errs, errors.Wrapf(ErrBrokenChain, "%q lists missing child %q", name, child))
				case c.Parent != name:
					errs = multierr.Append(errs, errors.Wrapf(ErrBrokenChain, "%q lists child %q whose parent is %q", name, child, c.Parent))
				case visited[child]:
					errs = multierr.Append(errs, errors.Wrapf(ErrBrokenChain, "%q reached twice", child))
				default:
					visited[child] = true
					stack = append(stack, child)
				}
			}
		}
	}
	for _, name := range m.order {
		if !visited[name] {
			errs = multierr.Append(errs, errors.Wrapf(ErrBrokenChain, "%q is not reachable from %q", name, m.world.Name))
		}
	}
	if errs != nil {
		return errs
	}

	m.closed = true
	m.logger.Infof("manipulator %q ready: %d components, %d DOF", m.world.Name, len(m.components), m.dof)
	return nil
}

// IsClosed reports whether CheckManipulatorSetting has succeeded.
func (m *Manipulator) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manipulator) exists(name Name) bool {
	if m.world != nil && m.world.Name == name {
		return true
	}
	_, ok := m.components[name]
	return ok
}

func (m *Manipulator) actuatorOwner(id int) (Name, bool) {
	for name, c := range m.components {
		if c.Joint != nil && c.Joint.ID == id {
			return name, true
		}
	}
	return "", false
}

// activeJoints returns the actuated components ordered by actuator id. Caller holds mu.
func (m *Manipulator) activeJoints() []*Component {
	out := make([]*Component, 0, m.dof)
	for _, name := range m.order {
		c := m.components[name]
		if c.Joint != nil && c.Joint.Actuated() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Joint.ID < out[j].Joint.ID })
	return out
}

func containsName(names []Name, name Name) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func dedupe(owner Name, names []Name) ([]Name, error) {
	out := make([]Name, 0, len(names))
	for _, n := range names {
		if n == "" || n == owner {
			return nil, invalid("child %q of %q", n, owner)
		}
		if containsName(out, n) {
			return nil, errors.Wrapf(ErrDuplicateName, "child %q listed twice on %q", n, owner)
		}
		out = append(out, n)
	}
	return out, nil
}
