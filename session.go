package open_manipulator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	rdkutils "go.viam.com/rdk/utils"

	"open_manipulator/sim"
)

// Session is one running manipulator: the tree, a simulated actuator wired to it, and the
// control loop steering the actuator toward Target. Components naming the same session share it.
type Session struct {
	Manipulator *Manipulator
	Actuator    *sim.Actuator
	Registry    *Registry
	Loop        *ControlLoop
	Target      *JointTarget

	logger logging.Logger
}

// NewSession builds the chain described by cfg and starts its actuator clock and control loop.
func NewSession(cfg *Config, logger logging.Logger) (*Session, error) {
	if logger == nil {
		logger = logging.NewLogger("session")
	}
	if err := cfg.Validate("session"); err != nil {
		return nil, err
	}
	chain, err := cfg.LoadChain()
	if err != nil {
		return nil, err
	}
	m, err := BuildManipulator(chain, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build manipulator")
	}

	names := m.ActiveJointNames()
	ids := make([]int, len(names))
	for i, name := range names {
		if ids[i], err = m.ComponentJointID(name); err != nil {
			return nil, err
		}
	}
	act, err := sim.NewActuator(ids, rdkutils.DegToRad(cfg.SpeedDegsPerSec), logger.Sublogger("actuator"))
	if err != nil {
		return nil, err
	}
	m.ConnectActuator(act)

	target := NewJointTarget(m)
	registry := NewRegistry()
	registry.ConnectInverse(target)

	s := &Session{
		Manipulator: m,
		Actuator:    act,
		Registry:    registry,
		Loop:        NewControlLoop(m, registry, cfg.LoopConfig(), logger.Sublogger("control")),
		Target:      target,
		logger:      logger,
	}
	act.StartClock()
	s.Loop.Start()
	return s, nil
}

// MoveTo commands the actuated joints, ordered by actuator id.
func (s *Session) MoveTo(angles []float64) error {
	return s.Target.Set(angles)
}

// Halt retargets every joint to where it is now.
func (s *Session) Halt() error {
	current, err := s.Actuator.Angles()
	if err != nil {
		return err
	}
	if err := s.Target.Set(current); err != nil {
		return err
	}
	return s.Manipulator.SetAllJointAngle(current)
}

// Close stops the control loop, then the actuator clock.
func (s *Session) Close() {
	s.Loop.Stop()
	s.Actuator.Close()
	stats := s.Loop.Stats()
	s.logger.Debugf("session closed after %d ticks (%d applied, %d preempted, %d errors)",
		stats.Ticks, stats.Applied, stats.Preempted, stats.Errors)
}

type sessionEntry struct {
	session  *Session
	config   *Config
	refCount int64
	mu       sync.RWMutex
}

// SessionRegistry hands out reference-counted sessions by key.
type SessionRegistry struct {
	entries map[string]*sessionEntry
	mu      sync.RWMutex

	newSession func(*Config, logging.Logger) (*Session, error)
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		entries:    make(map[string]*sessionEntry),
		newSession: NewSession,
	}
}

var globalSessions = NewSessionRegistry()

// configsEqual reports whether two configs describe the same session.
func configsEqual(a, b *Config) bool {
	return cmp.Equal(a, b, cmpopts.IgnoreFields(Config{}, "Logger"))
}

var errSessionClosed = errors.New("session is closed")

// Acquire returns the session for key, creating it from cfg on first use. Later callers must
// pass an equal config.
func (r *SessionRegistry) Acquire(key string, cfg *Config, logger logging.Logger) (*Session, error) {
	if logger == nil {
		logger = logging.NewLogger("session")
	}
	r.mu.RLock()
	entry, exists := r.entries[key]
	r.mu.RUnlock()

	if exists {
		return r.acquireExisting(key, entry, cfg, logger)
	}
	return r.create(key, cfg, logger)
}

// acquireExisting joins entry, or starts a new session when entry was released after the
// lookup.
func (r *SessionRegistry) acquireExisting(key string, entry *sessionEntry, cfg *Config, logger logging.Logger) (*Session, error) {
	session, err := entry.acquire(key, cfg)
	if errors.Is(err, errSessionClosed) {
		return r.create(key, cfg, logger)
	}
	return session, err
}

func (e *sessionEntry) acquire(key string, cfg *Config) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, errSessionClosed
	}
	if !configsEqual(e.config, cfg) {
		return nil, fmt.Errorf("conflict: session %q already runs a different config (refCount: %d)",
			key, atomic.LoadInt64(&e.refCount))
	}
	atomic.AddInt64(&e.refCount, 1)
	return e.session, nil
}

func (r *SessionRegistry) create(key string, cfg *Config, logger logging.Logger) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// entries in the map are live while r.mu is held
	if entry, exists := r.entries[key]; exists {
		return entry.acquire(key, cfg)
	}

	// failures are not cached, the next Acquire retries
	session, err := r.newSession(cfg, logger)
	if err != nil {
		return nil, err
	}
	r.entries[key] = &sessionEntry{session: session, config: cfg, refCount: 1}
	logger.Infof("started session %q with %d DOF", key, session.Manipulator.DOF())
	return session, nil
}

// Join takes another reference on a running session without configuring it.
func (r *SessionRegistry) Join(key string) (*Session, error) {
	r.mu.RLock()
	entry, exists := r.entries[key]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session %q", key)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.session == nil {
		return nil, errors.Wrapf(errSessionClosed, "session %q", key)
	}
	atomic.AddInt64(&entry.refCount, 1)
	return entry.session, nil
}

// Release drops one reference and closes the session with the last one.
func (r *SessionRegistry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[key]
	if !exists {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if atomic.AddInt64(&entry.refCount, -1) > 0 {
		return
	}
	entry.session.Close()
	entry.session = nil
	delete(r.entries, key)
}

// Status returns the reference count of key and whether it has a live session.
func (r *SessionRegistry) Status(key string) (int64, bool) {
	r.mu.RLock()
	entry, exists := r.entries[key]
	r.mu.RUnlock()
	if !exists {
		return 0, false
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return atomic.LoadInt64(&entry.refCount), entry.session != nil
}
