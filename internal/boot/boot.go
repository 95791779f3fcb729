// Package boot orchestrates the engine's service lifecycle.
//
// Services register under a role name, optionally tagged as a default
// implementation or as an override of another registration. Resolution
// happens when Boot runs: defaults and untagged registrations install
// first, then overrides are applied. A resolved manager drives every
// service through prepare, boot and completion in installation order,
// and through shutdown on the way down.
package boot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/luaweave/internal/logging"
)

// Lifecycle errors.
var (
	// ErrServiceConflict is returned when resolution finds two
	// registrations competing for a role neither may claim.
	ErrServiceConflict = errors.New("conflicting service registrations")

	// ErrAlreadyBooted is returned when registering or booting after
	// the manager left the unbooted state.
	ErrAlreadyBooted = errors.New("manager already booted")

	// ErrShutdown is returned when booting a manager that has shut down.
	ErrShutdown = errors.New("manager has shut down")
)

// Service is one managed engine component.
//
// Prepare runs before any service boots, Boot starts the service, and
// OnComplete runs after every service booted. Shutdown releases
// resources. All four are called at most once, in manager order.
type Service interface {
	Prepare() error
	Boot() error
	OnComplete() error
	Shutdown() error
}

// State tracks the manager's lifecycle position.
type State int

const (
	StateUnbooted State = iota
	StatePrepared
	StateStarted
	StateComplete
	StateShutdown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnbooted:
		return "unbooted"
	case StatePrepared:
		return "prepared"
	case StateStarted:
		return "started"
	case StateComplete:
		return "complete"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

type serviceTag int

const (
	tagNone serviceTag = iota
	tagDefault
	tagOverride
)

type registration struct {
	role string
	svc  Service
	tag  serviceTag
}

// Manager owns service registration, resolution and lifecycle phases.
// It is an explicit object; callers hold exactly one per engine.
type Manager struct {
	log *logging.Logger

	mu    sync.Mutex
	regs  []registration
	state State

	// Populated by resolution at Boot.
	resolved  map[string]Service
	isDefault map[string]bool
	order     []string
}

// NewManager creates an unbooted manager.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Null
	}
	return &Manager{
		log: log.WithComponent("boot"),
	}
}

// Register records an untagged service for a role. A second untagged
// registration for the same role is a conflict, surfaced at Boot.
func (m *Manager) Register(role string, svc Service) error {
	return m.record(registration{role: role, svc: svc, tag: tagNone})
}

// RegisterDefault records a default implementation for a role. The first
// default wins; later ones are ignored at resolution.
func (m *Manager) RegisterDefault(role string, svc Service) error {
	return m.record(registration{role: role, svc: svc, tag: tagDefault})
}

// RegisterOverride records an override for a role. At resolution an
// override replaces a default, conflicts with a non-default, and
// installs directly when the role is vacant.
func (m *Manager) RegisterOverride(role string, svc Service) error {
	return m.record(registration{role: role, svc: svc, tag: tagOverride})
}

func (m *Manager) record(reg registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateUnbooted {
		return fmt.Errorf("register %s: %w", reg.role, ErrAlreadyBooted)
	}
	m.regs = append(m.regs, reg)
	return nil
}

// Find returns the resolved service for a role. Before Boot nothing is
// resolved, so every role is absent.
func (m *Manager) Find(role string) (Service, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.resolved[role]
	return svc, ok
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Boot resolves the registrations and drives every service through
// prepare, boot and completion.
//
// Resolution conflicts are fatal and abort before any phase runs.
// Phase errors and panics are logged per service and never abort the
// boot of the remaining services.
func (m *Manager) Boot() error {
	m.mu.Lock()
	if m.state == StateShutdown {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.state != StateUnbooted {
		m.mu.Unlock()
		return ErrAlreadyBooted
	}

	if err := m.resolve(); err != nil {
		m.mu.Unlock()
		return err
	}

	order := append([]string(nil), m.order...)
	resolved := m.resolved
	m.mu.Unlock()

	m.runPhase("prepare", order, resolved, Service.Prepare)
	m.setState(StatePrepared)

	m.runPhase("boot", order, resolved, Service.Boot)
	m.setState(StateStarted)

	m.runPhase("complete", order, resolved, Service.OnComplete)
	m.setState(StateComplete)

	return nil
}

// Shutdown stops every resolved service in installation order. The
// manager ends in its terminal state regardless of per-service errors.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.state == StateShutdown {
		m.mu.Unlock()
		return nil
	}
	order := append([]string(nil), m.order...)
	resolved := m.resolved
	m.state = StateShutdown
	m.mu.Unlock()

	m.runPhase("shutdown", order, resolved, Service.Shutdown)
	return nil
}

// resolve installs registrations into roles. Caller holds m.mu.
//
// Pass 1 installs defaults (first wins) and untagged registrations
// (duplicates conflict). Pass 2 applies overrides: a default is
// replaced, a non-default conflicts, a vacant role is claimed.
// Registration order between a default and its override never matters:
// the override ends up holding the role either way.
func (m *Manager) resolve() error {
	m.resolved = make(map[string]Service)
	m.isDefault = make(map[string]bool)
	m.order = nil

	for _, reg := range m.regs {
		switch reg.tag {
		case tagDefault:
			if _, ok := m.resolved[reg.role]; ok {
				m.log.Debug("role %s already filled, ignoring default", reg.role)
				continue
			}
			m.install(reg.role, reg.svc, true)
		case tagNone:
			if _, ok := m.resolved[reg.role]; ok {
				return fmt.Errorf("role %s: duplicate registration: %w", reg.role, ErrServiceConflict)
			}
			m.install(reg.role, reg.svc, false)
		}
	}

	for _, reg := range m.regs {
		if reg.tag != tagOverride {
			continue
		}
		if _, ok := m.resolved[reg.role]; !ok {
			m.install(reg.role, reg.svc, false)
			continue
		}
		if !m.isDefault[reg.role] {
			return fmt.Errorf("role %s: override of a non-default service: %w", reg.role, ErrServiceConflict)
		}
		m.log.Debug("role %s: default replaced by override", reg.role)
		m.resolved[reg.role] = reg.svc
		m.isDefault[reg.role] = false
	}

	return nil
}

func (m *Manager) install(role string, svc Service, isDefault bool) {
	m.resolved[role] = svc
	m.isDefault[role] = isDefault
	m.order = append(m.order, role)
}

// runPhase calls one lifecycle method on every service in order,
// isolating failures.
func (m *Manager) runPhase(phase string, order []string, resolved map[string]Service, call func(Service) error) {
	for _, role := range order {
		svc := resolved[role]
		if err := m.safeCall(svc, call); err != nil {
			m.log.Error("service %s failed during %s: %v", role, phase, err)
			continue
		}
		m.log.Debug("service %s completed %s", role, phase)
	}
}

// safeCall shields a lifecycle phase from a panicking service.
func (m *Manager) safeCall(svc Service, call func(Service) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return call(svc)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
