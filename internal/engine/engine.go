// Package engine ties matching, rewriting, injection and lifecycle into
// the facade an embedding host talks to.
//
// A host owns its Lua domains and the loading of code units into them.
// The engine attaches at the host's admission points: Match tells the
// host whether a unit is worth describing, OnUnitLoad rewrites a loaded
// class before the host installs it, and Install stages the privileged
// delegates before any of that starts.
package engine

import (
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luaweave/internal/boost"
	"github.com/dshills/luaweave/internal/boot"
	"github.com/dshills/luaweave/internal/config"
	"github.com/dshills/luaweave/internal/domain"
	"github.com/dshills/luaweave/internal/enhance"
	"github.com/dshills/luaweave/internal/logging"
	"github.com/dshills/luaweave/internal/plugin"
	"github.com/dshills/luaweave/internal/unit"
)

// ErrNotInstalled is returned when the engine is used before Install.
var ErrNotInstalled = errors.New("engine not installed")

// Host is the embedding runtime the engine attaches to. It owns the
// privileged domain the delegates are injected into.
type Host interface {
	PrivilegedDomain() *domain.Domain
}

// Engine is the instrumentation facade.
type Engine struct {
	cfg     config.Config
	cfgPath string
	log     *logging.Logger

	registry *plugin.Registry
	finder   *plugin.Finder
	applier  *enhance.Applier
	injector *boost.Injector
	manager  *boot.Manager

	match func(desc *unit.Descriptor) bool

	mu        sync.Mutex
	installed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Reload applies level changes to
// this logger.
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithConfig sets the engine configuration directly.
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithConfigFile loads configuration from path and enables the reload
// service watching it. A missing file falls back to defaults.
func WithConfigFile(path string) Option {
	return func(e *Engine) { e.cfgPath = path }
}

// New builds an engine over the registered interceptors and plugin
// definitions. Definitions disabled by configuration are dropped here
// and never participate in matching.
func New(registry *plugin.Registry, defs []*plugin.Definition, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      config.Default(),
		log:      logging.Null,
		registry: registry,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cfgPath != "" {
		cfg, err := config.Load(e.cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", e.cfgPath, err)
		}
		e.cfg = cfg
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if e.log != logging.Null {
		e.log.SetLevel(logging.ParseLevel(e.cfg.Logging.Level))
	}

	enabled := make([]*plugin.Definition, 0, len(defs))
	for _, def := range defs {
		if e.cfg.PluginDisabled(def.Name) {
			e.log.Info("plugin %s disabled by configuration", def.Name)
			continue
		}
		enabled = append(enabled, def)
	}

	e.finder = plugin.NewFinder(enabled)
	e.match = e.finder.BuildMatch()
	e.applier = enhance.NewApplier(enhance.NewLoader(registry), e.log)
	e.manager = boot.NewManager(e.log)

	if e.cfgPath != "" {
		svc := NewConfigReloadService(e.cfgPath, e.log)
		if err := e.manager.RegisterDefault("config-reload", svc); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// NewDomain creates an isolation domain carrying the configured
// execution limits.
func (e *Engine) NewDomain(name string) *domain.Domain {
	return domain.New(
		domain.WithName(name),
		domain.WithInstructionLimit(e.cfg.Domains.InstructionLimit),
		domain.WithCallTimeout(e.cfg.Domains.CallTimeout),
	)
}

// NewPrivilegedDomain creates the sandboxed privileged domain a host
// hands back through Install.
func (e *Engine) NewPrivilegedDomain() *domain.Domain {
	return domain.New(
		domain.WithName("privileged"),
		domain.WithPrivileged(),
		domain.WithInstructionLimit(e.cfg.Domains.InstructionLimit),
		domain.WithCallTimeout(e.cfg.Domains.CallTimeout),
	)
}

// Install attaches the engine to the host: delegates for every
// privileged definition are compiled and injected into the host's
// privileged domain before any rewriting may run.
func (e *Engine) Install(host Host) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.installed {
		return nil
	}

	priv := host.PrivilegedDomain()
	if priv == nil {
		// Host without a privileged domain: nothing to inject,
		// privileged definitions can never match there.
		e.installed = true
		return nil
	}
	dispatcher := boost.NewDispatcher(e.registry, priv, e.log)
	e.injector = boost.NewInjector(dispatcher, e.log)

	if err := e.injector.Prepare(e.finder.PrivilegedDefinitions()); err != nil {
		return fmt.Errorf("prepare privileged delegates: %w", err)
	}
	if err := e.injector.Inject(priv); err != nil {
		return fmt.Errorf("inject privileged delegates: %w", err)
	}

	e.installed = true
	e.log.Info("engine installed, %d privileged plugin(s) staged", len(e.finder.PrivilegedDefinitions()))
	return nil
}

// Match reports whether any active plugin targets the described unit.
// Hosts use it to skip describing units nothing cares about.
func (e *Engine) Match(desc *unit.Descriptor) bool {
	return e.match(desc)
}

// OnUnitLoad rewrites a freshly loaded class according to every
// matching plugin. Per-plugin failures are isolated: the remaining
// plugins still apply and the class stays installable. The returned
// table is always usable, accompanied by the joined failures if any.
//
// The rewrite context lives for this one admission only. A host that
// re-admits a reloaded unit gets a fresh context, so the replacement
// class is extended from scratch.
func (e *Engine) OnUnitLoad(desc *unit.Descriptor, class *lua.LTable, dom *domain.Domain) (*lua.LTable, error) {
	e.mu.Lock()
	if !e.installed {
		e.mu.Unlock()
		return class, ErrNotInstalled
	}
	e.mu.Unlock()
	ctx := enhance.NewContext()

	defs := e.finder.Find(desc)
	if len(defs) == 0 {
		return class, nil
	}

	var failures []error
	for _, def := range defs {
		if err := e.applier.Enhance(def, desc, class, dom, ctx); err != nil {
			e.log.Error("plugin %s failed on unit %s: %v", def.Name, desc.Name, err)
			failures = append(failures, fmt.Errorf("plugin %s: %w", def.Name, err))
		}
	}
	return class, errors.Join(failures...)
}

// Manager exposes the lifecycle manager so hosts can register their own
// services before Boot.
func (e *Engine) Manager() *boot.Manager {
	return e.manager
}

// Boot drives every registered service through its startup phases.
func (e *Engine) Boot() error {
	return e.manager.Boot()
}

// Shutdown stops the services. The engine's domains belong to the host
// and are not closed here.
func (e *Engine) Shutdown() error {
	return e.manager.Shutdown()
}
