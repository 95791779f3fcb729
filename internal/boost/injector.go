package boost

import (
	"fmt"
	"sync"

	"github.com/dshills/luaweave/internal/domain"
	"github.com/dshills/luaweave/internal/enhance"
	"github.com/dshills/luaweave/internal/logging"
	"github.com/dshills/luaweave/internal/plugin"
)

// Injector prepares delegate chunks for privileged definitions and
// installs them into the privileged domain in one shot.
//
// Prepare compiles everything up front so a broken definition surfaces
// before any rewriting starts. Inject then runs the support chunks
// followed by every delegate chunk; it is performed once, later calls
// are no-ops.
type Injector struct {
	dispatcher *Dispatcher
	log        *logging.Logger

	mu        sync.Mutex
	support   []*domain.Chunk
	delegates []*domain.Chunk
	seen      map[string]string
	prepared  bool
	injected  bool
}

// NewInjector creates an injector dispatching through dispatcher.
func NewInjector(dispatcher *Dispatcher, log *logging.Logger) *Injector {
	if log == nil {
		log = logging.Null
	}
	return &Injector{
		dispatcher: dispatcher,
		log:        log.WithComponent("boost"),
		seen:       make(map[string]string),
	}
}

// Prepare compiles delegate chunks for every interception point of the
// given privileged definitions, plus the fixed support chunks. A
// template or compilation failure is fatal for the definition that
// needs it and aborts preparation.
func (inj *Injector) Prepare(defs []*plugin.Definition) error {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	if !inj.prepared {
		for _, name := range []string{supportResult, supportAssist} {
			chunk, err := loadSupport(name)
			if err != nil {
				return err
			}
			inj.support = append(inj.support, chunk)
		}
		inj.prepared = true
	}

	for _, def := range defs {
		if err := inj.prepareDefinition(def); err != nil {
			return fmt.Errorf("privileged plugin %s: %w", def.Name, err)
		}
	}
	return nil
}

func (inj *Injector) prepareDefinition(def *plugin.Definition) error {
	for i := range def.ConstructorPoints {
		if err := inj.stage(tmplConstructor, def.ConstructorPoints[i].Interceptor); err != nil {
			return err
		}
	}
	for i := range def.InstanceMethodPoints {
		pt := &def.InstanceMethodPoints[i]
		template := tmplInstanceMethod
		if pt.OverrideArgs {
			template = tmplInstanceMethodOverrideArgs
		}
		if err := inj.stage(template, pt.Interceptor); err != nil {
			return err
		}
	}
	for i := range def.StaticMethodPoints {
		pt := &def.StaticMethodPoints[i]
		template := tmplStaticMethod
		if pt.OverrideArgs {
			template = tmplStaticMethodOverrideArgs
		}
		if err := inj.stage(template, pt.Interceptor); err != nil {
			return err
		}
	}
	return nil
}

// stage renders and queues one delegate chunk, deduplicating by
// interceptor name. The first point naming an interceptor decides its
// delegate shape.
func (inj *Injector) stage(template, interceptor string) error {
	if interceptor == "" {
		return enhance.ErrNoInterceptor
	}

	if prev, ok := inj.seen[interceptor]; ok {
		if prev != template {
			inj.log.Debug("delegate for %q already staged as %s, ignoring %s point", interceptor, prev, template)
		}
		return nil
	}

	chunk, err := renderDelegate(template, interceptor)
	if err != nil {
		return err
	}
	inj.seen[interceptor] = template
	inj.delegates = append(inj.delegates, chunk)
	return nil
}

// Inject binds the dispatch bridge and runs the staged chunks in the
// privileged domain. Support chunks run first. Inject runs at most
// once; repeat calls return nil without touching the domain.
func (inj *Injector) Inject(priv *domain.Domain) error {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	if inj.injected {
		return nil
	}
	if !inj.prepared {
		return fmt.Errorf("inject before prepare: %w", ErrTemplateUnavailable)
	}

	inj.dispatcher.Bind(priv)

	for _, chunk := range inj.support {
		if _, err := priv.RunChunk(chunk); err != nil {
			return fmt.Errorf("inject support chunk %s: %w", chunk.Name, err)
		}
	}
	for _, chunk := range inj.delegates {
		if _, err := priv.RunChunk(chunk); err != nil {
			return fmt.Errorf("inject delegate %s: %w", chunk.Name, err)
		}
		inj.log.Debug("injected delegate %s", chunk.Name)
	}

	inj.injected = true
	return nil
}

// Injected reports whether injection has completed.
func (inj *Injector) Injected() bool {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return inj.injected
}
