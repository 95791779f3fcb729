package boost

import (
	"errors"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luaweave/internal/domain"
	"github.com/dshills/luaweave/internal/enhance"
	"github.com/dshills/luaweave/internal/logging"
	"github.com/dshills/luaweave/internal/plugin"
)

// Hook names carried over the dispatch bridge.
const (
	hookBefore      = "before"
	hookAfter       = "after"
	hookOnException = "on_exception"
	hookOnConstruct = "on_construct"
)

// dispatchGlobal is the bridge function the assist chunk routes through.
const dispatchGlobal = "__weave_dispatch"

// Dispatcher receives delegate hook calls from the privileged domain and
// forwards them to real Go interceptors.
//
// Interceptor instances are per-name singletons built from the registry's
// factories against the privileged domain's resolution context. Delegate
// dispatch never goes through the per-domain interceptor cache; delegates
// exist precisely because the privileged domain cannot use it.
type Dispatcher struct {
	registry *plugin.Registry
	ext      *domain.Extended
	log      *logging.Logger

	mu        sync.Mutex
	instances map[string]any
}

// NewDispatcher creates a dispatcher resolving interceptors against the
// privileged domain priv.
func NewDispatcher(registry *plugin.Registry, priv *domain.Domain, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Null
	}
	return &Dispatcher{
		registry:  registry,
		ext:       domain.NewExtended(priv),
		log:       log.WithComponent("boost"),
		instances: make(map[string]any),
	}
}

// Bind installs the dispatch bridge into the privileged domain.
func (d *Dispatcher) Bind(priv *domain.Domain) {
	priv.SetGlobal(dispatchGlobal, priv.LuaState().NewFunction(d.dispatch))
}

// resolve returns the singleton interceptor instance for name.
func (d *Dispatcher) resolve(name string) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if inst, ok := d.instances[name]; ok {
		return inst, nil
	}

	factory, err := d.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	inst, err := factory(d.ext)
	if err != nil {
		return nil, err
	}
	d.instances[name] = inst
	return inst, nil
}

// dispatch handles one hook call from a delegate. Hook failures are
// logged and absorbed so a broken interceptor cannot take down the
// intercepted call.
func (d *Dispatcher) dispatch(L *lua.LState) int {
	name := L.CheckString(1)
	hook := L.CheckString(2)

	inst, err := d.resolve(name)
	if err != nil {
		d.log.Error("dispatch %s for %q: %v", hook, name, err)
		return 0
	}

	var target *lua.LTable
	if t, ok := L.Get(3).(*lua.LTable); ok {
		target = t
	}

	switch hook {
	case hookBefore:
		return d.dispatchBefore(L, inst, name, target)
	case hookAfter:
		return d.dispatchAfter(L, inst, name, target)
	case hookOnException:
		d.dispatchOnException(L, inst, name, target)
		return 0
	case hookOnConstruct:
		d.dispatchOnConstruct(L, inst, name, target)
		return 0
	default:
		d.log.Error("dispatch for %q: unknown hook %q", name, hook)
		return 0
	}
}

func (d *Dispatcher) dispatchBefore(L *lua.LState, inst any, name string, target *lua.LTable) int {
	mi, ok := inst.(enhance.MethodInterceptor)
	if !ok {
		d.log.Error("interceptor %q does not handle method hooks", name)
		return 0
	}
	method := L.CheckString(4)
	argsTbl := L.CheckTable(5)

	inv := &enhance.Invocation{
		Method: method,
		Target: target,
		Args:   tableValues(argsTbl),
		L:      L,
	}
	result := &enhance.Result{}
	if err := mi.Before(inv, result); err != nil {
		d.log.Error("interceptor %q before failed: %v", name, err)
		return 0
	}

	// Mirror argument mutations back into the delegate's table. For
	// override-args delegates that table is the live argument list.
	for i, v := range inv.Args {
		argsTbl.RawSetInt(i+1, v)
	}

	if result.Defined() {
		L.Push(lua.LTrue)
		L.Push(result.Value())
		return 2
	}
	L.Push(lua.LFalse)
	return 1
}

func (d *Dispatcher) dispatchAfter(L *lua.LState, inst any, name string, target *lua.LTable) int {
	mi, ok := inst.(enhance.MethodInterceptor)
	if !ok {
		d.log.Error("interceptor %q does not handle method hooks", name)
		return 0
	}
	method := L.CheckString(4)
	ret := L.Get(5)

	inv := &enhance.Invocation{
		Method: method,
		Target: target,
		L:      L,
	}
	newRet, err := mi.After(inv, ret)
	if err != nil {
		d.log.Error("interceptor %q after failed: %v", name, err)
		L.Push(lua.LFalse)
		return 1
	}
	if newRet == nil {
		newRet = lua.LNil
	}
	L.Push(lua.LTrue)
	L.Push(newRet)
	return 2
}

func (d *Dispatcher) dispatchOnException(L *lua.LState, inst any, name string, target *lua.LTable) {
	mi, ok := inst.(enhance.MethodInterceptor)
	if !ok {
		d.log.Error("interceptor %q does not handle method hooks", name)
		return
	}
	method := L.CheckString(4)
	message := L.OptString(5, "")

	inv := &enhance.Invocation{
		Method: method,
		Target: target,
		L:      L,
	}
	mi.OnException(inv, errors.New(message))
}

func (d *Dispatcher) dispatchOnConstruct(L *lua.LState, inst any, name string, target *lua.LTable) {
	ci, ok := inst.(enhance.ConstructorInterceptor)
	if !ok {
		d.log.Error("interceptor %q does not handle constructor hooks", name)
		return
	}
	if target == nil {
		d.log.Error("interceptor %q on_construct without an instance", name)
		return
	}
	argsTbl := L.CheckTable(5)

	if err := ci.OnConstruct(L, target, tableValues(argsTbl)); err != nil {
		d.log.Error("interceptor %q on_construct failed: %v", name, err)
	}
}

// tableValues flattens an array-style table into a slice.
func tableValues(tbl *lua.LTable) []lua.LValue {
	n := tbl.Len()
	out := make([]lua.LValue, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, tbl.RawGetInt(i))
	}
	return out
}
