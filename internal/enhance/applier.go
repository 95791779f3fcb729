package enhance

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luaweave/internal/domain"
	"github.com/dshills/luaweave/internal/logging"
	"github.com/dshills/luaweave/internal/plugin"
	"github.com/dshills/luaweave/internal/unit"
)

// Applier rewrites a code unit according to one plugin's interception
// points. It is invoked once per matching plugin, with the Context shared
// across all plugins applying to the same unit.
type Applier struct {
	loader *Loader
	log    *logging.Logger
}

// NewApplier creates an applier resolving interceptors through loader.
func NewApplier(loader *Loader, log *logging.Logger) *Applier {
	if log == nil {
		log = logging.Null
	}
	return &Applier{
		loader: loader,
		log:    log.WithComponent("enhance"),
	}
}

// Enhance weaves def's interception points into the unit's class table.
//
// All points are validated and their interceptors resolved before the
// first mutation, so a configuration error or an unavailable interceptor
// leaves the unit untouched by this plugin: enhancement is all-or-nothing
// per unit per plugin. Static method points are applied first; if the
// plugin declares neither constructor nor instance method points, instance
// state is left alone entirely.
func (a *Applier) Enhance(def *plugin.Definition, desc *unit.Descriptor, class *lua.LTable, dom *domain.Domain, ctx *Context) error {
	if class == nil {
		return ErrNilClass
	}

	var pending []func()

	staged, err := a.stageStatic(def, desc, class, dom)
	if err != nil {
		return err
	}
	pending = append(pending, staged...)

	if def.HasInstanceEnhancement() {
		if !ctx.IsObjectExtended() {
			pending = append(pending, func() {
				addDynamicFieldAccessors(dom.LuaState(), class)
				ctx.ExtendObjectCompleted()
			})
		}

		staged, err = a.stageConstructors(def, desc, class, dom)
		if err != nil {
			return err
		}
		pending = append(pending, staged...)

		staged, err = a.stageInstanceMethods(def, desc, class, dom)
		if err != nil {
			return err
		}
		pending = append(pending, staged...)
	}

	if len(pending) == 0 {
		return nil
	}
	for _, commit := range pending {
		commit()
	}
	ctx.EnhanceCompleted()
	return nil
}

// stageStatic validates static method points and returns their commits.
func (a *Applier) stageStatic(def *plugin.Definition, desc *unit.Descriptor, class *lua.LTable, dom *domain.Domain) ([]func(), error) {
	var pending []func()

	for i := range def.StaticMethodPoints {
		pt := &def.StaticMethodPoints[i]
		inter, err := a.methodInterceptor(pt.Interceptor, def, desc, dom)
		if err != nil {
			return nil, err
		}
		for _, m := range desc.StaticMethods() {
			if pt.Matcher == nil || !pt.Matcher.Matches(m) {
				continue
			}
			pending = append(pending, a.stageWrap(class, dom, desc.Name, m.Name, inter, pt.OverrideArgs, true))
		}
	}

	return pending, nil
}

// stageConstructors validates constructor points and returns their commits.
func (a *Applier) stageConstructors(def *plugin.Definition, desc *unit.Descriptor, class *lua.LTable, dom *domain.Domain) ([]func(), error) {
	var pending []func()

	for i := range def.ConstructorPoints {
		pt := &def.ConstructorPoints[i]
		inter, err := a.constructorInterceptor(pt.Interceptor, def, desc, dom)
		if err != nil {
			return nil, err
		}
		for _, m := range desc.Constructors() {
			if pt.Matcher == nil || !pt.Matcher.Matches(m) {
				continue
			}
			name := m.Name
			pending = append(pending, func() {
				original := methodValue(dom.LuaState(), class, name)
				if original == lua.LNil {
					a.log.Debug("unit %s: constructor %s not present, skipping wrap", desc.Name, name)
					return
				}
				class.RawSetString(name, a.constructorWrapper(dom, desc.Name, name, original, inter))
			})
		}
	}

	return pending, nil
}

// stageInstanceMethods validates instance method points and returns their
// commits.
func (a *Applier) stageInstanceMethods(def *plugin.Definition, desc *unit.Descriptor, class *lua.LTable, dom *domain.Domain) ([]func(), error) {
	var pending []func()

	for i := range def.InstanceMethodPoints {
		pt := &def.InstanceMethodPoints[i]
		inter, err := a.methodInterceptor(pt.Interceptor, def, desc, dom)
		if err != nil {
			return nil, err
		}
		for _, m := range desc.InstanceMethods() {
			if pt.Matcher == nil || !pt.Matcher.Matches(m) {
				continue
			}
			if pt.DeclaredOnly && !m.Declared {
				continue
			}
			pending = append(pending, a.stageWrap(class, dom, desc.Name, m.Name, inter, pt.OverrideArgs, false))
		}
	}

	return pending, nil
}

// stageWrap returns a commit that replaces the named method with a wrapper
// around its value at commit time. Fetching at commit time is what chains
// wrappers when several points (or plugins) hit the same method: the later
// wrap encloses the earlier one.
func (a *Applier) stageWrap(class *lua.LTable, dom *domain.Domain, unitName, methodName string, inter MethodInterceptor, overrideArgs, static bool) func() {
	return func() {
		original := methodValue(dom.LuaState(), class, methodName)
		if original == lua.LNil {
			a.log.Debug("unit %s: method %s not present, skipping wrap", unitName, methodName)
			return
		}
		class.RawSetString(methodName, a.methodWrapper(dom, unitName, methodName, original, inter, overrideArgs, static))
	}
}

// methodInterceptor resolves the interceptor for a method point.
func (a *Applier) methodInterceptor(name string, def *plugin.Definition, desc *unit.Descriptor, dom *domain.Domain) (MethodInterceptor, error) {
	if name == "" {
		return nil, fmt.Errorf("plugin %s enhancing unit %s: %w", def.Name, desc.Name, ErrNoInterceptor)
	}

	// Privileged targets resolve the injected delegate straight from the
	// privileged domain; they must never depend on plugin-domain
	// resolution.
	if def.Privileged || dom.Privileged() {
		return newDelegate(dom, name, a.log)
	}

	inst, err := a.loader.Resolve(name, dom)
	if err != nil {
		return nil, err
	}
	inter, ok := inst.(MethodInterceptor)
	if !ok {
		return nil, fmt.Errorf("interceptor %q: %w", name, ErrContractMismatch)
	}
	return inter, nil
}

// constructorInterceptor resolves the interceptor for a constructor point.
func (a *Applier) constructorInterceptor(name string, def *plugin.Definition, desc *unit.Descriptor, dom *domain.Domain) (ConstructorInterceptor, error) {
	if name == "" {
		return nil, fmt.Errorf("plugin %s enhancing unit %s: %w", def.Name, desc.Name, ErrNoInterceptor)
	}

	if def.Privileged || dom.Privileged() {
		return newDelegate(dom, name, a.log)
	}

	inst, err := a.loader.Resolve(name, dom)
	if err != nil {
		return nil, err
	}
	inter, ok := inst.(ConstructorInterceptor)
	if !ok {
		return nil, fmt.Errorf("interceptor %q: %w", name, ErrContractMismatch)
	}
	return inter, nil
}

// methodWrapper builds the wrapper closure for one method.
func (a *Applier) methodWrapper(dom *domain.Domain, unitName, methodName string, original lua.LValue, inter MethodInterceptor, overrideArgs, static bool) *lua.LFunction {
	return dom.LuaState().NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		all := make([]lua.LValue, n)
		for i := 1; i <= n; i++ {
			all[i-1] = L.Get(i)
		}

		var target *lua.LTable
		args := all
		if !static && n > 0 {
			if t, ok := all[0].(*lua.LTable); ok {
				target = t
				args = all[1:]
			}
		}

		// Without argument overriding the original body must see the
		// pristine arguments, so the interceptor works on a copy.
		invArgs := args
		if !overrideArgs {
			invArgs = append([]lua.LValue(nil), args...)
		}

		inv := &Invocation{
			UnitName: unitName,
			Method:   methodName,
			Target:   target,
			Args:     invArgs,
			L:        L,
		}

		result := &Result{}
		if err := inter.Before(inv, result); err != nil {
			a.log.Error("unit %s method %s: before hook failed: %v", unitName, methodName, err)
		}

		var rets []lua.LValue
		var callErr error
		if result.Defined() {
			rets = []lua.LValue{result.Value()}
		} else {
			callArgs := all
			if overrideArgs {
				callArgs = inv.Args
				if !static && target != nil {
					callArgs = append([]lua.LValue{target}, inv.Args...)
				}
			}
			rets, callErr = domain.Invoke(L, original, callArgs...)
		}

		if callErr != nil {
			inter.OnException(inv, callErr)
			if _, err := inter.After(inv, lua.LNil); err != nil {
				a.log.Error("unit %s method %s: after hook failed: %v", unitName, methodName, err)
			}
			L.RaiseError("%s", callErr.Error())
			return 0
		}

		ret := lua.LValue(lua.LNil)
		if len(rets) > 0 {
			ret = rets[0]
		}
		newRet, err := inter.After(inv, ret)
		if err != nil {
			a.log.Error("unit %s method %s: after hook failed: %v", unitName, methodName, err)
		} else {
			ret = newRet
			if ret == nil {
				ret = lua.LNil
			}
		}

		if len(rets) == 0 {
			L.Push(ret)
			return 1
		}
		rets[0] = ret
		for _, r := range rets {
			L.Push(r)
		}
		return len(rets)
	})
}

// constructorWrapper builds the wrapper closure for one constructor.
// The original body always runs first; interception only augments it.
func (a *Applier) constructorWrapper(dom *domain.Domain, unitName, ctorName string, original lua.LValue, inter ConstructorInterceptor) *lua.LFunction {
	return dom.LuaState().NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		all := make([]lua.LValue, n)
		for i := 1; i <= n; i++ {
			all[i-1] = L.Get(i)
		}

		rets, err := domain.Invoke(L, original, all...)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}

		if len(rets) > 0 {
			if instance, ok := rets[0].(*lua.LTable); ok {
				if err := inter.OnConstruct(L, instance, all); err != nil {
					a.log.Error("unit %s constructor %s: interceptor failed: %v", unitName, ctorName, err)
				}
			}
		}

		for _, r := range rets {
			L.Push(r)
		}
		return len(rets)
	})
}

// methodValue fetches a method from the class table, following the
// metatable __index chain for inherited methods.
func methodValue(L *lua.LState, class *lua.LTable, name string) lua.LValue {
	if v := class.RawGetString(name); v != lua.LNil {
		return v
	}

	mt := L.GetMetatable(class)
	for mt != lua.LNil {
		mtTbl, ok := mt.(*lua.LTable)
		if !ok {
			break
		}
		idx := mtTbl.RawGetString("__index")
		idxTbl, ok := idx.(*lua.LTable)
		if !ok {
			break
		}
		if v := idxTbl.RawGetString(name); v != lua.LNil {
			return v
		}
		mt = L.GetMetatable(idxTbl)
	}
	return lua.LNil
}

// addDynamicFieldAccessors exposes the hidden slot on the class.
func addDynamicFieldAccessors(L *lua.LState, class *lua.LTable) {
	class.RawSetString(GetDynamicFieldMethod, L.NewFunction(func(L *lua.LState) int {
		self := L.OptTable(1, nil)
		if self == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(GetDynamicField(self))
		return 1
	}))
	class.RawSetString(SetDynamicFieldMethod, L.NewFunction(func(L *lua.LState) int {
		if self := L.OptTable(1, nil); self != nil {
			SetDynamicField(self, L.Get(2))
		}
		return 0
	}))
}
