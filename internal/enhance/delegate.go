package enhance

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luaweave/internal/domain"
	"github.com/dshills/luaweave/internal/logging"
)

// Privileged delegates are Lua tables injected into the privileged domain
// under the interceptor's internal name. Their hook functions mirror the
// Go contracts:
//
//	before(self, method, args)   -> result carrier or nil
//	after(self, method, ret)     -> replacement return value
//	on_exception(self, method, message)
//	on_construct(instance, args)
//
// A result carrier is a table whose "defined" field truth-tests true; its
// "value" field short-circuits the original body.
const (
	internalSuffix = "_internal"

	// ResultDefinedField and ResultValueField name the carrier table
	// fields shared with the injected delegate templates.
	ResultDefinedField = "defined"
	ResultValueField   = "value"

	delegateBefore      = "before"
	delegateAfter       = "after"
	delegateOnException = "on_exception"
	delegateOnConstruct = "on_construct"
)

// InternalDelegateName returns the global name a privileged delegate for
// the given interceptor is injected under.
func InternalDelegateName(interceptor string) string {
	return interceptor + internalSuffix
}

// luaDelegate adapts an injected delegate table to the interceptor
// contracts. It runs entirely inside the privileged domain's state.
type luaDelegate struct {
	tbl *lua.LTable
	log *logging.Logger
}

func newDelegate(dom *domain.Domain, interceptor string, log *logging.Logger) (*luaDelegate, error) {
	name := InternalDelegateName(interceptor)
	tbl, ok := dom.Global(name).(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: delegate %q not injected into domain %s", ErrInterceptorUnavailable, name, dom.Name())
	}
	return &luaDelegate{tbl: tbl, log: log}, nil
}

func (d *luaDelegate) Before(inv *Invocation, result *Result) error {
	fn := d.tbl.RawGetString(delegateBefore)
	if fn == lua.LNil {
		return nil
	}

	argsTbl := inv.L.NewTable()
	for _, a := range inv.Args {
		argsTbl.Append(a)
	}

	rets, err := domain.Invoke(inv.L, fn, d.self(inv), lua.LString(inv.Method), argsTbl)
	if err != nil {
		return err
	}

	if len(rets) > 0 {
		if carrier, ok := rets[0].(*lua.LTable); ok && lua.LVAsBool(carrier.RawGetString(ResultDefinedField)) {
			result.Define(carrier.RawGetString(ResultValueField))
		}
	}

	// Carry delegate mutations of the argument table back to the
	// invocation. Whether they reach the original body is the applier's
	// decision.
	n := argsTbl.Len()
	newArgs := make([]lua.LValue, 0, n)
	for i := 1; i <= n; i++ {
		newArgs = append(newArgs, argsTbl.RawGetInt(i))
	}
	inv.Args = newArgs
	return nil
}

func (d *luaDelegate) After(inv *Invocation, ret lua.LValue) (lua.LValue, error) {
	fn := d.tbl.RawGetString(delegateAfter)
	if fn == lua.LNil {
		return ret, nil
	}

	rets, err := domain.Invoke(inv.L, fn, d.self(inv), lua.LString(inv.Method), ret)
	if err != nil {
		return ret, err
	}
	if len(rets) > 0 {
		return rets[0], nil
	}
	return ret, nil
}

func (d *luaDelegate) OnException(inv *Invocation, callErr error) {
	fn := d.tbl.RawGetString(delegateOnException)
	if fn == lua.LNil {
		return
	}
	if _, err := domain.Invoke(inv.L, fn, d.self(inv), lua.LString(inv.Method), lua.LString(callErr.Error())); err != nil {
		d.log.Error("delegate on_exception failed for %s: %v", inv.Method, err)
	}
}

func (d *luaDelegate) OnConstruct(L *lua.LState, instance *lua.LTable, args []lua.LValue) error {
	fn := d.tbl.RawGetString(delegateOnConstruct)
	if fn == lua.LNil {
		return nil
	}

	argsTbl := L.NewTable()
	for _, a := range args {
		argsTbl.Append(a)
	}
	_, err := domain.Invoke(L, fn, instance, argsTbl)
	return err
}

func (d *luaDelegate) self(inv *Invocation) lua.LValue {
	if inv.Target != nil {
		return inv.Target
	}
	return lua.LNil
}
