package enhance

import (
	lua "github.com/yuin/gopher-lua"
)

// DynamicFieldKey is the hidden slot added to instances of enhanced units.
// Interceptors use it to carry per-instance correlation state across the
// unit's operations.
const DynamicFieldKey = "__weave_dynamic_field"

// Accessor method names added to enhanced classes.
const (
	GetDynamicFieldMethod = "getDynamicField"
	SetDynamicFieldMethod = "setDynamicField"
)

// Invocation describes one intercepted call.
type Invocation struct {
	// UnitName is the enhanced unit's name.
	UnitName string

	// Method is the intercepted method name.
	Method string

	// Target is the receiver instance, nil for static methods.
	Target *lua.LTable

	// Args are the call arguments, receiver excluded. When the point
	// declares argument overriding, mutations made in Before are passed
	// to the original body; otherwise the original receives the pristine
	// argument list.
	Args []lua.LValue

	// L is the Lua state executing the call. Interceptors may use it to
	// allocate values owned by the invocation's domain.
	L *lua.LState
}

// Result lets a Before hook short-circuit the original body and supply a
// substitute return value.
type Result struct {
	defined bool
	value   lua.LValue
}

// Define sets the substitute return value and suppresses the original body.
func (r *Result) Define(v lua.LValue) {
	r.defined = true
	r.value = v
}

// Defined reports whether a substitute result was set.
func (r *Result) Defined() bool {
	return r.defined
}

// Value returns the substitute return value.
func (r *Result) Value() lua.LValue {
	if r.value == nil {
		return lua.LNil
	}
	return r.value
}

// MethodInterceptor is the contract for instance and static method points.
//
// Before runs ahead of the original body and may suppress it via result.
// After runs once the body (or the substitute) produced a value and may
// replace it. OnException is invoked when the original body raises; the
// error is re-raised afterward.
type MethodInterceptor interface {
	Before(inv *Invocation, result *Result) error
	After(inv *Invocation, ret lua.LValue) (lua.LValue, error)
	OnException(inv *Invocation, err error)
}

// ConstructorInterceptor is the contract for constructor points. It runs
// after the original constructor body; construction is augmented, never
// replaced. A returned error is logged and does not fail construction.
type ConstructorInterceptor interface {
	OnConstruct(L *lua.LState, instance *lua.LTable, args []lua.LValue) error
}

// GetDynamicField reads the hidden slot of an enhanced instance.
func GetDynamicField(instance *lua.LTable) lua.LValue {
	if instance == nil {
		return lua.LNil
	}
	return instance.RawGetString(DynamicFieldKey)
}

// SetDynamicField writes the hidden slot of an enhanced instance.
func SetDynamicField(instance *lua.LTable, v lua.LValue) {
	if instance == nil {
		return
	}
	if v == nil {
		v = lua.LNil
	}
	instance.RawSetString(DynamicFieldKey, v)
}
