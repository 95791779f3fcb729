package domain

import (
	lua "github.com/yuin/gopher-lua"
)

// Extended is the extended resolution context for one domain: the view an
// interceptor factory gets when instantiating for that domain. It can see
// the domain's own code (its globals and values) while the factory itself
// carries the plugin side. One Extended is built lazily per domain and
// memoized by the interceptor cache.
type Extended struct {
	domain *Domain
}

// NewExtended builds the extended context for a domain.
func NewExtended(d *Domain) *Extended {
	return &Extended{domain: d}
}

// Domain returns the target domain.
func (e *Extended) Domain() *Domain {
	return e.domain
}

// Global resolves a value from the target domain.
func (e *Extended) Global(name string) lua.LValue {
	return e.domain.Global(name)
}

// NewTable allocates a table owned by the target domain. Values passed to
// the domain must be created through its own state; this is the allocation
// point factories use.
func (e *Extended) NewTable() *lua.LTable {
	return e.domain.LuaState().NewTable()
}
