package enhance

// Context tracks per-unit rewrite state shared by every plugin enhancing
// the same unit. It exists to keep the hidden slot from being added twice
// when multiple plugins require instance enhancement. A Context is created
// fresh per code unit and discarded after rewriting completes; it is never
// shared across units or threads.
type Context struct {
	objectExtended bool
	enhanced       bool
}

// NewContext creates the rewrite context for one code unit.
func NewContext() *Context {
	return &Context{}
}

// IsObjectExtended reports whether the hidden slot and its accessors were
// already added to the unit.
func (c *Context) IsObjectExtended() bool {
	return c.objectExtended
}

// ExtendObjectCompleted marks the hidden slot as added.
func (c *Context) ExtendObjectCompleted() {
	c.objectExtended = true
}

// IsEnhanced reports whether at least one plugin committed rewrites.
func (c *Context) IsEnhanced() bool {
	return c.enhanced
}

// EnhanceCompleted marks the unit as rewritten by at least one plugin.
func (c *Context) EnhanceCompleted() {
	c.enhanced = true
}
