package unit

// Method describes one callable entry of a code unit.
type Method struct {
	// Name is the key of the function in the class table.
	Name string

	// Static marks functions that do not take an instance receiver.
	Static bool

	// Constructor marks functions that build and return a new instance.
	// Constructors are implicitly static.
	Constructor bool

	// Declared is true when the method is defined on this unit itself
	// rather than inherited through the metatable chain.
	Declared bool
}

// Descriptor identifies a code unit offered to the admission hook.
type Descriptor struct {
	// Name is the fully qualified unit name, unique within a domain.
	Name string

	// Interface marks non-instantiable units. They are excluded from
	// matching outright.
	Interface bool

	// Methods lists the unit's callable entries, constructors included.
	Methods []Method
}

// Method returns the named method and true when present.
func (d *Descriptor) Method(name string) (Method, bool) {
	for _, m := range d.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// Constructors returns the unit's constructor methods in declaration order.
func (d *Descriptor) Constructors() []Method {
	var ctors []Method
	for _, m := range d.Methods {
		if m.Constructor {
			ctors = append(ctors, m)
		}
	}
	return ctors
}

// InstanceMethods returns non-static, non-constructor methods in
// declaration order.
func (d *Descriptor) InstanceMethods() []Method {
	var methods []Method
	for _, m := range d.Methods {
		if !m.Static && !m.Constructor {
			methods = append(methods, m)
		}
	}
	return methods
}

// StaticMethods returns static, non-constructor methods in declaration
// order.
func (d *Descriptor) StaticMethods() []Method {
	var methods []Method
	for _, m := range d.Methods {
		if m.Static && !m.Constructor {
			methods = append(methods, m)
		}
	}
	return methods
}
