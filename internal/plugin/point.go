package plugin

// ConstructorPoint declares interception of matched constructors. The
// interceptor is invoked after the original constructor body with the
// constructed instance and the constructor arguments; it never replaces
// construction.
type ConstructorPoint struct {
	// Matcher selects constructors of the target unit.
	Matcher MethodMatch

	// Interceptor is the logical interceptor name. Required.
	Interceptor string
}

// InstanceMethodPoint declares interception of matched instance methods.
type InstanceMethodPoint struct {
	// Matcher selects non-static methods of the target unit.
	Matcher MethodMatch

	// Interceptor is the logical interceptor name. Required.
	Interceptor string

	// OverrideArgs lets the interceptor replace the argument list before
	// the original body runs.
	OverrideArgs bool

	// DeclaredOnly restricts matching to methods declared on the target
	// unit itself, excluding inherited ones.
	DeclaredOnly bool
}

// StaticMethodPoint declares interception of matched static methods.
type StaticMethodPoint struct {
	// Matcher selects static methods of the target unit.
	Matcher MethodMatch

	// Interceptor is the logical interceptor name. Required.
	Interceptor string

	// OverrideArgs lets the interceptor replace the argument list before
	// the original body runs.
	OverrideArgs bool
}

// Definition is one enhancement unit: the target match plus the declared
// interception points. Definitions are immutable after discovery.
type Definition struct {
	// Name identifies the plugin for logging and disable lists.
	Name string

	// TargetMatch selects the code units this plugin enhances.
	TargetMatch ClassMatch

	// Points, applied in declaration order.
	ConstructorPoints    []ConstructorPoint
	InstanceMethodPoints []InstanceMethodPoint
	StaticMethodPoints   []StaticMethodPoint

	// Privileged marks plugins whose targets live in the privileged
	// domain. Their interception logic is synthesized and injected by
	// the privileged injector instead of resolved per domain.
	Privileged bool
}

// HasInstanceEnhancement reports whether the definition touches instance
// state (constructor or instance method points).
func (d *Definition) HasInstanceEnhancement() bool {
	return len(d.ConstructorPoints) > 0 || len(d.InstanceMethodPoints) > 0
}
