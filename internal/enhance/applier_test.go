package enhance

import (
	"errors"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luaweave/internal/domain"
	"github.com/dshills/luaweave/internal/plugin"
	"github.com/dshills/luaweave/internal/unit"
)

type recordingInterceptor struct {
	calls        []string
	shortCircuit lua.LValue
	replaceRet   lua.LValue
	overrideArg0 lua.LValue
	sawErr       error
}

func (r *recordingInterceptor) Before(inv *Invocation, result *Result) error {
	r.calls = append(r.calls, "before")
	if r.overrideArg0 != nil && len(inv.Args) > 0 {
		inv.Args[0] = r.overrideArg0
	}
	if r.shortCircuit != nil {
		result.Define(r.shortCircuit)
	}
	return nil
}

func (r *recordingInterceptor) After(inv *Invocation, ret lua.LValue) (lua.LValue, error) {
	r.calls = append(r.calls, "after")
	if r.replaceRet != nil {
		return r.replaceRet, nil
	}
	return ret, nil
}

func (r *recordingInterceptor) OnException(inv *Invocation, err error) {
	r.calls = append(r.calls, "exception")
	r.sawErr = err
}

type taggingConstructor struct {
	tag   lua.LValue
	calls int
}

func (c *taggingConstructor) OnConstruct(L *lua.LState, instance *lua.LTable, args []lua.LValue) error {
	c.calls++
	SetDynamicField(instance, c.tag)
	return nil
}

func newTestDomain(t *testing.T) *domain.Domain {
	t.Helper()
	dom := domain.New(domain.WithName("test"))
	t.Cleanup(func() { dom.Close() })
	return dom
}

func registerInterceptor(t *testing.T, reg *plugin.Registry, name string, inst any) {
	t.Helper()
	err := reg.Register(name, func(ext *domain.Extended) (any, error) {
		return inst, nil
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func calcDescriptor() *unit.Descriptor {
	return &unit.Descriptor{
		Name: "Calc",
		Methods: []unit.Method{
			{Name: "new", Constructor: true, Declared: true},
			{Name: "add", Static: true, Declared: true},
			{Name: "compute", Declared: true},
		},
	}
}

func loadCalc(t *testing.T, dom *domain.Domain) *lua.LTable {
	t.Helper()
	err := dom.DoString(`
		Calc = {}
		Calc.__index = Calc
		body_runs = 0
		function Calc.new(v)
			local self = setmetatable({}, Calc)
			self.value = v
			return self
		end
		function Calc.add(a, b)
			body_runs = body_runs + 1
			return a + b
		end
		function Calc.compute(self, n)
			body_runs = body_runs + 1
			return self.value + n
		end
	`)
	if err != nil {
		t.Fatalf("load Calc: %v", err)
	}
	class, ok := dom.Global("Calc").(*lua.LTable)
	if !ok {
		t.Fatal("Calc global is not a table")
	}
	return class
}

func TestEnhanceStaticMethod(t *testing.T) {
	dom := newTestDomain(t)
	class := loadCalc(t, dom)

	reg := plugin.NewRegistry()
	rec := &recordingInterceptor{}
	registerInterceptor(t, reg, "rec", rec)

	def := &plugin.Definition{
		Name:        "calc-plugin",
		TargetMatch: plugin.ByName("Calc"),
		StaticMethodPoints: []plugin.StaticMethodPoint{
			{Matcher: plugin.MethodNamed("add"), Interceptor: "rec"},
		},
	}

	a := NewApplier(NewLoader(reg), nil)
	ctx := NewContext()
	if err := a.Enhance(def, calcDescriptor(), class, dom, ctx); err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	if err := dom.DoString(`result = Calc.add(2, 3)`); err != nil {
		t.Fatalf("call add: %v", err)
	}
	if got := dom.Global("result"); got != lua.LNumber(5) {
		t.Errorf("result = %v, want 5", got)
	}
	if len(rec.calls) != 2 || rec.calls[0] != "before" || rec.calls[1] != "after" {
		t.Errorf("calls = %v, want [before after]", rec.calls)
	}
	if !ctx.IsEnhanced() {
		t.Error("context not marked enhanced")
	}
	// Static-only points never touch instance state.
	if ctx.IsObjectExtended() {
		t.Error("static enhancement extended the object")
	}
	if class.RawGetString(GetDynamicFieldMethod) != lua.LNil {
		t.Error("static enhancement added dynamic field accessors")
	}
}

func TestEnhanceShortCircuit(t *testing.T) {
	dom := newTestDomain(t)
	class := loadCalc(t, dom)

	reg := plugin.NewRegistry()
	rec := &recordingInterceptor{shortCircuit: lua.LNumber(42)}
	registerInterceptor(t, reg, "rec", rec)

	def := &plugin.Definition{
		Name:        "calc-plugin",
		TargetMatch: plugin.ByName("Calc"),
		StaticMethodPoints: []plugin.StaticMethodPoint{
			{Matcher: plugin.MethodNamed("add"), Interceptor: "rec"},
		},
	}

	a := NewApplier(NewLoader(reg), nil)
	if err := a.Enhance(def, calcDescriptor(), class, dom, NewContext()); err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	if err := dom.DoString(`result = Calc.add(2, 3)`); err != nil {
		t.Fatalf("call add: %v", err)
	}
	if got := dom.Global("result"); got != lua.LNumber(42) {
		t.Errorf("result = %v, want 42", got)
	}
	if got := dom.Global("body_runs"); got != lua.LNumber(0) {
		t.Errorf("body_runs = %v, want 0 (body suppressed)", got)
	}
	// After still observes the substituted value.
	if len(rec.calls) != 2 || rec.calls[1] != "after" {
		t.Errorf("calls = %v, want [before after]", rec.calls)
	}
}

func TestEnhanceOverrideArgs(t *testing.T) {
	tests := []struct {
		name     string
		override bool
		want     lua.LNumber
	}{
		{"override reaches body", true, 13},
		{"no override keeps pristine args", false, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dom := newTestDomain(t)
			class := loadCalc(t, dom)

			reg := plugin.NewRegistry()
			rec := &recordingInterceptor{overrideArg0: lua.LNumber(10)}
			registerInterceptor(t, reg, "rec", rec)

			def := &plugin.Definition{
				Name:        "calc-plugin",
				TargetMatch: plugin.ByName("Calc"),
				StaticMethodPoints: []plugin.StaticMethodPoint{
					{Matcher: plugin.MethodNamed("add"), Interceptor: "rec", OverrideArgs: tt.override},
				},
			}

			a := NewApplier(NewLoader(reg), nil)
			if err := a.Enhance(def, calcDescriptor(), class, dom, NewContext()); err != nil {
				t.Fatalf("Enhance: %v", err)
			}

			if err := dom.DoString(`result = Calc.add(2, 3)`); err != nil {
				t.Fatalf("call add: %v", err)
			}
			if got := dom.Global("result"); got != tt.want {
				t.Errorf("result = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnhanceInstanceMethodAndSlot(t *testing.T) {
	dom := newTestDomain(t)
	class := loadCalc(t, dom)

	reg := plugin.NewRegistry()
	rec := &recordingInterceptor{}
	registerInterceptor(t, reg, "rec", rec)

	def := &plugin.Definition{
		Name:        "calc-plugin",
		TargetMatch: plugin.ByName("Calc"),
		InstanceMethodPoints: []plugin.InstanceMethodPoint{
			{Matcher: plugin.MethodNamed("compute"), Interceptor: "rec"},
		},
	}

	a := NewApplier(NewLoader(reg), nil)
	ctx := NewContext()
	if err := a.Enhance(def, calcDescriptor(), class, dom, ctx); err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	if !ctx.IsObjectExtended() {
		t.Error("instance enhancement did not extend the object")
	}
	if class.RawGetString(GetDynamicFieldMethod) == lua.LNil {
		t.Error("dynamic field accessors missing")
	}

	if err := dom.DoString(`
		local c = Calc.new(40)
		c:setDynamicField("trace-1")
		result = c:compute(2)
		field = c:getDynamicField()
	`); err != nil {
		t.Fatalf("call compute: %v", err)
	}
	if got := dom.Global("result"); got != lua.LNumber(42) {
		t.Errorf("result = %v, want 42", got)
	}
	if got := dom.Global("field"); got != lua.LString("trace-1") {
		t.Errorf("field = %v, want trace-1", got)
	}
	if len(rec.calls) != 2 {
		t.Errorf("calls = %v, want [before after]", rec.calls)
	}
}

func TestEnhanceSlotAddedOncePerUnit(t *testing.T) {
	dom := newTestDomain(t)
	class := loadCalc(t, dom)

	reg := plugin.NewRegistry()
	registerInterceptor(t, reg, "a", &recordingInterceptor{})
	registerInterceptor(t, reg, "b", &recordingInterceptor{})

	defA := &plugin.Definition{
		Name:        "plugin-a",
		TargetMatch: plugin.ByName("Calc"),
		InstanceMethodPoints: []plugin.InstanceMethodPoint{
			{Matcher: plugin.MethodNamed("compute"), Interceptor: "a"},
		},
	}
	defB := &plugin.Definition{
		Name:        "plugin-b",
		TargetMatch: plugin.ByName("Calc"),
		InstanceMethodPoints: []plugin.InstanceMethodPoint{
			{Matcher: plugin.MethodNamed("compute"), Interceptor: "b"},
		},
	}

	ap := NewApplier(NewLoader(reg), nil)
	ctx := NewContext()
	if err := ap.Enhance(defA, calcDescriptor(), class, dom, ctx); err != nil {
		t.Fatalf("Enhance a: %v", err)
	}
	firstAccessor := class.RawGetString(GetDynamicFieldMethod)
	if firstAccessor == lua.LNil {
		t.Fatal("first enhancement did not add accessors")
	}

	if err := ap.Enhance(defB, calcDescriptor(), class, dom, ctx); err != nil {
		t.Fatalf("Enhance b: %v", err)
	}
	if got := class.RawGetString(GetDynamicFieldMethod); got != firstAccessor {
		t.Error("second enhancement replaced the accessors")
	}
}

func TestEnhanceChainsPlugins(t *testing.T) {
	dom := newTestDomain(t)
	class := loadCalc(t, dom)

	reg := plugin.NewRegistry()
	recA := &recordingInterceptor{}
	recB := &recordingInterceptor{}
	registerInterceptor(t, reg, "a", recA)
	registerInterceptor(t, reg, "b", recB)

	mkDef := func(name, interceptor string) *plugin.Definition {
		return &plugin.Definition{
			Name:        name,
			TargetMatch: plugin.ByName("Calc"),
			StaticMethodPoints: []plugin.StaticMethodPoint{
				{Matcher: plugin.MethodNamed("add"), Interceptor: interceptor},
			},
		}
	}

	ap := NewApplier(NewLoader(reg), nil)
	ctx := NewContext()
	if err := ap.Enhance(mkDef("plugin-a", "a"), calcDescriptor(), class, dom, ctx); err != nil {
		t.Fatalf("Enhance a: %v", err)
	}
	if err := ap.Enhance(mkDef("plugin-b", "b"), calcDescriptor(), class, dom, ctx); err != nil {
		t.Fatalf("Enhance b: %v", err)
	}

	if err := dom.DoString(`result = Calc.add(2, 3)`); err != nil {
		t.Fatalf("call add: %v", err)
	}
	if got := dom.Global("result"); got != lua.LNumber(5) {
		t.Errorf("result = %v, want 5", got)
	}
	if len(recA.calls) != 2 || len(recB.calls) != 2 {
		t.Errorf("both interceptors must see the call: a=%v b=%v", recA.calls, recB.calls)
	}
	if got := dom.Global("body_runs"); got != lua.LNumber(1) {
		t.Errorf("body_runs = %v, want 1", got)
	}
}

func TestEnhanceEmptyInterceptorAbortsBeforeMutation(t *testing.T) {
	dom := newTestDomain(t)
	class := loadCalc(t, dom)
	originalAdd := class.RawGetString("add")

	reg := plugin.NewRegistry()
	registerInterceptor(t, reg, "rec", &recordingInterceptor{})

	def := &plugin.Definition{
		Name:        "calc-plugin",
		TargetMatch: plugin.ByName("Calc"),
		StaticMethodPoints: []plugin.StaticMethodPoint{
			{Matcher: plugin.MethodNamed("add"), Interceptor: "rec"},
			{Matcher: plugin.MethodNamed("add"), Interceptor: ""},
		},
	}

	ap := NewApplier(NewLoader(reg), nil)
	ctx := NewContext()
	err := ap.Enhance(def, calcDescriptor(), class, dom, ctx)
	if !errors.Is(err, ErrNoInterceptor) {
		t.Fatalf("Enhance error = %v, want ErrNoInterceptor", err)
	}
	if got := class.RawGetString("add"); got != originalAdd {
		t.Error("failed enhancement mutated the class")
	}
	if ctx.IsEnhanced() {
		t.Error("context marked enhanced after aborted enhancement")
	}
}

func TestEnhanceUnknownInterceptorAborts(t *testing.T) {
	dom := newTestDomain(t)
	class := loadCalc(t, dom)
	originalAdd := class.RawGetString("add")

	reg := plugin.NewRegistry()
	def := &plugin.Definition{
		Name:        "calc-plugin",
		TargetMatch: plugin.ByName("Calc"),
		StaticMethodPoints: []plugin.StaticMethodPoint{
			{Matcher: plugin.MethodNamed("add"), Interceptor: "missing"},
		},
	}

	ap := NewApplier(NewLoader(reg), nil)
	err := ap.Enhance(def, calcDescriptor(), class, dom, NewContext())
	if !errors.Is(err, plugin.ErrUnknownInterceptor) {
		t.Fatalf("Enhance error = %v, want ErrUnknownInterceptor", err)
	}
	if got := class.RawGetString("add"); got != originalAdd {
		t.Error("failed enhancement mutated the class")
	}
}

func TestEnhanceDeclaredOnly(t *testing.T) {
	dom := newTestDomain(t)

	err := dom.DoString(`
		Base = {}
		Base.__index = Base
		function Base.helper(self) return "base" end

		Child = setmetatable({}, { __index = Base })
		Child.__index = Child
		function Child.new()
			return setmetatable({}, Child)
		end
		function Child.own(self) return "own" end
	`)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	class := dom.Global("Child").(*lua.LTable)

	desc := &unit.Descriptor{
		Name: "Child",
		Methods: []unit.Method{
			{Name: "new", Constructor: true, Declared: true},
			{Name: "own", Declared: true},
			{Name: "helper", Declared: false},
		},
	}

	reg := plugin.NewRegistry()
	rec := &recordingInterceptor{}
	registerInterceptor(t, reg, "rec", rec)

	def := &plugin.Definition{
		Name:        "child-plugin",
		TargetMatch: plugin.ByName("Child"),
		InstanceMethodPoints: []plugin.InstanceMethodPoint{
			{Matcher: plugin.AnyMethod{}, Interceptor: "rec", DeclaredOnly: true},
		},
	}

	ap := NewApplier(NewLoader(reg), nil)
	if err := ap.Enhance(def, desc, class, dom, NewContext()); err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	if err := dom.DoString(`
		local c = Child.new()
		r1 = c:own()
		r2 = c:helper()
	`); err != nil {
		t.Fatalf("call: %v", err)
	}
	// Only the declared method was intercepted.
	if len(rec.calls) != 2 {
		t.Errorf("calls = %v, want one before/after pair from own()", rec.calls)
	}
	if got := dom.Global("r2"); got != lua.LString("base") {
		t.Errorf("helper result = %v, want base", got)
	}
}

func TestEnhanceConstructorAugments(t *testing.T) {
	dom := newTestDomain(t)
	class := loadCalc(t, dom)

	reg := plugin.NewRegistry()
	ctor := &taggingConstructor{tag: lua.LString("tagged")}
	registerInterceptor(t, reg, "ctor", ctor)

	def := &plugin.Definition{
		Name:        "calc-plugin",
		TargetMatch: plugin.ByName("Calc"),
		ConstructorPoints: []plugin.ConstructorPoint{
			{Matcher: plugin.MethodNamed("new"), Interceptor: "ctor"},
		},
	}

	ap := NewApplier(NewLoader(reg), nil)
	if err := ap.Enhance(def, calcDescriptor(), class, dom, NewContext()); err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	if err := dom.DoString(`
		local c = Calc.new(7)
		value = c.value
		field = c:getDynamicField()
	`); err != nil {
		t.Fatalf("construct: %v", err)
	}
	// The original body ran and the interceptor augmented the result.
	if got := dom.Global("value"); got != lua.LNumber(7) {
		t.Errorf("value = %v, want 7", got)
	}
	if got := dom.Global("field"); got != lua.LString("tagged") {
		t.Errorf("field = %v, want tagged", got)
	}
	if ctor.calls != 1 {
		t.Errorf("constructor interceptor ran %d times, want 1", ctor.calls)
	}
}

func TestEnhanceOnExceptionAndReraise(t *testing.T) {
	dom := newTestDomain(t)

	err := dom.DoString(`
		Bomb = {}
		function Bomb.explode()
			error("boom")
		end
	`)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	class := dom.Global("Bomb").(*lua.LTable)

	desc := &unit.Descriptor{
		Name: "Bomb",
		Methods: []unit.Method{
			{Name: "explode", Static: true, Declared: true},
		},
	}

	reg := plugin.NewRegistry()
	rec := &recordingInterceptor{}
	registerInterceptor(t, reg, "rec", rec)

	def := &plugin.Definition{
		Name:        "bomb-plugin",
		TargetMatch: plugin.ByName("Bomb"),
		StaticMethodPoints: []plugin.StaticMethodPoint{
			{Matcher: plugin.MethodNamed("explode"), Interceptor: "rec"},
		},
	}

	ap := NewApplier(NewLoader(reg), nil)
	if err := ap.Enhance(def, desc, class, dom, NewContext()); err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	callErr := dom.DoString(`Bomb.explode()`)
	if callErr == nil {
		t.Fatal("error was swallowed, want re-raise")
	}
	if len(rec.calls) != 3 || rec.calls[1] != "exception" || rec.calls[2] != "after" {
		t.Errorf("calls = %v, want [before exception after]", rec.calls)
	}
	if rec.sawErr == nil {
		t.Error("OnException did not receive the error")
	}
}

func TestEnhanceNilClass(t *testing.T) {
	dom := newTestDomain(t)
	ap := NewApplier(NewLoader(plugin.NewRegistry()), nil)
	def := &plugin.Definition{Name: "p", TargetMatch: plugin.ByName("X")}

	err := ap.Enhance(def, &unit.Descriptor{Name: "X"}, nil, dom, NewContext())
	if !errors.Is(err, ErrNilClass) {
		t.Errorf("Enhance error = %v, want ErrNilClass", err)
	}
}
