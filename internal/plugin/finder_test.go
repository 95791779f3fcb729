package plugin

import (
	"testing"

	"github.com/dshills/luaweave/internal/domain"
	"github.com/dshills/luaweave/internal/unit"
)

func namedDef(name, target string) *Definition {
	return &Definition{
		Name:        name,
		TargetMatch: ByName(target),
		StaticMethodPoints: []StaticMethodPoint{
			{Matcher: AnyMethod{}, Interceptor: name + "Interceptor"},
		},
	}
}

func descFor(name string) *unit.Descriptor {
	return &unit.Descriptor{
		Name: name,
		Methods: []unit.Method{
			{Name: "compute", Static: true, Declared: true},
		},
	}
}

func TestFindExactName(t *testing.T) {
	foo := namedDef("foo-plugin", "Foo")
	bar := namedDef("bar-plugin", "Bar")
	f := NewFinder([]*Definition{foo, bar})

	matched := f.Find(descFor("Foo"))
	if len(matched) != 1 || matched[0] != foo {
		t.Fatalf("Find(Foo) = %v, want [foo-plugin]", matched)
	}

	if got := f.Find(descFor("Baz")); len(got) != 0 {
		t.Errorf("Find(Baz) = %v, want empty", got)
	}
}

func TestFindPreservesDiscoveryOrder(t *testing.T) {
	first := namedDef("first", "Foo")
	second := namedDef("second", "Foo")
	indirect := &Definition{
		Name:        "indirect",
		TargetMatch: ByPrefix("Fo"),
	}
	f := NewFinder([]*Definition{first, indirect, second})

	matched := f.Find(descFor("Foo"))
	if len(matched) != 3 {
		t.Fatalf("Find(Foo) returned %d definitions, want 3", len(matched))
	}
	// Exact-name hits first in discovery order, then indirect hits.
	if matched[0] != first || matched[1] != second || matched[2] != indirect {
		t.Errorf("Find(Foo) order = [%s %s %s], want [first second indirect]",
			matched[0].Name, matched[1].Name, matched[2].Name)
	}
}

func TestFindIndirect(t *testing.T) {
	def := &Definition{
		Name: "handlers",
		TargetMatch: ByPredicate(func(d *unit.Descriptor) bool {
			_, ok := d.Method("handle")
			return ok
		}),
	}
	f := NewFinder([]*Definition{def})

	withHandle := &unit.Descriptor{Name: "OrderHandler", Methods: []unit.Method{{Name: "handle"}}}
	if got := f.Find(withHandle); len(got) != 1 {
		t.Errorf("Find(OrderHandler) = %v, want one hit", got)
	}
	if got := f.Find(descFor("Plain")); len(got) != 0 {
		t.Errorf("Find(Plain) = %v, want empty", got)
	}
}

func TestBuildMatch(t *testing.T) {
	f := NewFinder([]*Definition{
		namedDef("foo-plugin", "Foo"),
		{Name: "prefixed", TargetMatch: ByPrefix("svc.")},
	})
	match := f.BuildMatch()

	tests := []struct {
		name     string
		desc     *unit.Descriptor
		expected bool
	}{
		{"exact hit", descFor("Foo"), true},
		{"prefix hit", descFor("svc.Cache"), true},
		{"miss", descFor("Other"), false},
		{"interface excluded", &unit.Descriptor{Name: "Foo", Interface: true}, false},
		{"nil descriptor", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := match(tt.desc); got != tt.expected {
				t.Errorf("match() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildMatchShieldsPanickingPredicate(t *testing.T) {
	f := NewFinder([]*Definition{
		{
			Name: "buggy",
			TargetMatch: ByPredicate(func(d *unit.Descriptor) bool {
				panic("boom")
			}),
		},
		namedDef("good", "Foo"),
	})
	match := f.BuildMatch()

	// A panicking predicate yields false instead of propagating.
	if match(descFor("Anything")) {
		t.Error("match() = true for unit only the buggy predicate could claim")
	}
	// Exact-name matching is unaffected.
	if !match(descFor("Foo")) {
		t.Error("match(Foo) = false, want true")
	}
}

func TestPrivilegedDefinitionsIndexedSeparately(t *testing.T) {
	priv := &Definition{Name: "core", TargetMatch: ByName("coroutine.Pool"), Privileged: true}
	plain := namedDef("plain", "Foo")
	f := NewFinder([]*Definition{plain, priv})

	got := f.PrivilegedDefinitions()
	if len(got) != 1 || got[0] != priv {
		t.Errorf("PrivilegedDefinitions() = %v, want [core]", got)
	}
}

func TestNewFinderSkipsNilAndUnmatched(t *testing.T) {
	f := NewFinder([]*Definition{nil, {Name: "no-match"}})
	if got := f.Find(descFor("Foo")); len(got) != 0 {
		t.Errorf("Find() = %v, want empty", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	factory := func(ext *domain.Extended) (any, error) { return struct{}{}, nil }

	if err := r.Register("timing", factory); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("timing", factory); err == nil {
		t.Error("duplicate Register() succeeded")
	}
	if err := r.Register("nil", nil); err == nil {
		t.Error("Register(nil factory) succeeded")
	}

	if _, err := r.Lookup("timing"); err != nil {
		t.Errorf("Lookup(timing) error = %v", err)
	}
	if _, err := r.Lookup("absent"); err == nil {
		t.Error("Lookup(absent) succeeded")
	}

	names := r.Names()
	if len(names) != 1 || names[0] != "timing" {
		t.Errorf("Names() = %v, want [timing]", names)
	}
}
