package plugin

import (
	"github.com/dshills/luaweave/internal/unit"
)

// Finder classifies plugin definitions and answers, for any candidate code
// unit, which plugins apply. Indices are built once at construction and are
// read-only afterward; concurrent Find calls need no synchronization.
type Finder struct {
	// nameMatchDefine indexes exact-name plugins. The slice preserves
	// discovery order: later plugins wrap the rewrites of earlier ones.
	nameMatchDefine map[string][]*Definition

	// indirectMatchDefine holds predicate-matched plugins in discovery
	// order; candidates are evaluated linearly.
	indirectMatchDefine []*Definition

	// privilegedDefine holds plugins targeting the privileged domain,
	// indexed separately for the privileged injector.
	privilegedDefine []*Definition
}

// NewFinder classifies the discovered definitions. Definitions without a
// target match are skipped.
func NewFinder(defs []*Definition) *Finder {
	f := &Finder{
		nameMatchDefine: make(map[string][]*Definition),
	}

	for _, def := range defs {
		if def == nil || def.TargetMatch == nil {
			continue
		}
		switch match := def.TargetMatch.(type) {
		case NameMatch:
			f.nameMatchDefine[match.ClassName] = append(f.nameMatchDefine[match.ClassName], def)
		case IndirectMatch:
			f.indirectMatchDefine = append(f.indirectMatchDefine, def)
		}
		if def.Privileged {
			f.privilegedDefine = append(f.privilegedDefine, def)
		}
	}

	return f
}

// Find returns all definitions applying to the unit: exact-name hits first,
// then indirect hits, each group in discovery order.
func (f *Finder) Find(desc *unit.Descriptor) []*Definition {
	var matched []*Definition

	if defs, ok := f.nameMatchDefine[desc.Name]; ok {
		matched = append(matched, defs...)
	}
	for _, def := range f.indirectMatchDefine {
		if safeMatches(def.TargetMatch.(IndirectMatch), desc) {
			matched = append(matched, def)
		}
	}

	return matched
}

// BuildMatch produces the aggregate predicate the host uses to pre-filter
// units: exact-name-key membership OR any indirect match, with a standing
// exclusion of interface units. A faulty plugin predicate must not
// destabilize the host's matching pipeline, so panics yield false.
func (f *Finder) BuildMatch() func(desc *unit.Descriptor) bool {
	return func(desc *unit.Descriptor) bool {
		if desc == nil || desc.Interface {
			return false
		}
		if _, ok := f.nameMatchDefine[desc.Name]; ok {
			return true
		}
		for _, def := range f.indirectMatchDefine {
			if safeMatches(def.TargetMatch.(IndirectMatch), desc) {
				return true
			}
		}
		return false
	}
}

// PrivilegedDefinitions returns the plugins targeting the privileged
// domain, in discovery order.
func (f *Finder) PrivilegedDefinitions() []*Definition {
	return f.privilegedDefine
}

// safeMatches evaluates an indirect match, turning panics into no-match.
func safeMatches(m IndirectMatch, desc *unit.Descriptor) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return m.Matches(desc)
}
