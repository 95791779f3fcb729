package plugin

import (
	"strings"

	"github.com/dshills/luaweave/internal/unit"
)

// ClassMatch decides whether a plugin applies to a code unit.
//
// Exactly two shapes exist: NameMatch, resolved by map lookup, and
// IndirectMatch, evaluated linearly against each candidate. The Finder
// treats them differently, so new match types must implement one of the
// two, not ClassMatch alone.
type ClassMatch interface {
	classMatch()
}

// NameMatch matches a unit by its exact name.
type NameMatch struct {
	ClassName string
}

// ByName creates an exact-name match.
func ByName(name string) NameMatch {
	return NameMatch{ClassName: name}
}

func (NameMatch) classMatch() {}

// IndirectMatch matches a unit by predicate.
type IndirectMatch interface {
	ClassMatch

	// Matches reports whether the plugin applies to the unit.
	Matches(desc *unit.Descriptor) bool
}

// PrefixMatch matches units whose name starts with a prefix.
type PrefixMatch struct {
	Prefix string
}

// ByPrefix creates a prefix match.
func ByPrefix(prefix string) PrefixMatch {
	return PrefixMatch{Prefix: prefix}
}

func (PrefixMatch) classMatch() {}

// Matches implements IndirectMatch.
func (m PrefixMatch) Matches(desc *unit.Descriptor) bool {
	return strings.HasPrefix(desc.Name, m.Prefix)
}

// PredicateMatch adapts an arbitrary predicate to IndirectMatch.
type PredicateMatch struct {
	Predicate func(desc *unit.Descriptor) bool
}

// ByPredicate creates a predicate match.
func ByPredicate(predicate func(desc *unit.Descriptor) bool) PredicateMatch {
	return PredicateMatch{Predicate: predicate}
}

func (PredicateMatch) classMatch() {}

// Matches implements IndirectMatch.
func (m PredicateMatch) Matches(desc *unit.Descriptor) bool {
	if m.Predicate == nil {
		return false
	}
	return m.Predicate(desc)
}

// MethodMatch selects methods of a matched unit.
type MethodMatch interface {
	// Matches reports whether the method is selected.
	Matches(m unit.Method) bool
}

// MethodNamed matches one method by exact name.
type MethodNamed string

// Matches implements MethodMatch.
func (n MethodNamed) Matches(m unit.Method) bool {
	return m.Name == string(n)
}

// MethodPrefixed matches methods whose name starts with a prefix.
type MethodPrefixed string

// Matches implements MethodMatch.
func (p MethodPrefixed) Matches(m unit.Method) bool {
	return strings.HasPrefix(m.Name, string(p))
}

// AnyMethod matches every method.
type AnyMethod struct{}

// Matches implements MethodMatch.
func (AnyMethod) Matches(unit.Method) bool {
	return true
}
