// Package query implements the fingerprint matcher: declarative structural
// searches over the types and methods of an introspect.Provider.
package query

import (
	"fmt"
	"strings"

	"splashguard/internal/introspect"
)

// SearchKind selects what a search returns.
type SearchKind string

const (
	// SearchTypes returns matching types
	SearchTypes SearchKind = "type"
	// SearchMethods returns matching methods
	SearchMethods SearchKind = "method"
)

// MatchMode says how a StringMatch compares.
type MatchMode int

const (
	MatchNone MatchMode = iota
	MatchEquals
	MatchContains
	MatchPrefix
	MatchSuffix
)

// StringMatch is a single string predicate. The zero value matches anything.
type StringMatch struct {
	Mode  MatchMode
	Value string
}

// Equals matches s exactly.
func Equals(s string) StringMatch { return StringMatch{Mode: MatchEquals, Value: s} }

// Contains matches any string containing s.
func Contains(s string) StringMatch { return StringMatch{Mode: MatchContains, Value: s} }

// Prefix matches any string starting with s.
func Prefix(s string) StringMatch { return StringMatch{Mode: MatchPrefix, Value: s} }

// Suffix matches any string ending with s.
func Suffix(s string) StringMatch { return StringMatch{Mode: MatchSuffix, Value: s} }

// IsZero reports whether the predicate is unconstrained.
func (m StringMatch) IsZero() bool {
	return m.Mode == MatchNone
}

// Match applies the predicate.
func (m StringMatch) Match(s string) bool {
	switch m.Mode {
	case MatchNone:
		return true
	case MatchEquals:
		return s == m.Value
	case MatchContains:
		return strings.Contains(s, m.Value)
	case MatchPrefix:
		return strings.HasPrefix(s, m.Value)
	case MatchSuffix:
		return strings.HasSuffix(s, m.Value)
	default:
		return false
	}
}

func (m StringMatch) String() string {
	switch m.Mode {
	case MatchEquals:
		return "=" + m.Value
	case MatchContains:
		return "~" + m.Value
	case MatchPrefix:
		return m.Value + "*"
	case MatchSuffix:
		return "*" + m.Value
	default:
		return "*"
	}
}

// Arity is a helper for MatchCriteria.ParamCount.
func Arity(n int) *int {
	return &n
}

// MatchCriteria is a conjunctive structural query. Every zero-valued field
// is unconstrained.
type MatchCriteria struct {
	// Name matches the dotted type name or the method name.
	Name StringMatch
	// ReturnType is the exact source-level return type (methods only).
	ReturnType string
	// ParamTypes is the exact parameter sequence when non-nil (methods only).
	ParamTypes []string
	// ParamCount is the exact parameter count when non-nil (methods only).
	ParamCount *int
	// Modifiers must all be present.
	Modifiers introspect.Modifier
	// ExcludeModifiers must all be absent.
	ExcludeModifiers introspect.Modifier
	// DeclaringType restricts a method search to one resolved type.
	DeclaringType string
	// SuperType matches the direct superclass (of the type, or of the method's owner).
	SuperType StringMatch
	// PackagePrefix restricts to types (or owners) in a package subtree.
	PackagePrefix string
	// UsingStrings must each be satisfied by some referenced string literal.
	// For type searches the literals of every declared method count.
	UsingStrings []StringMatch
	// UsesFields requires at least one referenced field.
	UsesFields bool
	// DeclaresMethod requires the type to declare a matching method (types only).
	DeclaresMethod *MatchCriteria
}

// String renders the criteria for logs.
func (c MatchCriteria) String() string {
	var parts []string
	add := func(k, v string) { parts = append(parts, k+"="+v) }

	if !c.Name.IsZero() {
		add("name", c.Name.String())
	}
	if c.ReturnType != "" {
		add("ret", c.ReturnType)
	}
	if c.ParamTypes != nil {
		add("params", "("+strings.Join(c.ParamTypes, ",")+")")
	}
	if c.ParamCount != nil {
		add("arity", fmt.Sprint(*c.ParamCount))
	}
	if c.Modifiers != 0 {
		add("mods", fmt.Sprintf("%#x", uint32(c.Modifiers)))
	}
	if c.ExcludeModifiers != 0 {
		add("notmods", fmt.Sprintf("%#x", uint32(c.ExcludeModifiers)))
	}
	if c.DeclaringType != "" {
		add("in", c.DeclaringType)
	}
	if !c.SuperType.IsZero() {
		add("super", c.SuperType.String())
	}
	if c.PackagePrefix != "" {
		add("pkg", c.PackagePrefix)
	}
	for _, s := range c.UsingStrings {
		add("str", s.String())
	}
	if c.UsesFields {
		add("fields", "true")
	}
	if c.DeclaresMethod != nil {
		add("declares", "{"+c.DeclaresMethod.String()+"}")
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}
