package query

import (
	"log/slog"
	"strings"

	"splashguard/internal/introspect"
)

// Candidate is one search hit. Method is nil for type hits.
type Candidate struct {
	Kind   SearchKind
	Type   introspect.TypeInfo
	Method *introspect.MethodInfo
}

// String renders the hit as Type or Type#method(params)ret.
func (c Candidate) String() string {
	if c.Method != nil {
		return c.Method.Ref().String()
	}
	return c.Type.Name
}

// Matcher executes MatchCriteria against a provider. It never mutates the
// provider and never fails: an empty result means no match.
type Matcher struct {
	provider introspect.Provider
	logger   *slog.Logger
}

// NewMatcher creates a matcher over p.
func NewMatcher(p introspect.Provider, logger *slog.Logger) *Matcher {
	return &Matcher{provider: p, logger: logger}
}

// Provider returns the provider the matcher searches.
func (m *Matcher) Provider() introspect.Provider {
	return m.provider
}

// Search returns candidates in the provider's load order.
func (m *Matcher) Search(kind SearchKind, c MatchCriteria) []Candidate {
	var out []Candidate
	switch kind {
	case SearchTypes:
		out = m.searchTypes(c)
	case SearchMethods:
		out = m.searchMethods(c)
	default:
		m.logger.Warn("Unknown search kind", "kind", string(kind))
		return nil
	}

	m.logger.Debug("Fingerprint search",
		"kind", string(kind),
		"criteria", c.String(),
		"candidates", len(out),
	)
	return out
}

// FindTypes is Search(SearchTypes, c).
func (m *Matcher) FindTypes(c MatchCriteria) []Candidate {
	return m.Search(SearchTypes, c)
}

// FindMethods is Search(SearchMethods, c).
func (m *Matcher) FindMethods(c MatchCriteria) []Candidate {
	return m.Search(SearchMethods, c)
}

func (m *Matcher) searchTypes(c MatchCriteria) []Candidate {
	var out []Candidate
	for _, t := range m.provider.ListLoadedTypes() {
		if !typeMatches(t, c) {
			continue
		}
		if !m.typeBodyMatches(t, c) {
			continue
		}
		out = append(out, Candidate{Kind: SearchTypes, Type: t})
	}
	return out
}

func (m *Matcher) searchMethods(c MatchCriteria) []Candidate {
	var owners []introspect.TypeInfo
	if c.DeclaringType != "" {
		t, ok := m.provider.LookupType(c.DeclaringType)
		if !ok {
			return nil
		}
		owners = []introspect.TypeInfo{t}
	} else {
		owners = m.provider.ListLoadedTypes()
	}

	var out []Candidate
	for _, owner := range owners {
		if c.PackagePrefix != "" && !inPackage(owner.Name, c.PackagePrefix) {
			continue
		}
		if !c.SuperType.Match(owner.SuperName) {
			continue
		}
		for _, meth := range m.provider.ListDeclaredMethods(owner.Name) {
			if !methodSignatureMatches(meth, c) {
				continue
			}
			if !m.methodBodyMatches(meth.Ref(), c) {
				continue
			}
			meth := meth
			out = append(out, Candidate{Kind: SearchMethods, Type: owner, Method: &meth})
		}
	}
	return out
}

// typeMatches checks the criteria that need only the type record.
func typeMatches(t introspect.TypeInfo, c MatchCriteria) bool {
	if !c.Name.Match(t.Name) {
		return false
	}
	if c.PackagePrefix != "" && !inPackage(t.Name, c.PackagePrefix) {
		return false
	}
	if !c.SuperType.Match(t.SuperName) {
		return false
	}
	if !t.Modifiers.Has(c.Modifiers) {
		return false
	}
	if c.ExcludeModifiers != 0 && t.Modifiers&c.ExcludeModifiers != 0 {
		return false
	}
	return true
}

// typeBodyMatches checks the criteria that look into declared methods.
func (m *Matcher) typeBodyMatches(t introspect.TypeInfo, c MatchCriteria) bool {
	if len(c.UsingStrings) == 0 && !c.UsesFields && c.DeclaresMethod == nil {
		return true
	}

	methods := m.provider.ListDeclaredMethods(t.Name)

	if c.DeclaresMethod != nil {
		nested := *c.DeclaresMethod
		found := false
		for _, meth := range methods {
			if methodSignatureMatches(meth, nested) && m.methodBodyMatches(meth.Ref(), nested) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(c.UsingStrings) == 0 && !c.UsesFields {
		return true
	}
	var strs []string
	usesFields := false
	for _, meth := range methods {
		strs = append(strs, m.provider.ListReferencedStrings(meth.Ref())...)
		if !usesFields && len(m.provider.ListReferencedFields(meth.Ref())) > 0 {
			usesFields = true
		}
	}
	if c.UsesFields && !usesFields {
		return false
	}
	return allSatisfied(c.UsingStrings, strs)
}

func methodSignatureMatches(meth introspect.MethodInfo, c MatchCriteria) bool {
	if !c.Name.Match(meth.Name) {
		return false
	}
	if c.ReturnType != "" && meth.ReturnType != c.ReturnType {
		return false
	}
	if c.ParamCount != nil && len(meth.ParamTypes) != *c.ParamCount {
		return false
	}
	if c.ParamTypes != nil && !equalStrings(meth.ParamTypes, c.ParamTypes) {
		return false
	}
	if !meth.Modifiers.Has(c.Modifiers) {
		return false
	}
	if c.ExcludeModifiers != 0 && meth.Modifiers&c.ExcludeModifiers != 0 {
		return false
	}
	return true
}

func (m *Matcher) methodBodyMatches(ref introspect.MethodRef, c MatchCriteria) bool {
	if c.UsesFields && len(m.provider.ListReferencedFields(ref)) == 0 {
		return false
	}
	if len(c.UsingStrings) > 0 && !allSatisfied(c.UsingStrings, m.provider.ListReferencedStrings(ref)) {
		return false
	}
	return true
}

// allSatisfied reports whether every predicate matches at least one string.
func allSatisfied(preds []StringMatch, strs []string) bool {
	for _, p := range preds {
		ok := false
		for _, s := range strs {
			if p.Match(s) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func inPackage(typeName, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, ".")
	return typeName == prefix || strings.HasPrefix(typeName, prefix+".")
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
