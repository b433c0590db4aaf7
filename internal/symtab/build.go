package symtab

import (
	"fmt"

	"splashguard/internal/errors"
	"splashguard/internal/query"
)

// Searcher is the part of query.Matcher the builder needs.
type Searcher interface {
	Search(kind query.SearchKind, c query.MatchCriteria) []query.Candidate
}

// Resolved is the builder's view of the keys resolved so far.
type Resolved map[LogicalKey]SymbolIdentity

// Owner returns the type name resolved for key, if any.
func (r Resolved) Owner(key LogicalKey) (string, bool) {
	id, ok := r[key]
	if !ok {
		return "", false
	}
	return id.Owner, true
}

// Conventional tier names.
const (
	TierPrimary   = "primary"
	TierHeuristic = "heuristic"
)

// CriteriaTier is one fingerprint tier for a key. Criteria may depend on
// keys resolved earlier; it returns false when a dependency is missing, and
// the tier is then skipped.
type CriteriaTier struct {
	Name     string
	Criteria func(Resolved) (query.MatchCriteria, bool)
}

// Fixed returns a tier whose criteria do not depend on other keys.
func Fixed(name string, c query.MatchCriteria) CriteriaTier {
	return CriteriaTier{
		Name:     name,
		Criteria: func(Resolved) (query.MatchCriteria, bool) { return c, true },
	}
}

// KeySpec declares how one logical key is resolved. Tiers are tried in order.
type KeySpec struct {
	Key       LogicalKey
	Kind      SymbolKind
	Mandatory bool
	Tiers     []CriteriaTier
}

// MandatoryKeys returns the keys marked mandatory in specs.
func MandatoryKeys(specs []KeySpec) []LogicalKey {
	var keys []LogicalKey
	for _, s := range specs {
		if s.Mandatory {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	onQuery func(key LogicalKey, tier string)
}

// OnQuery registers fn to be called before every search Build issues, with
// the key and tier name being queried. Tiers skipped for a missing
// dependency are not reported.
func OnQuery(fn func(key LogicalKey, tier string)) BuildOption {
	return func(o *buildOptions) { o.onQuery = fn }
}

// Build resolves every KeySpec in order. For each key the first candidate of
// the first non-empty tier wins. A mandatory key with no candidate at any
// tier fails the whole build with a resolution failure; an optional key
// with no candidate is omitted.
func Build(integrationID string, version VersionTag, specs []KeySpec, m Searcher, opts ...BuildOption) (*ResolvedTable, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	resolved := Resolved{}
	provenance := map[LogicalKey]string{}
	var attempted []string

	for _, spec := range specs {
		kind, err := searchKind(spec.Kind)
		if err != nil {
			return nil, err
		}
		if _, dup := resolved[spec.Key]; dup {
			return nil, errors.New(errors.InternalError, fmt.Sprintf("key %s declared twice", spec.Key), nil)
		}

		for _, tier := range spec.Tiers {
			c, ok := tier.Criteria(resolved)
			if !ok {
				continue
			}
			attempted = appendTier(attempted, tier.Name)
			if o.onQuery != nil {
				o.onQuery(spec.Key, tier.Name)
			}
			candidates := m.Search(kind, c)
			if len(candidates) == 0 {
				continue
			}
			resolved[spec.Key] = identityOf(candidates[0])
			provenance[spec.Key] = tier.Name
			break
		}

		if _, ok := resolved[spec.Key]; !ok && spec.Mandatory {
			return nil, errors.NewResolutionFailure(string(spec.Key))
		}
	}

	return &ResolvedTable{
		integrationID: integrationID,
		version:       version,
		entries:       resolved,
		provenance:    provenance,
		attempted:     attempted,
	}, nil
}

func appendTier(tiers []string, name string) []string {
	for _, t := range tiers {
		if t == name {
			return tiers
		}
	}
	return append(tiers, name)
}

func searchKind(k SymbolKind) (query.SearchKind, error) {
	switch k {
	case KindType:
		return query.SearchTypes, nil
	case KindMethod:
		return query.SearchMethods, nil
	default:
		return "", errors.New(errors.InternalError, fmt.Sprintf("cannot search for %q symbols", k), nil)
	}
}

func identityOf(c query.Candidate) SymbolIdentity {
	if c.Method != nil {
		ref := c.Method.Ref()
		return MethodIdentity(ref.Owner, ref.Name, ref.Descriptor)
	}
	return TypeIdentity(c.Type.Name)
}
