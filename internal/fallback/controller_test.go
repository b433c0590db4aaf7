package fallback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splashguard/internal/hook"
	"splashguard/internal/introspect"
	"splashguard/internal/patch"
	"splashguard/internal/query"
	"splashguard/internal/rescache"
	"splashguard/internal/slogutil"
	"splashguard/internal/symtab"
)

const directOwner = "app.ui.splash.model.Splash"

func testIntegration() Integration {
	return Integration{
		ID:          "app",
		PackageName: "app",
		Version:     1,
		Keys: []symtab.KeySpec{
			{
				Key:       symtab.SplashClass,
				Kind:      symtab.KindType,
				Mandatory: true,
				Tiers: []symtab.CriteriaTier{
					symtab.Fixed(symtab.TierPrimary, query.MatchCriteria{
						Name:           query.Contains("Splash"),
						DeclaresMethod: &query.MatchCriteria{Name: query.Equals("isValid"), ReturnType: "boolean", ParamCount: query.Arity(0)},
					}),
					symtab.Fixed(symtab.TierHeuristic, query.MatchCriteria{
						PackagePrefix:  "app.ui.splash",
						DeclaresMethod: &query.MatchCriteria{ReturnType: "boolean", ParamCount: query.Arity(0), UsesFields: true},
					}),
				},
			},
			{
				Key:       symtab.IsValidMethod,
				Kind:      symtab.KindMethod,
				Mandatory: true,
				Tiers: []symtab.CriteriaTier{
					{Name: symtab.TierPrimary, Criteria: func(r symtab.Resolved) (query.MatchCriteria, bool) {
						owner, ok := r.Owner(symtab.SplashClass)
						return query.MatchCriteria{DeclaringType: owner, Name: query.Equals("isValid"), ReturnType: "boolean", ParamCount: query.Arity(0)}, ok
					}},
					{Name: symtab.TierHeuristic, Criteria: func(r symtab.Resolved) (query.MatchCriteria, bool) {
						owner, ok := r.Owner(symtab.SplashClass)
						return query.MatchCriteria{DeclaringType: owner, ReturnType: "boolean", ParamCount: query.Arity(0), UsesFields: true}, ok
					}},
				},
			},
		},
		DirectOwner:     directOwner,
		DirectMember:    "isValid",
		PatternPrefixes: []string{"app.first", "app.second", "app.third"},
		PatternTypeName: "Splash",
	}
}

// spySearcher records every search the builder issues.
type spySearcher struct {
	inner    *query.Matcher
	searches []query.MatchCriteria
}

func (s *spySearcher) Search(kind query.SearchKind, c query.MatchCriteria) []query.Candidate {
	s.searches = append(s.searches, c)
	return s.inner.Search(kind, c)
}

type harness struct {
	controller *Controller
	registry   *hook.Registry
	cache      *rescache.Cache
	spy        *spySearcher
}

func newHarness(p introspect.Provider, host Host) *harness {
	logger := slogutil.NewDiscardLogger()
	spy := &spySearcher{inner: query.NewMatcher(p, logger)}
	reg := hook.NewRegistry(p, logger)
	cache := rescache.New(rescache.Options{}, logger)
	return &harness{
		controller: NewController(testIntegration(), host, p, cache, reg, logger, WithSearcher(spy)),
		registry:   reg,
		cache:      cache,
		spy:        spy,
	}
}

func TestIntegrationMismatch(t *testing.T) {
	h := newHarness(introspect.NewBuilder().Build(), StaticHost("other.app"))
	out := h.controller.OnModuleLoad(context.Background())

	assert.True(t, out.Mismatch)
	assert.Equal(t, []State{StateStart, StateDone}, out.States)
	assert.Empty(t, out.Tiers)
	assert.Empty(t, h.spy.searches)
	assert.Equal(t, 0, h.registry.Len())
}

func TestPrimaryTierShortCircuits(t *testing.T) {
	b := introspect.NewBuilder()
	b.Type("app.Splash", "java.lang.Object", introspect.ModPublic).
		Method("isValid", "boolean", nil, introspect.ModPublic)
	h := newHarness(b.Build(), StaticHost("app"))

	out := h.controller.OnModuleLoad(context.Background())
	assert.Equal(t, "START>RESOLVING>PATCHING>DONE", out.Path())
	assert.Equal(t, []Tier{TierFingerprintPrimary}, out.Tiers)
	assert.Len(t, h.spy.searches, 2, "one primary search per key, no heuristic searches")
	assert.True(t, out.Report.Engaged(patch.ConstantOverride))
	assert.Empty(t, out.Degradations)
	require.NotNil(t, out.Table)
}

func TestHeuristicTierRecorded(t *testing.T) {
	b := introspect.NewBuilder()
	b.Type("app.ui.splash.a", "java.lang.Object", introspect.ModPublic).
		Method("b", "boolean", nil, introspect.ModPublic).
		Fields(introspect.FieldRef{Owner: "app.ui.splash.a", Name: "c", Type: "long"})
	h := newHarness(b.Build(), StaticHost("app"))

	out := h.controller.OnModuleLoad(context.Background())
	assert.Equal(t, []Tier{TierFingerprintPrimary, TierFingerprintHeuristic}, out.Tiers)
	assert.Equal(t, []string{"app.ui.splash.a#b()boolean"}, out.Report.Targets(patch.ConstantOverride))
}

func TestResolvingTwiceIsIdempotent(t *testing.T) {
	b := introspect.NewBuilder()
	b.Type("app.Splash", "java.lang.Object", introspect.ModPublic).
		Method("isValid", "boolean", nil, introspect.ModPublic)
	h := newHarness(b.Build(), StaticHost("app"))

	first := h.controller.OnModuleLoad(context.Background())
	searches := len(h.spy.searches)
	second := h.controller.OnModuleLoad(context.Background())

	assert.Equal(t, first.Table.Record(), second.Table.Record())
	assert.Equal(t, searches, len(h.spy.searches), "second run is served from the cache")
	assert.Equal(t, 1, h.cache.Stats().Hits)
	assert.Equal(t, first.Report, second.Report)
}

func TestDirectTier(t *testing.T) {
	b := introspect.NewBuilder()
	b.Type(directOwner, "java.lang.Object", introspect.ModPublic).
		Method("isValid", "boolean", nil, introspect.ModPublic|introspect.ModStatic)
	// The type key resolves but the method key fails at both tiers.
	h := newHarness(b.Build(), StaticHost("app"))
	h.controller.integration.Keys[1].Tiers[0] = symtab.Fixed(symtab.TierPrimary, query.MatchCriteria{Name: query.Equals("nothing")})

	out := h.controller.OnModuleLoad(context.Background())
	assert.Equal(t, "START>RESOLVING>DIRECT>DONE", out.Path())
	assert.Equal(t, []Tier{TierFingerprintPrimary, TierFingerprintHeuristic, TierDirectHardcoded}, out.Tiers)
	assert.Equal(t, []string{directOwner + "#isValid"}, out.Report.Targets(patch.ConstantOverride))
	assert.Len(t, out.Degradations, 1)
	assert.Nil(t, out.Table)
}

func TestPatternTierStopsAtFirstMatch(t *testing.T) {
	b := introspect.NewBuilder()
	b.Type("app.second.SplashModel", "java.lang.Object", introspect.ModPublic).
		Method("x", "boolean", nil, introspect.ModPublic).
		Method("y", "boolean", []string{"int"}, introspect.ModPublic)
	b.Type("app.third.SplashModel", "java.lang.Object", introspect.ModPublic).
		Method("z", "boolean", nil, introspect.ModPublic)
	h := newHarness(b.Build(), StaticHost("app"))

	out := h.controller.OnModuleLoad(context.Background())
	assert.Equal(t, "START>RESOLVING>DIRECT>PATTERN>DONE", out.Path())
	assert.Equal(t, "app.second", out.PatternPrefix)
	assert.Equal(t, []string{"app.second.SplashModel#x()boolean"}, out.Report.Targets(patch.BroadSurface))
	assert.Len(t, out.Degradations, 2)
}

func TestPatternTierSkipsAbstractTypes(t *testing.T) {
	b := introspect.NewBuilder()
	b.Type("app.first.SplashService", "java.lang.Object", introspect.ModPublic|introspect.ModInterface).
		Method("enabled", "boolean", nil, introspect.ModPublic|introspect.ModAbstract)
	b.Type("app.first.BaseSplash", "java.lang.Object", introspect.ModPublic|introspect.ModAbstract).
		Method("shown", "boolean", nil, introspect.ModPublic)
	b.Type("app.first.SplashImpl", "java.lang.Object", introspect.ModPublic).
		Method("enabled", "boolean", nil, introspect.ModPublic)
	h := newHarness(b.Build(), StaticHost("app"))

	out := h.controller.OnModuleLoad(context.Background())
	assert.Equal(t, "app.first", out.PatternPrefix)
	assert.Equal(t, []string{"app.first.SplashImpl#enabled()boolean"}, out.Report.Targets(patch.BroadSurface))
}

func TestCachedTableReportsBuildTiers(t *testing.T) {
	b := introspect.NewBuilder()
	b.Type("app.ui.splash.a", "java.lang.Object", introspect.ModPublic).
		Method("b", "boolean", nil, introspect.ModPublic).
		Fields(introspect.FieldRef{Owner: "app.ui.splash.a", Name: "c", Type: "long"})
	h := newHarness(b.Build(), StaticHost("app"))

	first := h.controller.OnModuleLoad(context.Background())
	searches := len(h.spy.searches)
	second := h.controller.OnModuleLoad(context.Background())

	assert.Equal(t, searches, len(h.spy.searches))
	assert.Equal(t, first.Tiers, second.Tiers)
	assert.Equal(t, []Tier{TierFingerprintPrimary, TierFingerprintHeuristic}, second.Tiers)
}

func TestFingerprintTiers(t *testing.T) {
	assert.Empty(t, fingerprintTiers(nil))
	assert.Equal(t, []Tier{TierFingerprintPrimary}, fingerprintTiers([]string{"primary", "primary"}))
	assert.Equal(t, []Tier{TierFingerprintPrimary, TierFingerprintHeuristic},
		fingerprintTiers([]string{"heuristic", "primary", "relaxed"}))
}

func TestAllTiersEmptyReachesDone(t *testing.T) {
	b := introspect.NewBuilder()
	b.Type("app.Main", "java.lang.Object", introspect.ModPublic).
		Method("run", "void", nil, introspect.ModPublic)
	h := newHarness(b.Build(), StaticHost("app"))

	var out Outcome
	require.NotPanics(t, func() { out = h.controller.OnModuleLoad(context.Background()) })
	assert.Equal(t, StateDone, out.Final())
	assert.Equal(t, []Tier{
		TierFingerprintPrimary,
		TierFingerprintHeuristic,
		TierDirectHardcoded,
		TierPatternEnumerated,
	}, out.Tiers)
	assert.False(t, out.Patched())
	assert.Empty(t, out.PatternPrefix)
	assert.Len(t, out.Degradations, 3)
	assert.Equal(t, 0, h.registry.Len())
}

func TestCancelledContextStopsDescent(t *testing.T) {
	h := newHarness(introspect.NewBuilder().Build(), StaticHost("app"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.controller.OnModuleLoad(ctx)
	assert.Equal(t, "START>RESOLVING>DONE", out.Path())
	assert.False(t, out.Visited(StateDirect))
}

type panickingHost struct{}

func (panickingHost) PackageName() string { panic("host gone") }

func TestPanicIsContained(t *testing.T) {
	h := newHarness(introspect.NewBuilder().Build(), panickingHost{})
	var out Outcome
	require.NotPanics(t, func() { out = h.controller.OnModuleLoad(context.Background()) })
	assert.Equal(t, StateDone, out.Final())
	assert.Len(t, out.Degradations, 1)
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "FINGERPRINT_PRIMARY", TierFingerprintPrimary.String())
	assert.Equal(t, "PATTERN_ENUMERATED", TierPatternEnumerated.String())
	assert.Equal(t, "UNKNOWN", Tier(42).String())
	b, err := TierDirectHardcoded.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "DIRECT_HARDCODED", string(b))
}
