package symtab

import (
	"reflect"
	"strings"
	"testing"

	"splashguard/internal/errors"
	"splashguard/internal/introspect"
	"splashguard/internal/query"
	"splashguard/internal/slogutil"
)

const testIntegration = "com.bstar.intl"

func obfuscatedSnapshot() introspect.Provider {
	b := introspect.NewBuilder()
	b.Type("com.bstar.intl.ui.splash.a", "java.lang.Object", introspect.ModPublic).
		Method("b", "boolean", nil, introspect.ModPublic).
		Fields(introspect.FieldRef{Owner: "com.bstar.intl.ui.splash.a", Name: "c", Type: "long"}).
		Method("d", "void", nil, introspect.ModPublic)
	b.Type("com.bstar.intl.ui.splash.e", "java.lang.Object", introspect.ModPublic).
		Method("f", "boolean", nil, introspect.ModPublic)
	return b.Build()
}

func namedSnapshot() introspect.Provider {
	b := introspect.NewBuilder()
	b.Type("com.bstar.intl.ui.splash.ad.model.Splash", "java.lang.Object", introspect.ModPublic).
		Method("isValid", "boolean", nil, introspect.ModPublic)
	b.Type("com.bstar.intl.ui.splash.SplashActivity", "android.app.Activity", introspect.ModPublic).
		Method("onCreate", "void", []string{"android.os.Bundle"}, introspect.ModProtected)
	return b.Build()
}

func testSpecs() []KeySpec {
	return []KeySpec{
		{
			Key:       SplashClass,
			Kind:      KindType,
			Mandatory: true,
			Tiers: []CriteriaTier{
				Fixed("primary", query.MatchCriteria{
					PackagePrefix:  "com.bstar.intl",
					Name:           query.Contains("Splash"),
					DeclaresMethod: &query.MatchCriteria{Name: query.Equals("isValid"), ReturnType: "boolean", ParamCount: query.Arity(0)},
				}),
				Fixed("heuristic", query.MatchCriteria{
					Name:           query.Contains(".splash"),
					DeclaresMethod: &query.MatchCriteria{ReturnType: "boolean", ParamCount: query.Arity(0), UsesFields: true},
				}),
			},
		},
		{
			Key:       IsValidMethod,
			Kind:      KindMethod,
			Mandatory: true,
			Tiers: []CriteriaTier{
				{Name: "primary", Criteria: func(r Resolved) (query.MatchCriteria, bool) {
					owner, ok := r.Owner(SplashClass)
					return query.MatchCriteria{DeclaringType: owner, Name: query.Equals("isValid"), ReturnType: "boolean", ParamCount: query.Arity(0)}, ok
				}},
				{Name: "heuristic", Criteria: func(r Resolved) (query.MatchCriteria, bool) {
					owner, ok := r.Owner(SplashClass)
					return query.MatchCriteria{DeclaringType: owner, ReturnType: "boolean", ParamCount: query.Arity(0), UsesFields: true}, ok
				}},
			},
		},
		{
			Key:  SplashActivity,
			Kind: KindType,
			Tiers: []CriteriaTier{
				Fixed("primary", query.MatchCriteria{Name: query.Contains("SplashActivity"), SuperType: query.Contains("Activity")}),
			},
		},
	}
}

func matcherFor(p introspect.Provider) *query.Matcher {
	return query.NewMatcher(p, slogutil.NewDiscardLogger())
}

func TestBuild_PrimaryTier(t *testing.T) {
	table, err := Build(testIntegration, 3, testSpecs(), matcherFor(namedSnapshot()))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if table.IntegrationID() != testIntegration || table.Version() != 3 {
		t.Errorf("unexpected table header: %s v%d", table.IntegrationID(), table.Version())
	}
	if table.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", table.Len())
	}

	cls, _ := table.Lookup(SplashClass)
	if cls != TypeIdentity("com.bstar.intl.ui.splash.ad.model.Splash") {
		t.Errorf("unexpected SPLASH_CLASS: %+v", cls)
	}
	m, _ := table.Lookup(IsValidMethod)
	if m.String() != "com.bstar.intl.ui.splash.ad.model.Splash#isValid()boolean" {
		t.Errorf("unexpected IS_VALID_METHOD: %s", m)
	}
	if table.Provenance(IsValidMethod) != "primary" {
		t.Errorf("expected primary provenance, got %q", table.Provenance(IsValidMethod))
	}
}

func TestBuild_HeuristicSelection(t *testing.T) {
	table, err := Build(testIntegration, 3, testSpecs(), matcherFor(obfuscatedSnapshot()))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	cls, ok := table.Lookup(SplashClass)
	if !ok || cls.Owner != "com.bstar.intl.ui.splash.a" {
		t.Errorf("expected heuristic to pick the field-reading type, got %+v", cls)
	}
	m, _ := table.Lookup(IsValidMethod)
	if m.Owner != "com.bstar.intl.ui.splash.a" || m.Member != "b" {
		t.Errorf("expected a#b, got %s", m)
	}
	if table.Provenance(SplashClass) != "heuristic" {
		t.Errorf("expected heuristic provenance, got %q", table.Provenance(SplashClass))
	}

	// Optional key without a match is omitted
	if _, ok := table.Lookup(SplashActivity); ok {
		t.Error("SPLASH_ACTIVITY should be absent")
	}
	if got := table.Keys(); !reflect.DeepEqual(got, []LogicalKey{IsValidMethod, SplashClass}) {
		t.Errorf("unexpected keys: %v", got)
	}
}

func TestBuild_NoPartialTable(t *testing.T) {
	b := introspect.NewBuilder()
	b.Type("com.bstar.intl.Main", "java.lang.Object", introspect.ModPublic).
		Method("run", "void", nil, introspect.ModPublic)

	table, err := Build(testIntegration, 3, testSpecs(), matcherFor(b.Build()))
	if table != nil {
		t.Fatal("expected no table on failure")
	}
	if !errors.HasCode(err, errors.ResolutionFailure) {
		t.Fatalf("expected RESOLUTION_FAILURE, got %v", err)
	}
	if key, _ := errors.FailedKey(err); key != string(SplashClass) {
		t.Errorf("expected failed key SPLASH_CLASS, got %q", key)
	}
}

func TestBuild_AttemptedTiers(t *testing.T) {
	table, err := Build(testIntegration, 3, testSpecs(), matcherFor(namedSnapshot()))
	if err != nil {
		t.Fatal(err)
	}
	if got := table.Attempted(); !reflect.DeepEqual(got, []string{"primary"}) {
		t.Errorf("Attempted() = %v, want [primary]", got)
	}

	table, err = Build(testIntegration, 3, testSpecs(), matcherFor(obfuscatedSnapshot()))
	if err != nil {
		t.Fatal(err)
	}
	if got := table.Attempted(); !reflect.DeepEqual(got, []string{"primary", "heuristic"}) {
		t.Errorf("Attempted() = %v, want [primary heuristic]", got)
	}

	restored, err := Restore(table.Record(), MandatoryKeys(testSpecs()))
	if err != nil {
		t.Fatal(err)
	}
	if got := restored.Attempted(); !reflect.DeepEqual(got, []string{"primary", "heuristic"}) {
		t.Errorf("restored Attempted() = %v", got)
	}
}

func TestBuild_OnQueryReportsFailedBuilds(t *testing.T) {
	var queried []string
	b := introspect.NewBuilder()
	b.Type("com.bstar.intl.Main", "java.lang.Object", introspect.ModPublic)

	_, err := Build(testIntegration, 3, testSpecs(), matcherFor(b.Build()),
		OnQuery(func(key LogicalKey, tier string) {
			queried = append(queried, string(key)+"/"+tier)
		}),
	)
	if err == nil {
		t.Fatal("expected a resolution failure")
	}
	// The dependent key is never queried once its owner fails.
	want := []string{"SPLASH_CLASS/primary", "SPLASH_CLASS/heuristic"}
	if !reflect.DeepEqual(queried, want) {
		t.Errorf("queried = %v, want %v", queried, want)
	}
}

func TestBuild_DependentKeyFails(t *testing.T) {
	// The type resolves, but nothing on it looks like the predicate.
	b := introspect.NewBuilder()
	b.Type("com.bstar.intl.ui.SplashHolder", "java.lang.Object", introspect.ModPublic).
		Method("isValid", "boolean", nil, introspect.ModPublic|introspect.ModStatic)

	specs := testSpecs()
	specs[1].Tiers = specs[1].Tiers[1:]
	_, err := Build(testIntegration, 3, specs, matcherFor(b.Build()))
	if key, ok := errors.FailedKey(err); !ok || key != string(IsValidMethod) {
		t.Fatalf("expected IS_VALID_METHOD failure, got %v", err)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	p := obfuscatedSnapshot()
	first, err := Build(testIntegration, 3, testSpecs(), matcherFor(p))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Build(testIntegration, 3, testSpecs(), matcherFor(p))
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first.Record(), again.Record()) {
			t.Fatalf("build %d differs from first", i)
		}
	}
}

func TestBuild_RejectsBadSpecs(t *testing.T) {
	m := matcherFor(namedSnapshot())

	_, err := Build(testIntegration, 1, []KeySpec{{Key: "F", Kind: KindField}}, m)
	if !errors.HasCode(err, errors.InternalError) {
		t.Errorf("expected INTERNAL_ERROR for field search, got %v", err)
	}

	dup := testSpecs()[:1]
	dup = append(dup, dup[0])
	_, err = Build(testIntegration, 1, dup, m)
	if !errors.HasCode(err, errors.InternalError) {
		t.Errorf("expected INTERNAL_ERROR for duplicate key, got %v", err)
	}
}

func TestTable_EntriesAreCopies(t *testing.T) {
	table, err := Build(testIntegration, 3, testSpecs(), matcherFor(namedSnapshot()))
	if err != nil {
		t.Fatal(err)
	}
	entries := table.Entries()
	entries[SplashClass] = TypeIdentity("mutated")
	delete(entries, IsValidMethod)

	if id, _ := table.Lookup(SplashClass); id.Owner == "mutated" {
		t.Error("table was mutated through Entries")
	}
	if table.Len() != 3 {
		t.Error("table lost an entry through Entries")
	}
}

func TestRestore(t *testing.T) {
	table, err := Build(testIntegration, 3, testSpecs(), matcherFor(namedSnapshot()))
	if err != nil {
		t.Fatal(err)
	}
	mandatory := MandatoryKeys(testSpecs())
	if !reflect.DeepEqual(mandatory, []LogicalKey{SplashClass, IsValidMethod}) {
		t.Fatalf("unexpected mandatory keys: %v", mandatory)
	}

	restored, err := Restore(table.Record(), mandatory)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !reflect.DeepEqual(restored.Record(), table.Record()) {
		t.Error("restored table differs")
	}

	t.Run("missing mandatory key", func(t *testing.T) {
		rec := table.Record()
		var kept []RecordEntry
		for _, e := range rec.Entries {
			if e.Key != IsValidMethod {
				kept = append(kept, e)
			}
		}
		rec.Entries = kept
		_, err := Restore(rec, mandatory)
		if key, _ := errors.FailedKey(err); key != string(IsValidMethod) {
			t.Errorf("expected IS_VALID_METHOD failure, got %v", err)
		}
	})

	t.Run("empty identity", func(t *testing.T) {
		rec := table.Record()
		rec.Entries[0].Identity = SymbolIdentity{}
		_, err := Restore(rec, mandatory)
		if !errors.HasCode(err, errors.SnapshotInvalid) {
			t.Errorf("expected SNAPSHOT_INVALID, got %v", err)
		}
	})

	t.Run("duplicate key", func(t *testing.T) {
		rec := table.Record()
		rec.Entries = append(rec.Entries, rec.Entries[0])
		_, err := Restore(rec, mandatory)
		if !errors.HasCode(err, errors.SnapshotInvalid) {
			t.Errorf("expected SNAPSHOT_INVALID, got %v", err)
		}
	})
}

func TestStableID(t *testing.T) {
	id := MethodIdentity("a.B", "c", "()boolean")
	if id.Fingerprint() != MethodIdentity("a.B", "c", "( ) boolean").Fingerprint() {
		t.Error("descriptor whitespace should not change the fingerprint")
	}
	if id.Fingerprint() == MethodIdentity("a.B", "d", "()boolean").Fingerprint() {
		t.Error("different members should not share a fingerprint")
	}

	sid := id.StableID("Com/Bstar:Intl")
	if !strings.HasPrefix(sid, "sg:com-bstar-intl:sym:") {
		t.Errorf("unexpected stable id: %s", sid)
	}
	if got := TypeIdentity("x").StableID(""); !strings.HasPrefix(got, "sg:unknown:sym:") {
		t.Errorf("expected unknown integration, got %s", got)
	}
	if !(SymbolIdentity{}).IsZero() || TypeIdentity("x").IsZero() {
		t.Error("IsZero mismatch")
	}
}
