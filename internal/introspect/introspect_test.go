package introspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splashguard/internal/dex"
	"splashguard/internal/dex/dextest"
	"splashguard/internal/slogutil"
)

func sampleSnapshot() *Snapshot {
	b := NewBuilder()
	b.Type("a.b.Splash", "java.lang.Object", ModPublic).
		Method("isValid", "boolean", nil, ModPublic).
		Fields(FieldRef{Owner: "a.b.Splash", Name: "valid", Type: "boolean"}).
		Method("load", "void", []string{"java.lang.String"}, ModPublic).
		Strings("splash", "load")
	b.Type("a.Main", "", ModPublic)
	return b.Build()
}

func TestSnapshot_Lookup(t *testing.T) {
	s := sampleSnapshot()

	types := s.ListLoadedTypes()
	require.Len(t, types, 2)
	assert.Equal(t, "a.b.Splash", types[0].Name)

	ti, ok := s.LookupType("a.b.Splash")
	require.True(t, ok)
	assert.Equal(t, "a.b", ti.Package())
	assert.Equal(t, "Splash", ti.SimpleName())

	_, ok = s.LookupType("missing")
	assert.False(t, ok)

	main, _ := s.LookupType("a.Main")
	assert.Equal(t, "Main", main.SimpleName())
	assert.Equal(t, "Main", TypeInfo{Name: "Main"}.SimpleName())

	methods := s.ListDeclaredMethods("a.b.Splash")
	require.Len(t, methods, 2)
	assert.Equal(t, "a.b.Splash#isValid()boolean", methods[0].Ref().String())
	assert.Equal(t, []string{"splash", "load"}, s.ListReferencedStrings(methods[1].Ref()))
	assert.Len(t, s.ListReferencedFields(methods[0].Ref()), 1)
	assert.Empty(t, s.ListDeclaredMethods("missing"))
}

func TestSnapshot_ResultsAreCopies(t *testing.T) {
	s := sampleSnapshot()
	methods := s.ListDeclaredMethods("a.b.Splash")
	methods[1].ParamTypes[0] = "mutated"
	methods[0].Name = "mutated"

	again := s.ListDeclaredMethods("a.b.Splash")
	assert.Equal(t, "isValid", again[0].Name)
	assert.Equal(t, "java.lang.String", again[1].ParamTypes[0])
}

func TestSnapshot_Digest(t *testing.T) {
	a := sampleSnapshot().Digest()
	b := sampleSnapshot().Digest()
	assert.Equal(t, a, b)

	other := NewBuilder()
	other.Type("a.b.Splash", "java.lang.Object", ModPublic).
		Method("isValid", "boolean", nil, ModPublic)
	assert.NotEqual(t, a, other.Build().Digest())
}

func TestModifierHas(t *testing.T) {
	m := ModPublic | ModStatic
	assert.True(t, m.Has(ModPublic))
	assert.True(t, m.Has(ModPublic|ModStatic))
	assert.False(t, m.Has(ModFinal))
	assert.True(t, m.Has(0))
}

func TestDexProvider(t *testing.T) {
	first := dextest.NewBuilder()
	valid := first.Field("a.Splash", "valid", "boolean")
	first.Class("a.Splash", "java.lang.Object", dex.AccPublic).
		Method("isValid", "boolean", nil, dex.AccPublic,
			dextest.IGetBoolean(0, 1, valid), dextest.Return(0))

	second := dextest.NewBuilder()
	second.Class("a.Splash", "a.Other", dex.AccPublic).
		Method("shadow", "void", nil, dex.AccPublic)
	second.Class("a.Activity", "android.app.Activity", dex.AccPublic).
		Method("onCreate", "void", []string{"android.os.Bundle"}, dex.AccProtected,
			dextest.ConstString(0, second.String("splash")), dextest.ReturnVoid())

	f1, err := dex.Parse("classes.dex", first.Bytes())
	require.NoError(t, err)
	f2, err := dex.Parse("classes2.dex", second.Bytes())
	require.NoError(t, err)

	p, err := NewDexProvider([]*dex.File{f1, f2}, 2, slogutil.NewDiscardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"a.Activity", "a.Splash"}, TypeNames(p))

	splash, ok := p.LookupType("a.Splash")
	require.True(t, ok)
	assert.Equal(t, "java.lang.Object", splash.SuperName, "first definition wins")

	methods := p.ListDeclaredMethods("a.Splash")
	require.Len(t, methods, 1)
	assert.Equal(t, "isValid", methods[0].Name)

	fields := p.ListReferencedFields(methods[0].Ref())
	require.Len(t, fields, 1)
	assert.Equal(t, FieldRef{Owner: "a.Splash", Name: "valid", Type: "boolean"}, fields[0])
	// second lookup is served from the cache
	assert.Equal(t, fields, p.ListReferencedFields(methods[0].Ref()))

	onCreate := p.ListDeclaredMethods("a.Activity")[0]
	assert.Equal(t, []string{"splash"}, p.ListReferencedStrings(onCreate.Ref()))
	assert.Empty(t, p.ListReferencedStrings(MethodRef{Owner: "a.Activity", Name: "missing"}))

	digest := p.Digest()
	assert.Len(t, digest, 64)
	p2, err := NewDexProvider([]*dex.File{f1, f2}, 0, slogutil.NewDiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, digest, p2.Digest())
}
