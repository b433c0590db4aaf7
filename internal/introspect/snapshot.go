package introspect

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Snapshot is an immutable in-memory Provider.
type Snapshot struct {
	types   []TypeInfo
	byName  map[string]int
	methods map[string][]MethodInfo
	strs    map[MethodRef][]string
	fields  map[MethodRef][]FieldRef
}

var _ Provider = (*Snapshot)(nil)

// ListLoadedTypes returns every type in load order.
func (s *Snapshot) ListLoadedTypes() []TypeInfo {
	return append([]TypeInfo(nil), s.types...)
}

// LookupType finds a type by name.
func (s *Snapshot) LookupType(name string) (TypeInfo, bool) {
	i, ok := s.byName[name]
	if !ok {
		return TypeInfo{}, false
	}
	return s.types[i], true
}

// ListDeclaredMethods returns the methods declared by typeName.
func (s *Snapshot) ListDeclaredMethods(typeName string) []MethodInfo {
	return cloneMethods(s.methods[typeName])
}

// ListReferencedStrings returns the literals referenced by m.
func (s *Snapshot) ListReferencedStrings(m MethodRef) []string {
	return append([]string(nil), s.strs[m]...)
}

// ListReferencedFields returns the fields referenced by m.
func (s *Snapshot) ListReferencedFields(m MethodRef) []FieldRef {
	return append([]FieldRef(nil), s.fields[m]...)
}

// Digest returns a content hash of the snapshot. Two snapshots with the same
// types, methods and references in the same order share a digest.
func (s *Snapshot) Digest() string {
	h, _ := blake2b.New256(nil)
	write := func(parts ...string) {
		for _, p := range parts {
			var n [4]byte
			binary.LittleEndian.PutUint32(n[:], uint32(len(p)))
			h.Write(n[:])
			h.Write([]byte(p))
		}
	}
	for _, t := range s.types {
		write("T", t.Name, t.SuperName, strconv.FormatUint(uint64(t.Modifiers), 16))
		for _, m := range s.methods[t.Name] {
			ref := m.Ref()
			write("M", ref.String(), strconv.FormatUint(uint64(m.Modifiers), 16))
			write(s.strs[ref]...)
			for _, f := range s.fields[ref] {
				write("F", f.Owner, f.Name, f.Type)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneMethods(in []MethodInfo) []MethodInfo {
	out := make([]MethodInfo, len(in))
	for i, m := range in {
		m.ParamTypes = append([]string(nil), m.ParamTypes...)
		out[i] = m
	}
	return out
}

// Builder assembles a Snapshot. Types are recorded in the order they are added.
type Builder struct {
	snap *Snapshot
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{snap: &Snapshot{
		byName:  map[string]int{},
		methods: map[string][]MethodInfo{},
		strs:    map[MethodRef][]string{},
		fields:  map[MethodRef][]FieldRef{},
	}}
}

// TypeBuilder adds methods to one type.
type TypeBuilder struct {
	b    *Builder
	name string
}

// MethodBuilder attaches references to one method.
type MethodBuilder struct {
	*TypeBuilder
	ref MethodRef
}

// Type adds a type. Re-adding an existing name keeps the first definition's
// super type and modifiers and returns a builder for it.
func (b *Builder) Type(name, super string, mods Modifier) *TypeBuilder {
	if _, ok := b.snap.byName[name]; !ok {
		b.snap.byName[name] = len(b.snap.types)
		b.snap.types = append(b.snap.types, TypeInfo{Name: name, SuperName: super, Modifiers: mods})
	}
	return &TypeBuilder{b: b, name: name}
}

// Method declares a method on the type.
func (t *TypeBuilder) Method(name, ret string, params []string, mods Modifier) *MethodBuilder {
	m := MethodInfo{Owner: t.name, Name: name, ReturnType: ret, ParamTypes: append([]string(nil), params...), Modifiers: mods}
	t.b.snap.methods[t.name] = append(t.b.snap.methods[t.name], m)
	return &MethodBuilder{TypeBuilder: t, ref: m.Ref()}
}

// Strings records string literals referenced by the method.
func (m *MethodBuilder) Strings(s ...string) *MethodBuilder {
	m.b.snap.strs[m.ref] = append(m.b.snap.strs[m.ref], s...)
	return m
}

// Fields records fields referenced by the method.
func (m *MethodBuilder) Fields(f ...FieldRef) *MethodBuilder {
	m.b.snap.fields[m.ref] = append(m.b.snap.fields[m.ref], f...)
	return m
}

// Build returns the snapshot. The builder must not be used afterwards.
func (b *Builder) Build() *Snapshot {
	s := b.snap
	b.snap = nil
	return s
}

// TypeNames returns the sorted names of all loaded types.
func TypeNames(p Provider) []string {
	types := p.ListLoadedTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Name
	}
	sort.Strings(names)
	return names
}
