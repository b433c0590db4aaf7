// Package introspect defines the read-only view of loaded code that the
// fingerprint matcher searches, plus two implementations: an in-memory
// Snapshot assembled by hand and a DexProvider backed by parsed DEX files.
package introspect

import (
	"strings"
)

// Modifier is a bit set of access flags. Bit values follow the DEX format.
type Modifier uint32

const (
	ModPublic      Modifier = 0x1
	ModPrivate     Modifier = 0x2
	ModProtected   Modifier = 0x4
	ModStatic      Modifier = 0x8
	ModFinal       Modifier = 0x10
	ModNative      Modifier = 0x100
	ModInterface   Modifier = 0x200
	ModAbstract    Modifier = 0x400
	ModSynthetic   Modifier = 0x1000
	ModConstructor Modifier = 0x10000
)

// Has reports whether every bit of want is set.
func (m Modifier) Has(want Modifier) bool {
	return m&want == want
}

// TypeInfo describes one loaded type.
type TypeInfo struct {
	Name      string   `json:"name"`
	SuperName string   `json:"superName,omitempty"`
	Modifiers Modifier `json:"modifiers"`
}

// Package returns the dotted package of the type, or "" for the default package.
func (t TypeInfo) Package() string {
	if i := strings.LastIndex(t.Name, "."); i >= 0 {
		return t.Name[:i]
	}
	return ""
}

// SimpleName returns the type name without its package.
func (t TypeInfo) SimpleName() string {
	return t.Name[len(t.Package())+boolToInt(t.Package() != ""):]
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// MethodRef identifies a method within the loaded code. Descriptor
// distinguishes overloads.
type MethodRef struct {
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
}

// String renders the reference as Owner#name(params)ret.
func (r MethodRef) String() string {
	return r.Owner + "#" + r.Name + r.Descriptor
}

// MethodInfo describes one declared method.
type MethodInfo struct {
	Owner      string   `json:"owner"`
	Name       string   `json:"name"`
	ReturnType string   `json:"returnType"`
	ParamTypes []string `json:"paramTypes,omitempty"`
	Modifiers  Modifier `json:"modifiers"`
}

// Ref returns the method's reference.
func (m MethodInfo) Ref() MethodRef {
	return MethodRef{Owner: m.Owner, Name: m.Name, Descriptor: MethodDescriptor(m.ReturnType, m.ParamTypes)}
}

// MethodDescriptor renders "(p1,p2)ret" using source-level type names.
func MethodDescriptor(ret string, params []string) string {
	return "(" + strings.Join(params, ",") + ")" + ret
}

// FieldRef identifies a field referenced by a method body.
type FieldRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

// Provider is the introspection surface over the currently loaded module.
// All methods are read-only. Unknown types or methods yield empty results.
type Provider interface {
	// ListLoadedTypes returns every loaded type in load order.
	ListLoadedTypes() []TypeInfo
	// LookupType finds a loaded type by its dotted name.
	LookupType(name string) (TypeInfo, bool)
	// ListDeclaredMethods returns the methods declared by a type in declaration order.
	ListDeclaredMethods(typeName string) []MethodInfo
	// ListReferencedStrings returns the string literals a method body loads.
	ListReferencedStrings(m MethodRef) []string
	// ListReferencedFields returns the fields a method body reads or writes.
	ListReferencedFields(m MethodRef) []FieldRef
}
