package introspect

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"

	"splashguard/internal/dex"
)

// DefaultRefCacheSize bounds how many decoded method bodies DexProvider keeps.
const DefaultRefCacheSize = 4096

type dexMethod struct {
	file   *dex.File
	method dex.Method
}

// DexProvider serves structural metadata from parsed DEX files. Class and
// method tables are decoded up front; method bodies are decoded on first use
// and kept in an LRU cache.
type DexProvider struct {
	files   []*dex.File
	types   []TypeInfo
	byName  map[string]int
	methods map[string][]MethodInfo
	bodies  map[MethodRef]dexMethod
	refs    *lru.Cache[MethodRef, dex.CodeRefs]
	logger  *slog.Logger
}

var _ Provider = (*DexProvider)(nil)

// NewDexProvider indexes files in order. When several files define the same
// class the first definition wins, as with a class loader's dex path.
func NewDexProvider(files []*dex.File, cacheSize int, logger *slog.Logger) (*DexProvider, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultRefCacheSize
	}
	refs, err := lru.New[MethodRef, dex.CodeRefs](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create reference cache: %w", err)
	}

	p := &DexProvider{
		files:   files,
		byName:  map[string]int{},
		methods: map[string][]MethodInfo{},
		bodies:  map[MethodRef]dexMethod{},
		refs:    refs,
		logger:  logger,
	}

	for _, f := range files {
		classes, err := f.Classes()
		if err != nil {
			return nil, err
		}
		shadowed := 0
		for _, c := range classes {
			if _, dup := p.byName[c.Name]; dup {
				shadowed++
				continue
			}
			p.byName[c.Name] = len(p.types)
			p.types = append(p.types, TypeInfo{Name: c.Name, SuperName: c.SuperName, Modifiers: Modifier(c.AccessFlags)})

			infos := make([]MethodInfo, 0, len(c.Methods))
			for _, m := range c.Methods {
				info := MethodInfo{
					Owner:      c.Name,
					Name:       m.Name,
					ReturnType: m.ReturnType,
					ParamTypes: m.ParamTypes,
					Modifiers:  Modifier(m.AccessFlags),
				}
				infos = append(infos, info)
				p.bodies[info.Ref()] = dexMethod{file: f, method: m}
			}
			p.methods[c.Name] = infos
		}
		logger.Debug("Indexed dex file",
			"file", f.Name(),
			"classes", len(classes),
			"shadowed", shadowed,
		)
	}

	return p, nil
}

// ListLoadedTypes returns every type in load order.
func (p *DexProvider) ListLoadedTypes() []TypeInfo {
	return append([]TypeInfo(nil), p.types...)
}

// LookupType finds a type by name.
func (p *DexProvider) LookupType(name string) (TypeInfo, bool) {
	i, ok := p.byName[name]
	if !ok {
		return TypeInfo{}, false
	}
	return p.types[i], true
}

// ListDeclaredMethods returns the methods declared by typeName.
func (p *DexProvider) ListDeclaredMethods(typeName string) []MethodInfo {
	return cloneMethods(p.methods[typeName])
}

// ListReferencedStrings returns the literals referenced by m.
func (p *DexProvider) ListReferencedStrings(m MethodRef) []string {
	return append([]string(nil), p.codeRefs(m).Strings...)
}

// ListReferencedFields returns the fields referenced by m.
func (p *DexProvider) ListReferencedFields(m MethodRef) []FieldRef {
	raw := p.codeRefs(m).Fields
	out := make([]FieldRef, len(raw))
	for i, f := range raw {
		out[i] = FieldRef{Owner: f.Class, Name: f.Name, Type: f.Type}
	}
	return out
}

// codeRefs decodes a body once. A body that fails to decode is logged and
// treated as referencing nothing.
func (p *DexProvider) codeRefs(m MethodRef) dex.CodeRefs {
	if refs, ok := p.refs.Get(m); ok {
		return refs
	}
	body, ok := p.bodies[m]
	if !ok {
		return dex.CodeRefs{}
	}
	refs, err := body.file.References(body.method)
	if err != nil {
		p.logger.Warn("Failed to decode method body",
			"method", m.String(),
			"file", body.file.Name(),
			"error", err.Error(),
		)
		refs = dex.CodeRefs{}
	}
	p.refs.Add(m, refs)
	return refs
}

// Digest hashes the signatures of the indexed files in order.
func (p *DexProvider) Digest() string {
	h, _ := blake2b.New256(nil)
	for _, f := range p.files {
		h.Write([]byte(f.Signature()))
	}
	return hex.EncodeToString(h.Sum(nil))
}
