// Package dextest assembles small, well-formed DEX images for tests.
//
// The images carry every section the dex reader decodes (ids, class defs,
// class data and code items). They omit the map list and checksum, which
// the reader does not consult.
package dextest

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"sort"
	"strings"
	"unicode/utf16"

	"splashguard/internal/dex"
)

// Builder accumulates ids and class definitions.
type Builder struct {
	strs    []string
	strIdx  map[string]uint32
	types   []uint32
	typeIdx map[string]uint32
	protos  []protoID
	protoIx map[string]uint32
	fields  []memberID
	fieldIx map[string]uint32
	methods []memberID
	methIx  map[string]uint32
	classes []*Class
}

type protoID struct {
	shorty uint32
	ret    uint32
	params []uint32
}

type memberID struct {
	class uint16
	mid   uint16 // type idx for fields, proto idx for methods
	name  uint32
}

// Class is a class definition under construction.
type Class struct {
	b       *Builder
	typeIdx uint32
	super   uint32
	access  uint32
	direct  []methodDef
	virtual []methodDef
}

type methodDef struct {
	idx    uint32
	access uint32
	code   []uint16
	noCode bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		strIdx:  map[string]uint32{},
		typeIdx: map[string]uint32{},
		protoIx: map[string]uint32{},
		fieldIx: map[string]uint32{},
		methIx:  map[string]uint32{},
	}
}

// String interns s and returns its string index.
func (b *Builder) String(s string) uint32 {
	if i, ok := b.strIdx[s]; ok {
		return i
	}
	i := uint32(len(b.strs))
	b.strs = append(b.strs, s)
	b.strIdx[s] = i
	return i
}

// Type interns a source-level type name and returns its type index.
func (b *Builder) Type(name string) uint32 {
	desc := dex.Descriptor(name)
	if i, ok := b.typeIdx[desc]; ok {
		return i
	}
	i := uint32(len(b.types))
	b.types = append(b.types, b.String(desc))
	b.typeIdx[desc] = i
	return i
}

func (b *Builder) proto(ret string, params []string) uint32 {
	key := ret + "(" + strings.Join(params, ",") + ")"
	if i, ok := b.protoIx[key]; ok {
		return i
	}
	shorty := shortyOf(ret)
	p := protoID{ret: b.Type(ret)}
	for _, param := range params {
		shorty += shortyOf(param)
		p.params = append(p.params, b.Type(param))
	}
	p.shorty = b.String(shorty)

	i := uint32(len(b.protos))
	b.protos = append(b.protos, p)
	b.protoIx[key] = i
	return i
}

func shortyOf(name string) string {
	d := dex.Descriptor(name)
	if d[0] == 'L' || d[0] == '[' {
		return "L"
	}
	return d
}

// Field interns a field reference and returns its field index.
func (b *Builder) Field(class, name, typ string) uint32 {
	key := class + "." + name + ":" + typ
	if i, ok := b.fieldIx[key]; ok {
		return i
	}
	id := memberID{class: uint16(b.Type(class)), mid: uint16(b.Type(typ)), name: b.String(name)}
	i := uint32(len(b.fields))
	b.fields = append(b.fields, id)
	b.fieldIx[key] = i
	return i
}

// MethodRef interns a method reference and returns its method index.
func (b *Builder) MethodRef(class, name, ret string, params ...string) uint32 {
	key := class + "." + name + ret + "(" + strings.Join(params, ",") + ")"
	if i, ok := b.methIx[key]; ok {
		return i
	}
	id := memberID{class: uint16(b.Type(class)), mid: uint16(b.proto(ret, params)), name: b.String(name)}
	i := uint32(len(b.methods))
	b.methods = append(b.methods, id)
	b.methIx[key] = i
	return i
}

// Class starts a class definition. An empty super means no superclass.
func (b *Builder) Class(name, super string, access uint32) *Class {
	c := &Class{b: b, typeIdx: b.Type(name), super: dex.NoIndex, access: access}
	if super != "" {
		c.super = b.Type(super)
	}
	b.classes = append(b.classes, c)
	return c
}

// Method declares a method with a body. Static, private and constructor
// methods go to the direct list, the rest to the virtual list.
func (c *Class) Method(name, ret string, params []string, access uint32, code ...[]uint16) *Class {
	var insns []uint16
	for _, part := range code {
		insns = append(insns, part...)
	}
	if len(insns) == 0 {
		insns = ReturnVoid()
	}
	return c.add(name, ret, params, access, methodDef{access: access, code: insns})
}

// Abstract declares a method without a code item.
func (c *Class) Abstract(name, ret string, params []string, access uint32) *Class {
	return c.add(name, ret, params, access|dex.AccAbstract, methodDef{access: access | dex.AccAbstract, noCode: true})
}

func (c *Class) add(name, ret string, params []string, access uint32, def methodDef) *Class {
	className := dex.JavaName(c.b.strs[c.b.types[c.typeIdx]])
	def.idx = c.b.MethodRef(className, name, ret, params...)
	if access&(dex.AccStatic|dex.AccPrivate|dex.AccConstructor) != 0 {
		c.direct = append(c.direct, def)
	} else {
		c.virtual = append(c.virtual, def)
	}
	return c
}

// Bytes lays out the image.
func (b *Builder) Bytes() []byte {
	stringIdsOff := uint32(0x70)
	typeIdsOff := stringIdsOff + 4*uint32(len(b.strs))
	protoIdsOff := typeIdsOff + 4*uint32(len(b.types))
	fieldIdsOff := protoIdsOff + 12*uint32(len(b.protos))
	methodIdsOff := fieldIdsOff + 8*uint32(len(b.fields))
	classDefsOff := methodIdsOff + 8*uint32(len(b.methods))
	dataOff := classDefsOff + 32*uint32(len(b.classes))

	var data bytes.Buffer
	at := func() uint32 { return dataOff + uint32(data.Len()) }
	align4 := func() {
		for at()%4 != 0 {
			data.WriteByte(0)
		}
	}
	le16 := func(v uint16) { _ = binary.Write(&data, binary.LittleEndian, v) }
	le32 := func(v uint32) { _ = binary.Write(&data, binary.LittleEndian, v) }

	strOffs := make([]uint32, len(b.strs))
	for i, s := range b.strs {
		strOffs[i] = at()
		data.Write(uleb128(uint32(len(utf16.Encode([]rune(s))))))
		data.WriteString(s)
		data.WriteByte(0)
	}

	paramOffs := make([]uint32, len(b.protos))
	for i, p := range b.protos {
		if len(p.params) == 0 {
			continue
		}
		align4()
		paramOffs[i] = at()
		le32(uint32(len(p.params)))
		for _, t := range p.params {
			le16(uint16(t))
		}
	}

	codeOffs := map[*Class][2][]uint32{}
	for _, c := range b.classes {
		var offs [2][]uint32
		for li, list := range [][]methodDef{c.sorted(c.direct), c.sorted(c.virtual)} {
			for _, m := range list {
				if m.noCode {
					offs[li] = append(offs[li], 0)
					continue
				}
				align4()
				offs[li] = append(offs[li], at())
				le16(8) // registers_size
				le16(0) // ins_size
				le16(0) // outs_size
				le16(0) // tries_size
				le32(0) // debug_info_off
				le32(uint32(len(m.code)))
				for _, u := range m.code {
					le16(u)
				}
			}
		}
		codeOffs[c] = offs
	}

	classDataOffs := make([]uint32, len(b.classes))
	for i, c := range b.classes {
		classDataOffs[i] = at()
		offs := codeOffs[c]
		direct, virtual := c.sorted(c.direct), c.sorted(c.virtual)
		data.Write(uleb128(0))
		data.Write(uleb128(0))
		data.Write(uleb128(uint32(len(direct))))
		data.Write(uleb128(uint32(len(virtual))))
		for li, list := range [][]methodDef{direct, virtual} {
			prev := uint32(0)
			for mi, m := range list {
				data.Write(uleb128(m.idx - prev))
				data.Write(uleb128(m.access))
				data.Write(uleb128(offs[li][mi]))
				prev = m.idx
			}
		}
	}

	var out bytes.Buffer
	w16 := func(v uint16) { _ = binary.Write(&out, binary.LittleEndian, v) }
	w32 := func(v uint32) { _ = binary.Write(&out, binary.LittleEndian, v) }

	out.Write([]byte("dex\n035\x00"))
	// checksum, then the signature which is patched in below
	w32(0)
	out.Write(make([]byte, 20))
	fileSize := dataOff + uint32(data.Len())
	w32(fileSize)
	w32(0x70)
	w32(0x12345678)
	w32(0) // link_size
	w32(0) // link_off
	w32(0) // map_off
	for _, sec := range [][2]uint32{
		{uint32(len(b.strs)), stringIdsOff},
		{uint32(len(b.types)), typeIdsOff},
		{uint32(len(b.protos)), protoIdsOff},
		{uint32(len(b.fields)), fieldIdsOff},
		{uint32(len(b.methods)), methodIdsOff},
		{uint32(len(b.classes)), classDefsOff},
		{uint32(data.Len()), dataOff},
	} {
		w32(sec[0])
		w32(sec[1])
	}

	for _, off := range strOffs {
		w32(off)
	}
	for _, s := range b.types {
		w32(s)
	}
	for i, p := range b.protos {
		w32(p.shorty)
		w32(p.ret)
		w32(paramOffs[i])
	}
	for _, f := range b.fields {
		w16(f.class)
		w16(f.mid)
		w32(f.name)
	}
	for _, m := range b.methods {
		w16(m.class)
		w16(m.mid)
		w32(m.name)
	}
	for i, c := range b.classes {
		w32(c.typeIdx)
		w32(c.access)
		w32(c.super)
		// interfaces_off, source_file_idx, annotations_off
		w32(0)
		w32(dex.NoIndex)
		w32(0)
		w32(classDataOffs[i])
		// static_values_off
		w32(0)
	}
	out.Write(data.Bytes())

	img := out.Bytes()
	sig := sha1.Sum(img[32:])
	copy(img[12:32], sig[:])
	return img
}

func (c *Class) sorted(list []methodDef) []methodDef {
	out := append([]methodDef(nil), list...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].idx < out[j].idx })
	return out
}

func uleb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

// ConstString encodes const-string vAA, string@BBBB.
func ConstString(reg uint8, str uint32) []uint16 {
	return []uint16{0x1a | uint16(reg)<<8, uint16(str)}
}

// ConstStringJumbo encodes const-string/jumbo vAA, string@BBBBBBBB.
func ConstStringJumbo(reg uint8, str uint32) []uint16 {
	return []uint16{0x1b | uint16(reg)<<8, uint16(str), uint16(str >> 16)}
}

// Const4 encodes const/4 vA, #+B.
func Const4(reg, val uint8) []uint16 {
	return []uint16{0x12 | uint16(reg&0xf)<<8 | uint16(val&0xf)<<12}
}

// IGetBoolean encodes iget-boolean vA, vB, field@CCCC.
func IGetBoolean(dst, obj uint8, field uint32) []uint16 {
	return []uint16{0x55 | uint16(dst&0xf)<<8 | uint16(obj&0xf)<<12, uint16(field)}
}

// SGetObject encodes sget-object vAA, field@BBBB.
func SGetObject(dst uint8, field uint32) []uint16 {
	return []uint16{0x62 | uint16(dst)<<8, uint16(field)}
}

// InvokeVirtual encodes invoke-virtual {vC}, meth@BBBB with one argument.
func InvokeVirtual(method uint32, this uint8) []uint16 {
	return []uint16{0x6e | 1<<12, uint16(method), uint16(this & 0xf)}
}

// PackedSwitchPayload encodes a packed-switch-payload with the given number of targets.
func PackedSwitchPayload(targets int) []uint16 {
	out := []uint16{0x0100, uint16(targets), 0, 0}
	return append(out, make([]uint16, targets*2)...)
}

// Return encodes return vAA.
func Return(reg uint8) []uint16 {
	return []uint16{0x0f | uint16(reg)<<8}
}

// ReturnVoid encodes return-void.
func ReturnVoid() []uint16 {
	return []uint16{0x0e}
}
