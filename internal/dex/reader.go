package dex

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Class is one class_def_item with its declared methods.
type Class struct {
	Name        string // source-level name, e.g. com.bstar.intl.ui.splash.ad.model.Splash
	SuperName   string // empty for java.lang.Object and interfaces without a superclass
	AccessFlags uint32
	Methods     []Method // direct methods first, then virtual, in file order
}

// Method is one encoded_method of a class.
type Method struct {
	Class       string
	Name        string
	ReturnType  string
	ParamTypes  []string
	AccessFlags uint32

	codeOff uint32
}

// HasCode reports whether the method has a body (abstract and native methods do not).
func (m Method) HasCode() bool {
	return m.codeOff != 0
}

// FieldRef is a field_id_item as referenced by an instruction.
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

// String renders the reference as Class.name:Type.
func (f FieldRef) String() string {
	return f.Class + "." + f.Name + ":" + f.Type
}

// CodeRefs holds the literals and fields a method body references, in
// instruction order with duplicates removed.
type CodeRefs struct {
	Strings []string
	Fields  []FieldRef
}

// File is a parsed DEX image.
type File struct {
	data []byte
	hdr  header
	name string
}

// Parse validates the header of a DEX image. The remaining sections are
// decoded on demand.
func Parse(name string, data []byte) (*File, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%s: dex file too small (%d bytes)", name, len(data))
	}

	f := &File{data: data, name: name}
	if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &f.hdr); err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", name, err)
	}

	if !bytes.Equal(f.hdr.Magic[:4], []byte("dex\n")) || f.hdr.Magic[7] != 0 {
		return nil, fmt.Errorf("%s: invalid dex magic %q", name, f.hdr.Magic[:])
	}
	switch f.hdr.EndianTag {
	case endianConstant:
	case reverseEndian:
		return nil, fmt.Errorf("%s: big-endian dex files are not supported", name)
	default:
		return nil, fmt.Errorf("%s: invalid endian tag %#x", name, f.hdr.EndianTag)
	}

	sections := []struct {
		what       string
		off, count uint32
		size       uint32
	}{
		{"string_ids", f.hdr.StringIdsOff, f.hdr.StringIdsSize, stringIDSize},
		{"type_ids", f.hdr.TypeIdsOff, f.hdr.TypeIdsSize, typeIDSize},
		{"proto_ids", f.hdr.ProtoIdsOff, f.hdr.ProtoIdsSize, protoIDSize},
		{"field_ids", f.hdr.FieldIdsOff, f.hdr.FieldIdsSize, fieldIDSize},
		{"method_ids", f.hdr.MethodIdsOff, f.hdr.MethodIdsSize, methodIDSize},
		{"class_defs", f.hdr.ClassDefsOff, f.hdr.ClassDefsSize, classDefSize},
	}
	for _, s := range sections {
		end := uint64(s.off) + uint64(s.count)*uint64(s.size)
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("%s: %s section out of bounds", name, s.what)
		}
	}

	return f, nil
}

// Name returns the name the file was parsed under (e.g. classes2.dex).
func (f *File) Name() string {
	return f.name
}

// Signature returns the hex SHA-1 signature from the header.
func (f *File) Signature() string {
	return hex.EncodeToString(f.hdr.Signature[:])
}

// NumClasses returns the number of class definitions.
func (f *File) NumClasses() int {
	return int(f.hdr.ClassDefsSize)
}

func (f *File) u16(off uint32) (uint16, error) {
	if uint64(off)+2 > uint64(len(f.data)) {
		return 0, fmt.Errorf("read u16 at %#x: out of bounds", off)
	}
	return binary.LittleEndian.Uint16(f.data[off:]), nil
}

func (f *File) u32(off uint32) (uint32, error) {
	if uint64(off)+4 > uint64(len(f.data)) {
		return 0, fmt.Errorf("read u32 at %#x: out of bounds", off)
	}
	return binary.LittleEndian.Uint32(f.data[off:]), nil
}

// String returns the string at string_ids[idx].
func (f *File) String(idx uint32) (string, error) {
	if idx >= f.hdr.StringIdsSize {
		return "", fmt.Errorf("string index %d out of range", idx)
	}
	dataOff, err := f.u32(f.hdr.StringIdsOff + idx*stringIDSize)
	if err != nil {
		return "", err
	}

	c := cursor{data: f.data, pos: int(dataOff)}
	if _, err := c.uleb128(); err != nil { // utf16 length, unused
		return "", fmt.Errorf("string %d: %w", idx, err)
	}
	end := bytes.IndexByte(f.data[c.pos:], 0)
	if end < 0 {
		return "", fmt.Errorf("string %d: missing terminator", idx)
	}
	// MUTF-8 only differs from UTF-8 for NUL and supplementary characters,
	// neither of which appears in identifiers.
	return string(f.data[c.pos : c.pos+end]), nil
}

// typeDescriptor returns the raw descriptor at type_ids[idx].
func (f *File) typeDescriptor(idx uint32) (string, error) {
	if idx >= f.hdr.TypeIdsSize {
		return "", fmt.Errorf("type index %d out of range", idx)
	}
	strIdx, err := f.u32(f.hdr.TypeIdsOff + idx*typeIDSize)
	if err != nil {
		return "", err
	}
	return f.String(strIdx)
}

// TypeName returns the source-level name of type_ids[idx].
func (f *File) TypeName(idx uint32) (string, error) {
	desc, err := f.typeDescriptor(idx)
	if err != nil {
		return "", err
	}
	return JavaName(desc), nil
}

func (f *File) typeList(off uint32) ([]string, error) {
	if off == 0 {
		return nil, nil
	}
	size, err := f.u32(off)
	if err != nil {
		return nil, err
	}
	if uint64(off)+4+uint64(size)*2 > uint64(len(f.data)) {
		return nil, fmt.Errorf("type_list at %#x: %d entries overrun the file", off, size)
	}
	names := make([]string, 0, size)
	for i := uint32(0); i < size; i++ {
		idx, err := f.u16(off + 4 + i*2)
		if err != nil {
			return nil, err
		}
		name, err := f.TypeName(uint32(idx))
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (f *File) proto(idx uint32) (ret string, params []string, err error) {
	if idx >= f.hdr.ProtoIdsSize {
		return "", nil, fmt.Errorf("proto index %d out of range", idx)
	}
	base := f.hdr.ProtoIdsOff + idx*protoIDSize
	retIdx, err := f.u32(base + 4)
	if err != nil {
		return "", nil, err
	}
	paramsOff, err := f.u32(base + 8)
	if err != nil {
		return "", nil, err
	}
	if ret, err = f.TypeName(retIdx); err != nil {
		return "", nil, err
	}
	if params, err = f.typeList(paramsOff); err != nil {
		return "", nil, fmt.Errorf("proto %d parameters: %w", idx, err)
	}
	return ret, params, nil
}

// Field resolves field_ids[idx].
func (f *File) Field(idx uint32) (FieldRef, error) {
	if idx >= f.hdr.FieldIdsSize {
		return FieldRef{}, fmt.Errorf("field index %d out of range", idx)
	}
	base := f.hdr.FieldIdsOff + idx*fieldIDSize
	classIdx, err := f.u16(base)
	if err != nil {
		return FieldRef{}, err
	}
	typeIdx, err := f.u16(base + 2)
	if err != nil {
		return FieldRef{}, err
	}
	nameIdx, err := f.u32(base + 4)
	if err != nil {
		return FieldRef{}, err
	}

	var ref FieldRef
	if ref.Class, err = f.TypeName(uint32(classIdx)); err != nil {
		return FieldRef{}, err
	}
	if ref.Type, err = f.TypeName(uint32(typeIdx)); err != nil {
		return FieldRef{}, err
	}
	if ref.Name, err = f.String(nameIdx); err != nil {
		return FieldRef{}, err
	}
	return ref, nil
}

func (f *File) methodID(idx uint32) (Method, error) {
	if idx >= f.hdr.MethodIdsSize {
		return Method{}, fmt.Errorf("method index %d out of range", idx)
	}
	base := f.hdr.MethodIdsOff + idx*methodIDSize
	classIdx, err := f.u16(base)
	if err != nil {
		return Method{}, err
	}
	protoIdx, err := f.u16(base + 2)
	if err != nil {
		return Method{}, err
	}
	nameIdx, err := f.u32(base + 4)
	if err != nil {
		return Method{}, err
	}

	var m Method
	if m.Class, err = f.TypeName(uint32(classIdx)); err != nil {
		return Method{}, err
	}
	if m.Name, err = f.String(nameIdx); err != nil {
		return Method{}, err
	}
	if m.ReturnType, m.ParamTypes, err = f.proto(uint32(protoIdx)); err != nil {
		return Method{}, err
	}
	return m, nil
}

// Classes decodes every class definition in file order.
func (f *File) Classes() ([]Class, error) {
	classes := make([]Class, 0, f.hdr.ClassDefsSize)
	for i := uint32(0); i < f.hdr.ClassDefsSize; i++ {
		c, err := f.class(i)
		if err != nil {
			return nil, fmt.Errorf("%s: class_def %d: %w", f.name, i, err)
		}
		classes = append(classes, c)
	}
	return classes, nil
}

func (f *File) class(i uint32) (Class, error) {
	base := f.hdr.ClassDefsOff + i*classDefSize
	classIdx, err := f.u32(base)
	if err != nil {
		return Class{}, err
	}
	access, err := f.u32(base + 4)
	if err != nil {
		return Class{}, err
	}
	superIdx, err := f.u32(base + 8)
	if err != nil {
		return Class{}, err
	}
	dataOff, err := f.u32(base + 24)
	if err != nil {
		return Class{}, err
	}

	c := Class{AccessFlags: access}
	if c.Name, err = f.TypeName(classIdx); err != nil {
		return Class{}, err
	}
	if superIdx != NoIndex {
		if c.SuperName, err = f.TypeName(superIdx); err != nil {
			return Class{}, err
		}
	}
	if dataOff == 0 {
		return c, nil
	}
	if c.Methods, err = f.classMethods(dataOff); err != nil {
		return Class{}, fmt.Errorf("class %s: %w", c.Name, err)
	}
	return c, nil
}

// classMethods decodes the method lists of a class_data_item.
func (f *File) classMethods(off uint32) ([]Method, error) {
	c := cursor{data: f.data, pos: int(off)}

	var sizes [4]uint32
	for i := range sizes {
		v, err := c.uleb128()
		if err != nil {
			return nil, fmt.Errorf("class_data header: %w", err)
		}
		sizes[i] = v
	}
	staticFields, instanceFields, direct, virtual := sizes[0], sizes[1], sizes[2], sizes[3]

	for i := uint64(0); i < (uint64(staticFields)+uint64(instanceFields))*2; i++ {
		if _, err := c.uleb128(); err != nil {
			return nil, fmt.Errorf("encoded_field: %w", err)
		}
	}

	// Each encoded_method is at least three bytes.
	total := uint64(direct) + uint64(virtual)
	if total*3 > uint64(len(f.data)-c.pos) {
		return nil, fmt.Errorf("class_data at %#x: %d methods overrun the file", off, total)
	}
	methods := make([]Method, 0, total)
	for _, count := range []uint32{direct, virtual} {
		idx := uint32(0)
		for i := uint32(0); i < count; i++ {
			diff, err := c.uleb128()
			if err != nil {
				return nil, fmt.Errorf("encoded_method: %w", err)
			}
			access, err := c.uleb128()
			if err != nil {
				return nil, fmt.Errorf("encoded_method: %w", err)
			}
			codeOff, err := c.uleb128()
			if err != nil {
				return nil, fmt.Errorf("encoded_method: %w", err)
			}

			idx += diff
			m, err := f.methodID(idx)
			if err != nil {
				return nil, err
			}
			m.AccessFlags = access
			m.codeOff = codeOff
			methods = append(methods, m)
		}
	}
	return methods, nil
}

// References decodes the method body and collects the string literals and
// fields it references.
func (f *File) References(m Method) (CodeRefs, error) {
	if !m.HasCode() {
		return CodeRefs{}, nil
	}
	insnsSize, err := f.u32(m.codeOff + 12)
	if err != nil {
		return CodeRefs{}, fmt.Errorf("code_item of %s.%s: %w", m.Class, m.Name, err)
	}
	start := uint64(m.codeOff) + codeItemHead
	end := start + uint64(insnsSize)*2
	if end > uint64(len(f.data)) {
		return CodeRefs{}, fmt.Errorf("code_item of %s.%s: insns out of bounds", m.Class, m.Name)
	}

	insns := make([]uint16, insnsSize)
	for i := range insns {
		insns[i] = binary.LittleEndian.Uint16(f.data[start+uint64(i)*2:])
	}

	strIdx, fieldIdx, err := scanInstructions(insns)
	if err != nil {
		return CodeRefs{}, fmt.Errorf("code of %s.%s: %w", m.Class, m.Name, err)
	}

	var refs CodeRefs
	for _, idx := range strIdx {
		s, err := f.String(idx)
		if err != nil {
			return CodeRefs{}, err
		}
		refs.Strings = append(refs.Strings, s)
	}
	for _, idx := range fieldIdx {
		fr, err := f.Field(idx)
		if err != nil {
			return CodeRefs{}, err
		}
		refs.Fields = append(refs.Fields, fr)
	}
	return refs, nil
}

// cursor reads ULEB128 values from a byte slice.
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) uleb128() (uint32, error) {
	var result uint32
	for shift := uint(0); shift < 35; shift += 7 {
		if c.pos < 0 || c.pos >= len(c.data) {
			return 0, fmt.Errorf("uleb128 at %#x: out of bounds", c.pos)
		}
		b := c.data[c.pos]
		c.pos++
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, fmt.Errorf("uleb128 at %#x: too long", c.pos)
}
