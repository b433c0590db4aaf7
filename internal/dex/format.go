// Package dex reads Android DEX files into the structural metadata the
// matcher needs: classes, their declared methods, and the string literals
// and fields each method body references.
//
// Only the parts of the format that carry that metadata are decoded. See
// https://source.android.com/docs/core/runtime/dex-format for the layout.
package dex

const (
	headerSize     = 0x70
	endianConstant = 0x12345678
	reverseEndian  = 0x78563412

	// NoIndex marks an absent index (e.g. a class without a superclass).
	NoIndex = 0xffffffff
)

// Access flags relevant to matching.
const (
	AccPublic       uint32 = 0x1
	AccPrivate      uint32 = 0x2
	AccProtected    uint32 = 0x4
	AccStatic       uint32 = 0x8
	AccFinal        uint32 = 0x10
	AccSynchronized uint32 = 0x20
	AccBridge       uint32 = 0x40
	AccVarargs      uint32 = 0x80
	AccNative       uint32 = 0x100
	AccInterface    uint32 = 0x200
	AccAbstract     uint32 = 0x400
	AccSynthetic    uint32 = 0x1000
	AccEnum         uint32 = 0x4000
	AccConstructor  uint32 = 0x10000
)

// header mirrors header_item. Field order matters: it is filled with binary.Read.
type header struct {
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIdsSize uint32
	StringIdsOff  uint32
	TypeIdsSize   uint32
	TypeIdsOff    uint32
	ProtoIdsSize  uint32
	ProtoIdsOff   uint32
	FieldIdsSize  uint32
	FieldIdsOff   uint32
	MethodIdsSize uint32
	MethodIdsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// Fixed item sizes in the id sections.
const (
	stringIDSize = 4
	typeIDSize   = 4
	protoIDSize  = 12
	fieldIDSize  = 8
	methodIDSize = 8
	classDefSize = 32
	codeItemHead = 16
)
