package dex

import "fmt"

const (
	opNop             = 0x00
	opConstString     = 0x1a
	opConstStringJumb = 0x1b
	opIgetFirst       = 0x52 // iget .. iput-short, format 22c
	opIputLast        = 0x5f
	opSgetFirst       = 0x60 // sget .. sput-short, format 21c
	opSputLast        = 0x6d

	packedSwitchPayload = 0x0100
	sparseSwitchPayload = 0x0200
	fillArrayPayload    = 0x0300
)

// insnWidth is the size in 16-bit code units of every opcode.
var insnWidth [256]uint8

func init() {
	set := func(lo, hi int, w uint8) {
		for op := lo; op <= hi; op++ {
			insnWidth[op] = w
		}
	}
	set(0x00, 0xff, 1)    // default: 10x/11x/12x/11n and unused
	set(0x02, 0x02, 2)    // move/from16
	set(0x03, 0x03, 3)    // move/16
	set(0x05, 0x05, 2)    // move-wide/from16
	set(0x06, 0x06, 3)    // move-wide/16
	set(0x08, 0x08, 2)    // move-object/from16
	set(0x09, 0x09, 3)    // move-object/16
	set(0x13, 0x13, 2)    // const/16
	set(0x14, 0x14, 3)    // const
	set(0x15, 0x16, 2)    // const/high16, const-wide/16
	set(0x17, 0x17, 3)    // const-wide/32
	set(0x18, 0x18, 5)    // const-wide
	set(0x19, 0x1a, 2)    // const-wide/high16, const-string
	set(0x1b, 0x1b, 3)    // const-string/jumbo
	set(0x1c, 0x1c, 2)    // const-class
	set(0x1f, 0x20, 2)    // check-cast, instance-of
	set(0x22, 0x23, 2)    // new-instance, new-array
	set(0x24, 0x26, 3)    // filled-new-array{,/range}, fill-array-data
	set(0x29, 0x29, 2)    // goto/16
	set(0x2a, 0x2c, 3)    // goto/32, packed-switch, sparse-switch
	set(0x2d, 0x3d, 2)    // cmpkind, if-test, if-testz
	set(0x44, 0x6d, 2)    // arrayop, iinstanceop, sstaticop
	set(0x6e, 0x72, 3)    // invoke-kind
	set(0x74, 0x78, 3)    // invoke-kind/range
	set(0x90, 0xaf, 2)    // binop
	set(0xd0, 0xe2, 2)    // binop/lit16, binop/lit8
	set(0xfa, 0xfb, 4)    // invoke-polymorphic{,/range}
	set(0xfc, 0xfd, 3)    // invoke-custom{,/range}
	set(0xfe, 0xff, 2)    // const-method-handle, const-method-type
}

// scanInstructions walks a method's code units and returns the string and
// field indices it references, each in first-seen order without duplicates.
func scanInstructions(insns []uint16) (strIdx, fieldIdx []uint32, err error) {
	seenStr := map[uint32]bool{}
	seenField := map[uint32]bool{}
	addStr := func(i uint32) {
		if !seenStr[i] {
			seenStr[i] = true
			strIdx = append(strIdx, i)
		}
	}
	addField := func(i uint32) {
		if !seenField[i] {
			seenField[i] = true
			fieldIdx = append(fieldIdx, i)
		}
	}

	for pc := 0; pc < len(insns); {
		unit := insns[pc]
		op := unit & 0xff

		width := int(insnWidth[op])
		if op == opNop && unit != opNop {
			w, perr := payloadWidth(insns, pc)
			if perr != nil {
				return nil, nil, perr
			}
			width = w
		}
		if pc+width > len(insns) {
			return nil, nil, fmt.Errorf("instruction %#02x at pc %d runs past end of code", op, pc)
		}

		switch {
		case op == opConstString:
			addStr(uint32(insns[pc+1]))
		case op == opConstStringJumb:
			addStr(uint32(insns[pc+1]) | uint32(insns[pc+2])<<16)
		case op >= opIgetFirst && op <= opIputLast, op >= opSgetFirst && op <= opSputLast:
			addField(uint32(insns[pc+1]))
		}

		pc += width
	}
	return strIdx, fieldIdx, nil
}

// payloadWidth returns the size of the switch/array payload pseudo-instruction at pc.
func payloadWidth(insns []uint16, pc int) (int, error) {
	need := func(n int) error {
		if pc+n > len(insns) {
			return fmt.Errorf("payload at pc %d truncated", pc)
		}
		return nil
	}

	switch insns[pc] {
	case packedSwitchPayload:
		if err := need(2); err != nil {
			return 0, err
		}
		size := int(insns[pc+1])
		return 4 + size*2, nil
	case sparseSwitchPayload:
		if err := need(2); err != nil {
			return 0, err
		}
		size := int(insns[pc+1])
		return 2 + size*4, nil
	case fillArrayPayload:
		if err := need(4); err != nil {
			return 0, err
		}
		elemWidth := int(insns[pc+1])
		size := int(uint32(insns[pc+2]) | uint32(insns[pc+3])<<16)
		return 4 + (size*elemWidth+1)/2, nil
	default:
		return 0, fmt.Errorf("unknown payload %#04x at pc %d", insns[pc], pc)
	}
}
