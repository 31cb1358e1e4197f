// Package isa decodes the Dalvik instruction set: one `Decode` call turns a
// stream of 16-bit code units into a tagged Instruction, faithfully typing
// each operand's width and signedness. It knows nothing about DEX pools or
// method bodies — dex.CodeItem drives it one instruction at a time and
// dex.Instruction's pool-backed lookups (name resolution etc.) stay in the
// dex package, consistent with "Instruction decoding is a large switch on
// the low byte of the opcode word and should live behind a single
// decode(...) function."
package isa

import "fmt"

// Op is the low-byte opcode discriminant for an instruction.
type Op byte

// Kind groups opcodes by operand shape so the VM and symbolic interpreter
// can dispatch without re-deriving the shape from the raw opcode byte.
type Kind int

const (
	KindUnknown Kind = iota
	KindNop
	KindMove
	KindReturn
	KindConst
	KindConstString
	KindConstClass
	KindMonitor
	KindCheckCast
	KindInstanceOf
	KindArrayLen
	KindNewInstance
	KindNewArray
	KindFilledNewArray
	KindFillArrayData
	KindThrow
	KindGoto
	KindSwitch
	KindCmp
	KindIfTest
	KindIfTestZ
	KindArrayOp
	KindInstanceFieldOp
	KindStaticFieldOp
	KindInvoke
	KindUnaryOp
	KindBinaryOp
	KindBinaryOpLit
	KindArrayDataPseudo
	KindPackedSwitchPseudo
	KindSparseSwitchPseudo
)

// Instruction is the decoded, tagged-union representation of one Dalvik
// opcode. Not every field is meaningful for every Op; Kind says which
// field group to read, mirroring the "tagged variant over the full opcode
// set" data model.
type Instruction struct {
	Op     Op
	Name   string // mnemonic, e.g. "add-int/2addr"; empty for pseudo-instructions
	Kind   Kind
	Size   int // size in 16-bit code units, including this instruction's own header
	Offset int // offset in code units from the start of the method body

	// Register operands, meaning depends on Kind.
	A, B, C int32
	// Literal operand (const-* values, binop/lit constants, packed-switch
	// first key); branch offsets are held in BranchOffset.
	Lit int64

	// ArgRegisters holds the ordered argument registers for invoke-* and
	// filled-new-array forms; for /range forms it is synthesised from the
	// (first register, count) pair.
	ArgRegisters []int32

	// PoolIndex is the method/field/string/type pool index this opcode
	// references, for the opcodes that reference a pool at all.
	PoolIndex uint32

	// BranchOffset is the signed code-unit displacement for goto/if-*.
	BranchOffset int32

	// SwitchTable holds (key -> branch offset) pairs for packed/sparse
	// switch pseudo-instructions.
	SwitchTable []SwitchCase

	// ArrayData holds the raw element bytes for a fill-array-data pseudo.
	ArrayData     []byte
	ArrayElemSize int
}

// SwitchCase is one entry of a packed- or sparse-switch table.
type SwitchCase struct {
	Key    int32
	Target int32 // offset in code units, relative to the switch instruction
}

// Decode reads one instruction (or pseudo-instruction) starting at units[0],
// returning the consumed instruction. units must contain at least the
// instruction's full length; callers size the slice from the method body
// remaining before calling.
func Decode(units []uint16, offset int) (Instruction, error) {
	if len(units) == 0 {
		return Instruction{}, fmt.Errorf("isa: empty instruction stream at offset %d", offset)
	}
	opByte := byte(units[0] & 0xFF)
	highByte := byte(units[0] >> 8)

	if opByte == 0x00 && highByte != 0x00 {
		inst, err := decodePseudo(units, offset, highByte)
		if err != nil {
			return Instruction{}, err
		}
		inst.Offset = offset
		return inst, nil
	}

	dec, ok := table[Op(opByte)]
	if !ok {
		return Instruction{}, fmt.Errorf("isa: unknown opcode 0x%02x at offset %d", opByte, offset)
	}
	inst, err := dec(units, offset)
	if err != nil {
		return Instruction{}, err
	}
	inst.Op = Op(opByte)
	inst.Offset = offset
	inst.Name = mnemonics[Op(opByte)]
	return inst, nil
}

func decodePseudo(units []uint16, offset int, highByte byte) (Instruction, error) {
	switch highByte {
	case 0x01: // packed-switch-data
		return decodePackedSwitch(units, offset)
	case 0x02: // sparse-switch-data
		return decodeSparseSwitch(units, offset)
	case 0x03: // fill-array-data
		return decodeFillArrayData(units, offset)
	default:
		return Instruction{}, fmt.Errorf("isa: unknown pseudo-opcode ident 0x%02x at offset %d", highByte, offset)
	}
}

func decodePackedSwitch(units []uint16, offset int) (Instruction, error) {
	if len(units) < 2 {
		return Instruction{}, fmt.Errorf("isa: truncated packed-switch-data at offset %d", offset)
	}
	size := int(units[1])
	need := 4 + size*2
	if len(units) < need {
		return Instruction{}, fmt.Errorf("isa: packed-switch-data table overruns buffer at offset %d", offset)
	}
	first := int32(uint32(units[2]) | uint32(units[3])<<16)
	cases := make([]SwitchCase, size)
	for i := 0; i < size; i++ {
		lo := units[4+i*2]
		hi := units[5+i*2]
		cases[i] = SwitchCase{Key: first + int32(i), Target: int32(uint32(lo) | uint32(hi)<<16)}
	}
	return Instruction{Kind: KindArrayDataPseudo, Size: need, SwitchTable: cases,
		Lit: int64(first)}.withKind(KindPackedSwitchPseudo), nil
}

func decodeSparseSwitch(units []uint16, offset int) (Instruction, error) {
	if len(units) < 2 {
		return Instruction{}, fmt.Errorf("isa: truncated sparse-switch-data at offset %d", offset)
	}
	size := int(units[1])
	need := 2 + size*4
	if len(units) < need {
		return Instruction{}, fmt.Errorf("isa: sparse-switch-data table overruns buffer at offset %d", offset)
	}
	keys := make([]int32, size)
	for i := 0; i < size; i++ {
		lo := units[2+i*2]
		hi := units[3+i*2]
		keys[i] = int32(uint32(lo) | uint32(hi)<<16)
	}
	targets := make([]int32, size)
	base := 2 + size*2
	for i := 0; i < size; i++ {
		lo := units[base+i*2]
		hi := units[base+1+i*2]
		targets[i] = int32(uint32(lo) | uint32(hi)<<16)
	}
	cases := make([]SwitchCase, size)
	for i := range cases {
		cases[i] = SwitchCase{Key: keys[i], Target: targets[i]}
	}
	return Instruction{Kind: KindSparseSwitchPseudo, Size: need, SwitchTable: cases}, nil
}

func decodeFillArrayData(units []uint16, offset int) (Instruction, error) {
	if len(units) < 4 {
		return Instruction{}, fmt.Errorf("isa: truncated fill-array-data at offset %d", offset)
	}
	elemWidth := int(units[1])
	elemCount := int(uint32(units[2]) | uint32(units[3])<<16)
	dataUnits := (elemWidth*elemCount + 1) / 2
	need := 4 + dataUnits
	if len(units) < need {
		return Instruction{}, fmt.Errorf("isa: fill-array-data payload overruns buffer at offset %d", offset)
	}
	raw := make([]byte, elemWidth*elemCount)
	for i := 0; i < elemWidth*elemCount; i++ {
		u := units[4+i/2]
		if i%2 == 0 {
			raw[i] = byte(u)
		} else {
			raw[i] = byte(u >> 8)
		}
	}
	return Instruction{Kind: KindArrayDataPseudo, Size: need, ArrayData: raw, ArrayElemSize: elemWidth}, nil
}

func (i Instruction) withKind(k Kind) Instruction {
	i.Kind = k
	return i
}

// String renders a best-effort disassembly line; it does not resolve pool
// indices to names (that requires the owning dex.File) but is useful for
// logs and test failure messages.
func (i Instruction) String() string {
	switch i.Kind {
	case KindConst:
		return fmt.Sprintf("const v%d, #%d", i.A, i.Lit)
	case KindGoto:
		return fmt.Sprintf("goto %+d", i.BranchOffset)
	case KindIfTestZ:
		return fmt.Sprintf("if-testz v%d, %+d", i.A, i.BranchOffset)
	case KindIfTest:
		return fmt.Sprintf("if-test v%d, v%d, %+d", i.A, i.B, i.BranchOffset)
	case KindInvoke:
		return fmt.Sprintf("invoke {%v}, method@%d", i.ArgRegisters, i.PoolIndex)
	case KindReturn:
		return fmt.Sprintf("return v%d", i.A)
	default:
		return fmt.Sprintf("op(0x%02x)", byte(i.Op))
	}
}
