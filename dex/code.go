package dex

import (
	"encoding/binary"
	"fmt"

	"github.com/lookbusy1344/dexlab/isa"
)

// CodeItem is a method body: its register/argument shape plus the ordered
// instruction stream, including any pseudo-instructions embedded at
// offsets other instructions branch to.
type CodeItem struct {
	RegistersSize int
	InsSize       int // number of registers occupied by incoming arguments
	OutsSize      int // number of outgoing-argument slots this body needs
	Instructions  []isa.Instruction
	// byOffset indexes Instructions by code-unit offset for O(1) branch
	// target resolution.
	byOffset map[int]int
}

// At returns the instruction whose Offset equals codeUnitOffset, if any.
func (c *CodeItem) At(codeUnitOffset int) (isa.Instruction, bool) {
	idx, ok := c.byOffset[codeUnitOffset]
	if !ok {
		return isa.Instruction{}, false
	}
	return c.Instructions[idx], true
}

// IndexAt returns the slice index of the instruction at codeUnitOffset.
func (c *CodeItem) IndexAt(codeUnitOffset int) (int, bool) {
	idx, ok := c.byOffset[codeUnitOffset]
	return idx, ok
}

func parseCodeItem(data []byte, off uint32) (*CodeItem, error) {
	if int(off)+16 > len(data) {
		return nil, fmt.Errorf("dex: code_item header truncated at offset %d", off)
	}
	registersSize := int(binary.LittleEndian.Uint16(data[off : off+2]))
	insSize := int(binary.LittleEndian.Uint16(data[off+2 : off+4]))
	outsSize := int(binary.LittleEndian.Uint16(data[off+4 : off+6]))
	// triesSize at off+6:off+8, debugInfoOff at off+8:off+12, skipped: the
	// decoder does not model line-number/debug data.
	insnsCount := binary.LittleEndian.Uint32(data[off+12 : off+16])

	insnsOff := off + 16
	units := make([]uint16, insnsCount)
	for i := uint32(0); i < insnsCount; i++ {
		p := insnsOff + i*2
		if int(p)+2 > len(data) {
			return nil, fmt.Errorf("dex: code_item insns truncated at unit %d", i)
		}
		units[i] = binary.LittleEndian.Uint16(data[p : p+2])
	}

	item := &CodeItem{
		RegistersSize: registersSize,
		InsSize:       insSize,
		OutsSize:      outsSize,
		byOffset:      make(map[int]int),
	}

	pos := 0
	for pos < len(units) {
		inst, err := isa.Decode(units[pos:], pos)
		if err != nil {
			// A malformed instruction inside code is tolerated at the
			// granularity of the whole method: surface the error to the
			// caller, who may keep the class as code-less rather than
			// fail the entire file.
			return nil, fmt.Errorf("dex: code_item decode failed at unit %d: %w", pos, err)
		}
		item.byOffset[inst.Offset] = len(item.Instructions)
		item.Instructions = append(item.Instructions, inst)
		if inst.Size <= 0 {
			return nil, fmt.Errorf("dex: instruction at unit %d has non-positive size", pos)
		}
		pos += inst.Size
	}

	return item, nil
}

// ValidateBranchTargets checks the decoder invariant that every
// fill-array-data/packed-switch/sparse-switch and if/goto target resolves
// to a real instruction offset in this body. A switch instruction's own
// case targets are relative to the switch opcode, not to the pseudo-data
// table it points at, so those are validated by SwitchCases (callers that
// walk live instructions, e.g. flow and vm, already have the referencing
// PC in hand).
func (c *CodeItem) ValidateBranchTargets() error {
	for _, inst := range c.Instructions {
		switch inst.Kind {
		case isa.KindGoto, isa.KindIfTestZ, isa.KindIfTest, isa.KindFillArrayData, isa.KindSwitch:
			target := inst.Offset + int(inst.BranchOffset)
			if _, ok := c.byOffset[target]; !ok {
				return fmt.Errorf("dex: branch at offset %d targets non-instruction offset %d", inst.Offset, target)
			}
		}
	}
	return nil
}

// SwitchCases resolves the (key, absolute target offset) table for a
// packed-switch or sparse-switch instruction, reading it from the
// pseudo-instruction payload at inst.Offset+inst.BranchOffset and
// translating each case's switch-relative target to an absolute offset.
func (c *CodeItem) SwitchCases(inst isa.Instruction) ([]isa.SwitchCase, error) {
	if inst.Kind != isa.KindSwitch {
		return nil, fmt.Errorf("dex: instruction at offset %d is not a switch", inst.Offset)
	}
	dataOffset := inst.Offset + int(inst.BranchOffset)
	data, ok := c.At(dataOffset)
	if !ok {
		return nil, fmt.Errorf("dex: switch at offset %d targets non-instruction offset %d", inst.Offset, dataOffset)
	}
	out := make([]isa.SwitchCase, len(data.SwitchTable))
	for i, sc := range data.SwitchTable {
		abs := inst.Offset + int(sc.Target)
		if _, ok := c.byOffset[abs]; !ok {
			return nil, fmt.Errorf("dex: switch case at offset %d targets non-instruction offset %d", inst.Offset, abs)
		}
		out[i] = isa.SwitchCase{Key: sc.Key, Target: abs}
	}
	return out, nil
}
