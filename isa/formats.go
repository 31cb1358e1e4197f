package isa

import "fmt"

// decodeFunc decodes one instruction given its code units (inst.Size units
// or more) and its offset; it returns the instruction with Size populated
// but Op/Offset left for the caller to fill in.
type decodeFunc func(units []uint16, offset int) (Instruction, error)

func need(units []uint16, n int, offset int) error {
	if len(units) < n {
		return fmt.Errorf("isa: truncated instruction at offset %d (need %d units, have %d)", offset, n, len(units))
	}
	return nil
}

// format10x: op only, no operands (nop, return-void).
func format10x(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		return Instruction{Kind: kind, Size: 1}, nil
	}
}

// format11x: op vAA (return, throw, monitor-enter/exit).
func format11x(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		return Instruction{Kind: kind, Size: 1, A: int32(units[0] >> 8)}, nil
	}
}

// format12x: op vA, vB (move, array-length, unops, binop/2addr).
func format12x(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		b := units[0] >> 8
		return Instruction{Kind: kind, Size: 1, A: int32(b & 0x0F), B: int32(b >> 4)}, nil
	}
}

// format11n: op vA, #+B (const/4), 4-bit signed literal.
func format11n() decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		b := units[0] >> 8
		a := int32(b & 0x0F)
		lit := int32(int8(b&0xF0) >> 4) // sign-extend nibble
		return Instruction{Kind: KindConst, Size: 1, A: a, Lit: int64(lit)}, nil
	}
}

// format21s: op vAA, #+BBBB (const/16, const-wide/16), 16-bit signed literal.
func format21s(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 2, offset); err != nil {
			return Instruction{}, err
		}
		a := int32(units[0] >> 8)
		lit := int32(int16(units[1]))
		return Instruction{Kind: kind, Size: 2, A: a, Lit: int64(lit)}, nil
	}
}

// format21h: op vAA, #+BBBB0000[00000000] (const/high16, const-wide/high16).
func format21h(kind Kind, wide bool) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 2, offset); err != nil {
			return Instruction{}, err
		}
		a := int32(units[0] >> 8)
		if wide {
			return Instruction{Kind: kind, Size: 2, A: a, Lit: int64(units[1]) << 48}, nil
		}
		return Instruction{Kind: kind, Size: 2, A: a, Lit: int64(int32(uint32(units[1]) << 16))}, nil
	}
}

// format31i: op vAA, #+BBBBBBBB (const, const-wide/32).
func format31i(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 3, offset); err != nil {
			return Instruction{}, err
		}
		a := int32(units[0] >> 8)
		lit := int32(uint32(units[1]) | uint32(units[2])<<16)
		return Instruction{Kind: kind, Size: 3, A: a, Lit: int64(lit)}, nil
	}
}

// format51l: op vAA, #+BBBBBBBBBBBBBBBB (const-wide), 64-bit literal.
func format51l() decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 5, offset); err != nil {
			return Instruction{}, err
		}
		a := int32(units[0] >> 8)
		lit := uint64(units[1]) | uint64(units[2])<<16 | uint64(units[3])<<32 | uint64(units[4])<<48
		return Instruction{Kind: KindConst, Size: 5, A: a, Lit: int64(lit)}, nil
	}
}

// format21c: op vAA, kind@BBBB (const-string, const-class, check-cast, sget*).
func format21c(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 2, offset); err != nil {
			return Instruction{}, err
		}
		a := int32(units[0] >> 8)
		return Instruction{Kind: kind, Size: 2, A: a, PoolIndex: uint32(units[1])}, nil
	}
}

// format31c: op vAA, string@BBBBBBBB (const-string/jumbo).
func format31c() decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 3, offset); err != nil {
			return Instruction{}, err
		}
		a := int32(units[0] >> 8)
		idx := uint32(units[1]) | uint32(units[2])<<16
		return Instruction{Kind: KindConstString, Size: 3, A: a, PoolIndex: idx}, nil
	}
}

// format22c: op vA, vB, kind@CCCC (instance-of, new-array, iget*/iput*).
func format22c(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 2, offset); err != nil {
			return Instruction{}, err
		}
		b := units[0] >> 8
		return Instruction{Kind: kind, Size: 2, A: int32(b & 0x0F), B: int32(b >> 4), PoolIndex: uint32(units[1])}, nil
	}
}

// format10t: op +AA (goto), 8-bit signed branch offset.
func format10t() decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		off := int32(int8(units[0] >> 8))
		return Instruction{Kind: KindGoto, Size: 1, BranchOffset: off}, nil
	}
}

// format20t: op +AAAA (goto/16), 16-bit signed branch offset.
func format20t() decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 2, offset); err != nil {
			return Instruction{}, err
		}
		return Instruction{Kind: KindGoto, Size: 2, BranchOffset: int32(int16(units[1]))}, nil
	}
}

// format30t: op +AAAAAAAA (goto/32), 32-bit signed branch offset.
func format30t() decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 3, offset); err != nil {
			return Instruction{}, err
		}
		off := int32(uint32(units[1]) | uint32(units[2])<<16)
		return Instruction{Kind: KindGoto, Size: 3, BranchOffset: off}, nil
	}
}

// format31t: op vAA, +BBBBBBBB (fill-array-data, packed-switch, sparse-switch).
func format31t(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 3, offset); err != nil {
			return Instruction{}, err
		}
		a := int32(units[0] >> 8)
		off := int32(uint32(units[1]) | uint32(units[2])<<16)
		return Instruction{Kind: kind, Size: 3, A: a, BranchOffset: off}, nil
	}
}

// format21t: op vAA, +BBBB (if-eqz etc.).
func format21t() decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 2, offset); err != nil {
			return Instruction{}, err
		}
		a := int32(units[0] >> 8)
		return Instruction{Kind: KindIfTestZ, Size: 2, A: a, BranchOffset: int32(int16(units[1]))}, nil
	}
}

// format22t: op vA, vB, +CCCC (if-eq etc.).
func format22t() decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 2, offset); err != nil {
			return Instruction{}, err
		}
		b := units[0] >> 8
		return Instruction{Kind: KindIfTest, Size: 2, A: int32(b & 0x0F), B: int32(b >> 4), BranchOffset: int32(int16(units[1]))}, nil
	}
}

// format23x: op vAA, vBB, vCC (cmp*, arrayop, binop).
func format23x(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 2, offset); err != nil {
			return Instruction{}, err
		}
		a := int32(units[0] >> 8)
		b := int32(units[1] & 0xFF)
		c := int32(units[1] >> 8)
		return Instruction{Kind: kind, Size: 2, A: a, B: b, C: c}, nil
	}
}

// format22s: op vA, vB, #+CCCC (binop/lit16).
func format22s() decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 2, offset); err != nil {
			return Instruction{}, err
		}
		b := units[0] >> 8
		return Instruction{Kind: KindBinaryOpLit, Size: 2, A: int32(b & 0x0F), B: int32(b >> 4), Lit: int64(int16(units[1]))}, nil
	}
}

// format22b: op vAA, vBB, #+CC (binop/lit8).
func format22b() decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 2, offset); err != nil {
			return Instruction{}, err
		}
		a := int32(units[0] >> 8)
		b := int32(units[1] & 0xFF)
		lit := int32(int8(units[1] >> 8))
		return Instruction{Kind: KindBinaryOpLit, Size: 2, A: a, B: b, Lit: int64(lit)}, nil
	}
}

// format35c: op {vC,vD,vE,vF,vG}, kind@BBBB (invoke-*, filled-new-array).
func format35c(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 3, offset); err != nil {
			return Instruction{}, err
		}
		argCount := int(units[0] >> 12)
		poolIdx := uint32(units[1])
		g := (units[0] >> 8) & 0x0F
		packed := units[2]
		regs := []int32{
			int32(packed & 0x0F), int32((packed >> 4) & 0x0F),
			int32((packed >> 8) & 0x0F), int32((packed >> 12) & 0x0F),
			int32(g),
		}
		return Instruction{Kind: kind, Size: 3, PoolIndex: poolIdx, ArgRegisters: regs[:argCount]}, nil
	}
}

// format3rc: op {vCCCC .. vNNNN}, kind@BBBB (invoke-*/range, filled-new-array/range).
func format3rc(kind Kind) decodeFunc {
	return func(units []uint16, offset int) (Instruction, error) {
		if err := need(units, 3, offset); err != nil {
			return Instruction{}, err
		}
		count := int(units[0] >> 8)
		poolIdx := uint32(units[1])
		first := int32(units[2])
		regs := make([]int32, count)
		for i := range regs {
			regs[i] = first + int32(i)
		}
		return Instruction{Kind: kind, Size: 3, PoolIndex: poolIdx, ArgRegisters: regs}, nil
	}
}
