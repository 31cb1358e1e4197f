package flow

import (
	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/vm"
)

// TryGetValue forcibly evaluates v: constants resolve immediately; a
// Variable wrapping a pure arithmetic chain is folded in place; a Variable
// wrapping a Transformation is handed to a fresh, reset vm.Machine so a
// built-in call such as Base64.decode can actually run and produce a
// concrete result. Returns ok=false when the chain bottoms
// out on something genuinely unknown (an argument, a field read, or a
// runtime method call with no built-in implementation).
func TryGetValue(v Value, dexes *dex.MultiDex) (Value, bool) {
	switch v.Kind {
	case ValNumber, ValBool, ValChar, ValByte, ValString, ValByteSeq:
		return v, true
	case ValVariable:
		if v.Call != nil {
			return evalTransformation(v.Call, dexes)
		}
		return foldArithmetic(v, dexes)
	default:
		return Value{}, false
	}
}

func foldArithmetic(v Value, dexes *dex.MultiDex) (Value, bool) {
	resolved := make([]Value, len(v.Operands))
	for i, op := range v.Operands {
		r, ok := TryGetValue(op, dexes)
		if !ok {
			return Value{}, false
		}
		resolved[i] = r
	}
	switch len(resolved) {
	case 1:
		return symbolicUnary(v.VarOp, resolved[0]), resolved[0].Kind == ValNumber
	case 2:
		if resolved[0].Kind == ValNumber && resolved[1].Kind == ValNumber {
			return NumberOf(applyOp(v.VarOp, resolved[0].Num, resolved[1].Num)), true
		}
		return Value{}, false
	default:
		return Value{}, false
	}
}

func evalTransformation(t *Transformation, dexes *dex.MultiDex) (Value, bool) {
	m := vm.NewMachine(dexes, 0xFFFFFFFF, 0, 0, 0)

	args := make([]vm.Register, 0, len(t.Args))
	for _, a := range t.Args {
		r, ok := TryGetValue(a, dexes)
		if !ok {
			return Value{}, false
		}
		reg, ok := valueToRegister(m, r)
		if !ok {
			return Value{}, false
		}
		args = append(args, reg)
	}

	ret, handled, err := m.Builtins.Dispatch(m, t.ClassName, t.Method, t.Shorty, args)
	if err != nil || !handled {
		return Value{}, false
	}
	return registerToValue(m, ret), true
}

func valueToRegister(m *vm.Machine, v Value) (vm.Register, bool) {
	switch v.Kind {
	case ValNumber, ValChar, ValByte:
		return vm.IntReg(int32(v.Num)), true
	case ValBool:
		if v.Num != 0 {
			return vm.IntReg(1), true
		}
		return vm.IntReg(0), true
	case ValString:
		reg, err := m.NewString(v.Str)
		if err != nil {
			return vm.Register{}, false
		}
		return reg, true
	case ValByteSeq:
		addr, err := m.Heap.AllocArray(v.Bytes)
		if err != nil {
			return vm.Register{}, false
		}
		return vm.RefReg("[B", addr), true
	default:
		return vm.Register{}, false
	}
}

func registerToValue(m *vm.Machine, r vm.Register) Value {
	switch r.Kind {
	case vm.RegInt:
		return NumberOf(int64(r.I32))
	case vm.RegWide:
		return NumberOf(r.I64)
	case vm.RegRef:
		if r.Type != "Ljava/lang/String;" {
			if obj, ok := m.Heap.Get(r.Addr); ok && obj.Array != nil {
				return ByteSeqOf(obj.Array)
			}
		}
		if s, ok := m.ReadString(r); ok {
			return StringOf(s)
		}
		if obj, ok := m.Heap.Get(r.Addr); ok && obj.Array != nil {
			return ByteSeqOf(obj.Array)
		}
		return OpaqueOf(r.Type)
	default:
		return Empty()
	}
}
